package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/passbi/localtransport/internal/models"
)

// ParseFeed decodes a calendar feed: a JSON array of events
func ParseFeed(r io.Reader) ([]models.CalendarEvent, error) {
	var events []models.CalendarEvent
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return nil, fmt.Errorf("failed to parse calendar feed: %w", err)
	}
	for i, ev := range events {
		if ev.StartDate <= 0 {
			return nil, fmt.Errorf("event %d (%q): missing startDate", i, ev.Title)
		}
	}
	return events, nil
}

// copyRows converts events into calendar_events rows. An empty location is stored as NULL.
func copyRows(events []models.CalendarEvent) [][]any {
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		var location *string
		if ev.Location != "" {
			loc := string(ev.Location)
			location = &loc
		}
		rows = append(rows, []any{ev.Title, location, ev.Start().UTC()})
	}
	return rows
}

// Import writes events in one transaction. With replace, events starting at or
// after from are deleted first so the feed becomes the new future.
func Import(ctx context.Context, tx pgx.Tx, events []models.CalendarEvent, replace bool, from time.Time) (int64, error) {
	if replace {
		if _, err := tx.Exec(ctx, `DELETE FROM calendar_events WHERE start_date >= $1`, from); err != nil {
			return 0, fmt.Errorf("failed to clear upcoming events: %w", err)
		}
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"calendar_events"},
		[]string{"title", "location", "start_date"},
		pgx.CopyFromRows(copyRows(events)),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to copy calendar events: %w", err)
	}
	return n, nil
}
