package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/passbi/localtransport/internal/models"
)

// Querier is the part of pgxpool.Pool the store needs
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store reads events from the calendar_events table
type Store struct {
	db    Querier
	limit int
}

// NewStore creates a store returning at most limit events per query
func NewStore(db Querier, limit int) *Store {
	return &Store{db: db, limit: limit}
}

type eventRow struct {
	Title     string
	Location  *string
	StartDate time.Time
}

// Upcoming returns events that have not started yet, earliest first
func (s *Store) Upcoming(ctx context.Context, now time.Time) ([]models.CalendarEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT title, location, start_date
		FROM calendar_events
		WHERE start_date >= $1
		ORDER BY start_date
		LIMIT $2`, now, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar events: %w", err)
	}

	records, err := pgx.CollectRows(rows, pgx.RowToStructByPos[eventRow])
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar events: %w", err)
	}

	events := make([]models.CalendarEvent, 0, len(records))
	for _, r := range records {
		ev := models.CalendarEvent{Title: r.Title, StartDate: r.StartDate.UnixMilli()}
		if r.Location != nil {
			ev.Location = models.EventLocation(*r.Location)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Source supplies the current event list
type Source interface {
	Upcoming(ctx context.Context, now time.Time) ([]models.CalendarEvent, error)
}

// Poller reads a Source on a fixed interval and forwards every event list
type Poller struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewPoller creates a poller
func NewPoller(source Source, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{source: source, interval: interval, logger: logger, now: time.Now}
}

// Run polls immediately and then every interval until ctx is done.
// Failed reads are logged and skipped.
func (p *Poller) Run(ctx context.Context, out chan<- []models.CalendarEvent) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		events, err := p.source.Upcoming(ctx, p.now())
		if err != nil {
			p.logger.Warn("calendar poll failed", "error", err)
		} else {
			p.logger.Debug("calendar polled", "events", len(events))
			select {
			case out <- events:
			case <-ctx.Done():
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
