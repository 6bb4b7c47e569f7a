// Package calendar supplies upcoming events whose location can replace the
// configured destination.
package calendar

import (
	"time"

	"github.com/passbi/localtransport/internal/models"
)

// OverrideWindow is how far ahead an event may start and still redirect the route
const OverrideWindow = 24 * time.Hour

// NextUpcoming returns the first event, in feed order, that has a location and
// has not started yet
func NextUpcoming(events []models.CalendarEvent, now time.Time) (models.CalendarEvent, bool) {
	for _, ev := range events {
		if ev.Location == "" {
			continue
		}
		if ev.Start().Before(now) {
			continue
		}
		return ev, true
	}
	return models.CalendarEvent{}, false
}

// Destination returns the location to route to, if the next upcoming event
// starts within OverrideWindow of now
func Destination(events []models.CalendarEvent, now time.Time) (string, bool) {
	ev, ok := NextUpcoming(events, now)
	if !ok {
		return "", false
	}
	if ev.Start().Sub(now) > OverrideWindow {
		return "", false
	}
	return string(ev.Location), true
}
