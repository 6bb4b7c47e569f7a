// Package format turns durations, times and station names into display text.
package format

import (
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/passbi/localtransport/internal/i18n"
	"github.com/passbi/localtransport/internal/models"
)

// Ellipsis is appended to truncated station names
const Ellipsis = "…"

// Humanize renders a duration the way a person would say it ("5 minutes", "an hour").
// With short set, minute and second units are abbreviated ("5 min").
func Humanize(tr *i18n.Translator, d time.Duration, short bool) string {
	secs := math.Abs(d.Seconds())
	seconds := math.Round(secs)
	minutes := math.Round(secs / 60)
	hours := math.Round(secs / 3600)
	days := math.Round(secs / 86400)
	months := math.Round(secs / 86400 / 30.436875)
	years := math.Round(secs / 86400 / 365.25)

	switch {
	case seconds < 45:
		if short {
			return tr.T(i18n.KeyFewSecondsShort)
		}
		return tr.T(i18n.KeyFewSeconds)
	case minutes <= 1:
		if short {
			return tr.T(i18n.KeyMinuteShort)
		}
		return tr.T(i18n.KeyMinute)
	case minutes < 45:
		if short {
			return tr.T(i18n.KeyMinutesShort, int(minutes))
		}
		return tr.T(i18n.KeyMinutes, int(minutes))
	case hours <= 1:
		return tr.T(i18n.KeyHour)
	case hours < 22:
		return tr.T(i18n.KeyHours, int(hours))
	case days <= 1:
		return tr.T(i18n.KeyDay)
	case days < 26:
		return tr.T(i18n.KeyDays, int(days))
	case months <= 1:
		return tr.T(i18n.KeyMonth)
	case months < 11:
		return tr.T(i18n.KeyMonths, int(months))
	case years <= 1:
		return tr.T(i18n.KeyYear)
	default:
		return tr.T(i18n.KeyYears, int(years))
	}
}

// Seconds is Humanize for a duration given in whole seconds
func Seconds(tr *i18n.Translator, seconds int64, short bool) string {
	return Humanize(tr, time.Duration(seconds)*time.Second, short)
}

// FromNow renders t relative to now ("in 5 minutes", "2 minutes ago")
func FromNow(tr *i18n.Translator, t, now time.Time) string {
	d := t.Sub(now)
	if d < 0 {
		return tr.T(i18n.KeyPast, Humanize(tr, d, false))
	}
	return tr.T(i18n.KeyFuture, Humanize(tr, d, false))
}

// Clock renders the time of day. timeFormat 24 gives "15:04", anything else "3:04".
func Clock(t time.Time, timeFormat int) string {
	if timeFormat == 24 {
		return t.Format("15:04")
	}
	return t.Format("3:04")
}

// Shorten cuts s to maxLength characters and appends an ellipsis when it was longer
func Shorten(s string, maxLength int) string {
	if maxLength <= 0 || utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	return string([]rune(s)[:maxLength]) + Ellipsis
}

// ShortenAddress keeps the part of an address before the first comma.
// Directions addresses carry city and country the viewer already knows.
func ShortenAddress(address string) string {
	if i := strings.Index(address, ","); i >= 0 {
		return address[:i]
	}
	return address
}

type stationMode int

const (
	stationOmit stationMode = iota
	stationFull
	stationTruncate
)

// StationDisplay controls whether and how station names are shown next to a step
type StationDisplay struct {
	mode   stationMode
	length int
}

// StationOmit hides station names
func StationOmit() StationDisplay { return StationDisplay{mode: stationOmit} }

// StationFull shows station names in full
func StationFull() StationDisplay { return StationDisplay{mode: stationFull} }

// StationTruncate shows at most n characters of station names
func StationTruncate(n int) StationDisplay {
	if n <= 0 {
		return StationFull()
	}
	return StationDisplay{mode: stationTruncate, length: n}
}

// StationLength maps the numeric display_station_length option:
// 0 shows the full name, n > 0 truncates to n characters, negative hides it.
func StationLength(n int) StationDisplay {
	switch {
	case n == 0:
		return StationFull()
	case n > 0:
		return StationTruncate(n)
	default:
		return StationOmit()
	}
}

// Apply returns the station label and whether it should be shown at all
func (s StationDisplay) Apply(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	switch s.mode {
	case stationFull:
		return name, true
	case stationTruncate:
		return Shorten(name, s.length), true
	default:
		return "", false
	}
}

// String describes the setting for logs
func (s StationDisplay) String() string {
	switch s.mode {
	case stationFull:
		return "full"
	case stationTruncate:
		return "truncate"
	default:
		return "omit"
	}
}

// WalkDisplay controls how walking steps are rendered
type WalkDisplay string

const (
	WalkShort WalkDisplay = "short"
	WalkLong  WalkDisplay = "long"
	WalkNone  WalkDisplay = "none"
)

// Enabled reports whether walking steps are shown
func (w WalkDisplay) Enabled() bool {
	return w != WalkNone
}

// Short reports whether durations use abbreviated units
func (w WalkDisplay) Short() bool {
	return w == WalkShort
}

// IconBase is where the Directions API hosts its generic transit icons
const IconBase = "https://maps.gstatic.com/mapfiles/transit/iw2/6/"

// Icon returns the symbol for one of the generic icons ("walk", "cycle", "drive", "rail")
func Icon(name string, showColor bool) models.Symbol {
	return models.Symbol{
		URL:        IconBase + name + ".png",
		Alt:        "[" + name + "]",
		Monochrome: !showColor,
	}
}
