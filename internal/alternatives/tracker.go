// Package alternatives keeps the last known travel time of each alternative mode
// and renders them as one summary row.
package alternatives

import (
	"log/slog"

	"github.com/passbi/localtransport/internal/format"
	"github.com/passbi/localtransport/internal/i18n"
	"github.com/passbi/localtransport/internal/models"
)

// Slot is one alternative-mode value. Slots are rendered in declaration order.
type Slot int

const (
	SlotWalk Slot = iota
	SlotCycle
	SlotTransit
	SlotDrive
	slotCount
)

var slotIcons = [slotCount]string{
	SlotWalk:    "walk",
	SlotCycle:   "cycle",
	SlotTransit: "rail",
	SlotDrive:   "drive",
}

// SlotFor maps a response channel to the slot it fills
func SlotFor(ch models.Channel) Slot {
	switch ch {
	case models.ChannelWalk:
		return SlotWalk
	case models.ChannelCycle:
		return SlotCycle
	case models.ChannelDrive:
		return SlotDrive
	default:
		return SlotTransit
	}
}

// State of a slot
type State int

const (
	Pending State = iota // nothing received yet
	Unknown              // last response carried no usable duration
	Known
)

// Value is the content of a slot
type Value struct {
	State   State
	Seconds int64
}

// Options selects which slots are shown
type Options struct {
	Walk      bool
	Cycle     bool
	Transit   bool
	Drive     bool
	ShowColor bool
	Short     bool
	Ignore    models.StatusSet
}

// Tracker holds one value per alternative mode. It is owned by the session
// goroutine and not safe for concurrent use.
type Tracker struct {
	opts    Options
	enabled [slotCount]bool
	values  [slotCount]Value
	tr      *i18n.Translator
	logger  *slog.Logger
}

// NewTracker creates a tracker with every slot pending
func NewTracker(opts Options, tr *i18n.Translator, logger *slog.Logger) *Tracker {
	t := &Tracker{opts: opts, tr: tr, logger: logger}
	t.enabled[SlotWalk] = opts.Walk
	t.enabled[SlotCycle] = opts.Cycle
	t.enabled[SlotTransit] = opts.Transit
	t.enabled[SlotDrive] = opts.Drive
	return t
}

// Enabled reports whether slot is shown in the summary
func (t *Tracker) Enabled(slot Slot) bool {
	return t.enabled[slot]
}

// AnyEnabled reports whether the summary row is shown at all
func (t *Tracker) AnyEnabled() bool {
	for _, on := range t.enabled {
		if on {
			return true
		}
	}
	return false
}

// Value returns the current content of slot
func (t *Tracker) Value(slot Slot) Value {
	return t.values[slot]
}

// Record stores the duration of the first leg of the first route.
// The API lists the best option first, so other routes are not compared.
func (t *Tracker) Record(slot Slot, channel models.Channel, resp *models.ApiResponse) {
	if resp == nil {
		t.values[slot] = Value{State: Unknown}
		t.logger.Info("alternative response without payload", "channel", channel)
		return
	}

	if resp.Status != models.StatusOK {
		t.values[slot] = Value{State: Unknown}
		if t.opts.Ignore.Contains(resp.Status) {
			t.logger.Info("alternative response ignored", "channel", channel, "status", resp.Status)
		} else {
			t.logger.Warn("alternative response failed", "channel", channel, "status", resp.Status)
		}
		return
	}

	if len(resp.Routes) == 0 || len(resp.Routes[0].Legs) == 0 || resp.Routes[0].Legs[0].Duration == nil {
		t.values[slot] = Value{State: Unknown}
		t.logger.Warn("alternative response has no leg duration", "channel", channel)
		return
	}

	t.values[slot] = Value{State: Known, Seconds: resp.Routes[0].Legs[0].Duration.Value}
}

// Summary renders one fragment per enabled slot, in the order walk, cycle, transit, drive.
// It returns nil when no slot is enabled.
func (t *Tracker) Summary() []models.StepFragment {
	var out []models.StepFragment
	for slot := Slot(0); slot < slotCount; slot++ {
		if !t.enabled[slot] {
			continue
		}
		label := t.tr.T(i18n.KeyNotAvailable)
		if v := t.values[slot]; v.State == Known {
			label = format.Seconds(t.tr, v.Seconds, t.opts.Short)
		}
		out = append(out, models.StepFragment{
			Kind:   models.FragmentMode,
			Symbol: format.Icon(slotIcons[slot], t.opts.ShowColor),
			Label:  label,
			Text:   label,
		})
	}
	return out
}

// SummaryItem wraps Summary into a display row, or returns nil when nothing is enabled
func (t *Tracker) SummaryItem() *models.DisplayItem {
	content := t.Summary()
	if len(content) == 0 {
		return nil
	}
	return &models.DisplayItem{
		Kind:    models.ItemAlternatives,
		SortKey: models.SortKeyLast,
		Label:   t.tr.T(i18n.KeyAlternatives) + ":",
		Content: content,
	}
}
