// Package session drives one widget instance: it decides when to poll, applies
// responses to the main state machine and the alternatives tracker, and
// publishes the resulting view.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/passbi/localtransport/internal/alternatives"
	"github.com/passbi/localtransport/internal/calendar"
	"github.com/passbi/localtransport/internal/format"
	"github.com/passbi/localtransport/internal/i18n"
	"github.com/passbi/localtransport/internal/models"
	"github.com/passbi/localtransport/internal/routing"
)

// MinorInterval is the fixed cadence of display refreshes between polls
const MinorInterval = 15 * time.Second

// State of the main channel
type State int

const (
	Idle State = iota
	AwaitingMain
	Ready
	Degraded
)

func (s State) String() string {
	switch s {
	case AwaitingMain:
		return "awaiting_main"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	default:
		return "idle"
	}
}

// Bus hands requests to the transport. Issue must not block on the response.
type Bus interface {
	Issue(ctx context.Context, req models.RequestContext) error
}

// Notifier receives debug alerts
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Observer is told about polls, responses and the displayed list
type Observer interface {
	Poll(kind string)
	Response(channel models.Channel, status string)
	Rejected(n int)
	Displayed(n int)
}

type nopObserver struct{}

func (nopObserver) Poll(string) {}
func (nopObserver) Response(models.Channel, string) {}
func (nopObserver) Rejected(int) {}
func (nopObserver) Displayed(int) {}

// Options configures a controller
type Options struct {
	InstanceID     string
	Origin         string
	Destination    string
	UpdateInterval time.Duration
	UseCalendar    bool

	// side requests
	Walk  bool
	Cycle bool
	Drive bool

	Header         string
	DisplayArrival bool
	TimeFormat     int
	MaxEntries     int
	Fade           bool
	FadePoint      float64
	MaxWidth       int
	Ignore         models.StatusSet
	Debug          bool

	Location *time.Location
	Now      func() time.Time
}

// View is an immutable snapshot of what the widget shows
type View struct {
	Header           string               `json:"header"`
	Loaded           bool                 `json:"loaded"`
	IgnoredLastError bool                 `json:"ignored_last_error"`
	State            string               `json:"state"`
	Message          string               `json:"message,omitempty"`
	Destination      string               `json:"destination"`
	Items            []models.DisplayItem `json:"items"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// Controller owns all mutable state of one widget instance. Tick, HandleResponse
// and HandleCalendar must be called from a single goroutine (Run does this);
// View is safe to call from anywhere.
type Controller struct {
	opts      Options
	bus       Bus
	evaluator *routing.Evaluator
	tracker   *alternatives.Tracker
	tr        *i18n.Translator
	logger    *slog.Logger
	notifier  Notifier
	observer  Observer

	state            State
	loaded           bool
	ignoredLastError bool
	lastGood         *models.ApiResponse
	lastStatus       string
	itineraries      []models.Itinerary
	lastPoll         time.Time
	cycle            int64
	destination      string
	plannedHeader    string
	apiHeader        string

	view atomic.Pointer[View]
}

// NewController creates a controller in Idle state. notifier and observer may be nil.
func NewController(opts Options, bus Bus, evaluator *routing.Evaluator, tracker *alternatives.Tracker,
	tr *i18n.Translator, logger *slog.Logger, notifier Notifier, observer Observer) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.NewString()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	c := &Controller{
		opts:          opts,
		bus:           bus,
		evaluator:     evaluator,
		tracker:       tracker,
		tr:            tr,
		logger:        logger.With("instance", opts.InstanceID),
		notifier:      notifier,
		observer:      observer,
		destination:   opts.Destination,
		plannedHeader: format.ShortenAddress(opts.Destination),
	}
	c.refresh(opts.Now())
	return c
}

// InstanceID identifies this controller's requests and responses
func (c *Controller) InstanceID() string {
	return c.opts.InstanceID
}

// State returns the main channel state
func (c *Controller) State() State {
	return c.state
}

// View returns the latest published snapshot
func (c *Controller) View() *View {
	return c.view.Load()
}

// Tick polls when the update interval has elapsed since the last poll and
// otherwise only refreshes relative times
func (c *Controller) Tick(ctx context.Context, now time.Time) {
	if c.due(now) {
		c.poll(ctx, now, "full")
		return
	}

	c.observer.Poll("minor")
	c.notify(ctx, "normal update")
	c.refresh(now)
}

// due reports whether the update interval has elapsed since the last poll
func (c *Controller) due(now time.Time) bool {
	return c.lastPoll.IsZero() || now.Sub(c.lastPoll) >= c.opts.UpdateInterval
}

func (c *Controller) poll(ctx context.Context, now time.Time, kind string) {
	c.cycle++
	c.lastPoll = now
	c.state = AwaitingMain
	c.observer.Poll(kind)

	c.issue(ctx, models.ChannelMain, now)
	if c.opts.Walk {
		c.issue(ctx, models.ChannelWalk, now)
	}
	if c.opts.Cycle {
		c.issue(ctx, models.ChannelCycle, now)
	}
	if c.opts.Drive {
		c.issue(ctx, models.ChannelDrive, now)
	}

	c.notify(ctx, "special update")
	c.refresh(now)
}

func (c *Controller) issue(ctx context.Context, ch models.Channel, now time.Time) {
	req := models.RequestContext{
		InstanceID:  c.opts.InstanceID,
		RequestID:   uuid.NewString(),
		Cycle:       c.cycle,
		Channel:     ch,
		Mode:        ch.Mode(),
		Origin:      c.opts.Origin,
		Destination: c.destination,
		IssuedAt:    now,
	}
	if err := c.bus.Issue(ctx, req); err != nil {
		c.logger.Warn("failed to issue request", "channel", ch, "request_id", req.RequestID, "error", err)
		return
	}
	c.logger.Debug("requested", "channel", ch, "request_id", req.RequestID, "cycle", c.cycle)
}

// HandleResponse applies one response. Responses of other instances are ignored;
// for each channel the response that arrives last wins.
func (c *Controller) HandleResponse(ctx context.Context, env models.Envelope) {
	if env.InstanceID != c.opts.InstanceID {
		return
	}

	status := ""
	if env.Response != nil {
		status = env.Response.Status
	}
	c.observer.Response(env.Channel, status)

	switch env.Channel {
	case models.ChannelMain:
		c.handleMain(env)
	case models.ChannelWalk, models.ChannelCycle, models.ChannelDrive:
		c.tracker.Record(alternatives.SlotFor(env.Channel), env.Channel, env.Response)
	default:
		c.logger.Warn("response on unknown channel", "channel", env.Channel, "request_id", env.RequestID)
		return
	}
	c.refresh(c.opts.Now())
}

func (c *Controller) handleMain(env models.Envelope) {
	resp := env.Response
	logger := c.logger.With("channel", env.Channel, "request_id", env.RequestID)

	switch {
	case resp == nil:
		logger.Info("main response without payload")
		c.loaded = false
		c.ignoredLastError = false
		c.state = Degraded

	case resp.Status == models.StatusOK:
		logger.Debug("main response", "status", resp.Status, "routes", len(resp.Routes))
		c.lastGood = resp
		c.lastStatus = resp.Status
		c.loaded = true
		c.ignoredLastError = false
		c.state = Ready
		c.plannedHeader = format.ShortenAddress(c.destination)
		c.itineraries = c.evaluator.EvaluateAll(resp.Routes)
		c.observer.Rejected(countRejected(c.itineraries))
		c.tracker.Record(alternatives.SlotTransit, env.Channel, resp)

	case c.lastGood != nil && c.opts.Ignore.Contains(resp.Status):
		logger.Info("main response ignored", "status", resp.Status)
		c.loaded = true
		c.ignoredLastError = true
		c.state = Ready

	default:
		logger.Warn("main response failed", "status", resp.Status, "error_message", resp.ErrorMessage)
		c.lastStatus = resp.Status
		c.loaded = false
		c.ignoredLastError = false
		c.state = Degraded
	}
}

// HandleCalendar redirects the route to the next upcoming event's location when it
// starts within a day. It polls at once only when the destination changed or a poll
// is due; otherwise the next scheduled poll uses it. Without such an event the
// configured destination is restored.
func (c *Controller) HandleCalendar(ctx context.Context, events []models.CalendarEvent, now time.Time) {
	if !c.opts.UseCalendar {
		return
	}

	if dest, ok := calendar.Destination(events, now); ok {
		changed := dest != c.destination
		c.destination = dest
		if changed || c.due(now) {
			c.logger.Info("destination taken from calendar", "destination", dest)
			c.poll(ctx, now, "calendar")
		}
	} else {
		c.destination = c.opts.Destination
	}
	c.notify(ctx, "calendar update")
}

// Destination returns the destination the next request will use
func (c *Controller) Destination() string {
	return c.destination
}

// Run ticks immediately and then every MinorInterval, applying responses and
// calendar updates as they arrive, until ctx is done
func (c *Controller) Run(ctx context.Context, responses <-chan models.Envelope, events <-chan []models.CalendarEvent) error {
	ticker := time.NewTicker(MinorInterval)
	defer ticker.Stop()

	c.Tick(ctx, c.opts.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Tick(ctx, c.opts.Now())
		case env, ok := <-responses:
			if !ok {
				responses = nil
				continue
			}
			c.HandleResponse(ctx, env)
		case evs, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.HandleCalendar(ctx, evs, c.opts.Now())
		}
	}
}

func (c *Controller) notify(ctx context.Context, message string) {
	if c.opts.Debug && c.notifier != nil {
		c.notifier.Notify(ctx, message)
	}
}

// refresh recomputes and publishes the view
func (c *Controller) refresh(now time.Time) {
	v := &View{
		Loaded:           c.loaded,
		IgnoredLastError: c.ignoredLastError,
		State:            c.state.String(),
		Destination:      c.destination,
		UpdatedAt:        now,
	}

	c.apiHeader = c.plannedHeader
	if c.loaded && c.lastGood != nil {
		if dest := lastEndAddress(c.lastGood); dest != "" {
			c.apiHeader = format.ShortenAddress(dest)
		}
		var summary *models.DisplayItem
		if c.tracker.AnyEnabled() {
			summary = c.tracker.SummaryItem()
			summary.MaxWidth = c.opts.MaxWidth
		}
		v.Items = routing.Rank(c.itineraries, routing.RankOptions{
			MaxEntries: c.opts.MaxEntries,
			Fade:       c.opts.Fade,
			FadePoint:  c.opts.FadePoint,
		}, func(it models.Itinerary) models.DisplayItem {
			return c.render(it, now)
		}, summary)
	} else {
		v.Message = c.tr.T(i18n.KeyLoading)
		if c.lastStatus != "" && c.lastStatus != models.StatusOK {
			v.Message = c.tr.T(c.lastStatus)
		}
	}
	if v.Items == nil {
		v.Items = []models.DisplayItem{}
	}
	v.Header = c.header()

	c.observer.Displayed(len(v.Items))
	c.view.Store(v)
}

func (c *Controller) render(it models.Itinerary, now time.Time) models.DisplayItem {
	item := models.DisplayItem{MaxWidth: c.opts.MaxWidth}
	for _, leg := range it.Legs {
		header := format.FromNow(c.tr, time.UnixMilli(leg.DepartureEpochMs), now)
		if c.opts.DisplayArrival {
			arrival := time.UnixMilli(leg.ArrivalEpochMs).In(c.opts.Location)
			header += " (" + c.tr.T(i18n.KeyArrival) + ": " + format.Clock(arrival, c.opts.TimeFormat) + ")"
		}
		item.Legs = append(item.Legs, models.DisplayLeg{Header: header, Steps: leg.Steps})
	}
	return item
}

// header fills the header template. %{dest} is the planned destination unless the
// last error was ignored, in which case the shown routes lead to the API's destination.
func (c *Controller) header() string {
	dest := c.plannedHeader
	if c.ignoredLastError {
		dest = c.apiHeader
	}
	return strings.NewReplacer(
		"%{destX}", c.apiHeader,
		"%{dest}", dest,
		"%{orig}", format.ShortenAddress(c.opts.Origin),
	).Replace(c.opts.Header)
}

func lastEndAddress(resp *models.ApiResponse) string {
	if len(resp.Routes) == 0 {
		return ""
	}
	legs := resp.Routes[len(resp.Routes)-1].Legs
	if len(legs) == 0 {
		return ""
	}
	return legs[len(legs)-1].EndAddress
}

func countRejected(its []models.Itinerary) int {
	n := 0
	for _, it := range its {
		if it.Rejected {
			n++
		}
	}
	return n
}
