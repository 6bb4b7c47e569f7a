package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/passbi/localtransport/internal/alternatives"
	"github.com/passbi/localtransport/internal/format"
	"github.com/passbi/localtransport/internal/i18n"
	"github.com/passbi/localtransport/internal/models"
	"github.com/passbi/localtransport/internal/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeBus struct {
	mu       sync.Mutex
	requests []models.RequestContext
	err      error
}

func (b *fakeBus) Issue(_ context.Context, req models.RequestContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.requests = append(b.requests, req)
	return nil
}

func (b *fakeBus) sent() []models.RequestContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.RequestContext(nil), b.requests...)
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) Notify(_ context.Context, message string) {
	n.messages = append(n.messages, message)
}

type countingObserver struct {
	polls     map[string]int
	responses int
	rejected  int
	displayed int
}

func (o *countingObserver) Poll(kind string) {
	if o.polls == nil {
		o.polls = map[string]int{}
	}
	o.polls[kind]++
}

func (o *countingObserver) Response(models.Channel, string) { o.responses++ }

func (o *countingObserver) Rejected(n int) { o.rejected += n }

func (o *countingObserver) Displayed(n int) { o.displayed = n }

type fixture struct {
	ctl      *Controller
	bus      *fakeBus
	notifier *fakeNotifier
	observer *countingObserver
}

func newFixture(t *testing.T, mutate func(*Options, *alternatives.Options)) *fixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tr := i18n.New("en")
	ignore := models.NewStatusSet(models.StatusOK, models.StatusOverQueryLimit, models.StatusUnknownError)

	opts := Options{
		InstanceID:     "widget-1",
		Origin:         "Zoo, 10787 Berlin, Germany",
		Destination:    "Alexanderplatz, 10178 Berlin, Germany",
		UpdateInterval: 5 * time.Minute,
		Header:         "%{orig} to %{dest}",
		DisplayArrival: true,
		TimeFormat:     24,
		MaxEntries:     3,
		Fade:           true,
		FadePoint:      0.1,
		Ignore:         ignore,
		Location:       time.UTC,
		Now:            func() time.Time { return testNow },
	}
	altOpts := alternatives.Options{Ignore: ignore}
	if mutate != nil {
		mutate(&opts, &altOpts)
	}

	evaluator := routing.NewEvaluator(routing.EvaluatorOptions{
		MaxWalkTime: 10 * time.Minute,
		Walk:        format.WalkLong,
		Stations:    format.StationFull(),
	}, tr, logger)
	tracker := alternatives.NewTracker(altOpts, tr, logger)

	f := &fixture{bus: &fakeBus{}, notifier: &fakeNotifier{}, observer: &countingObserver{}}
	f.ctl = NewController(opts, f.bus, evaluator, tracker, tr, logger, f.notifier, f.observer)
	return f
}

func (f *fixture) respond(ch models.Channel, resp *models.ApiResponse) {
	f.ctl.HandleResponse(context.Background(), models.Envelope{
		InstanceID: f.ctl.InstanceID(),
		RequestID:  "req",
		Channel:    ch,
		Response:   resp,
	})
}

func transitRoute(depIn, arrIn time.Duration, walkSecs int64) models.RawRoute {
	dep := testNow.Add(depIn).Unix()
	arr := testNow.Add(arrIn).Unix()
	return models.RawRoute{Legs: []models.RawLeg{{
		DepartureTime: &models.ValueText{Value: dep},
		ArrivalTime:   &models.ValueText{Value: arr},
		Duration:      &models.ValueText{Value: arr - dep},
		EndAddress:    "Alexanderplatz, 10178 Berlin, Germany",
		Steps: []models.RawStep{
			{TravelMode: models.StepTravelModeWalking, Duration: &models.ValueText{Value: walkSecs}},
			{
				TravelMode: "TRANSIT",
				TransitDetails: &models.TransitDetails{
					Line:          &models.TransitLine{ShortName: "U2", Vehicle: &models.Vehicle{Name: "Subway"}},
					DepartureStop: &models.NamedStop{Name: "Zoologischer Garten"},
					ArrivalStop:   &models.NamedStop{Name: "Alexanderplatz"},
				},
			},
		},
	}}}
}

func okMain(routes ...models.RawRoute) *models.ApiResponse {
	return &models.ApiResponse{Status: models.StatusOK, Routes: routes}
}

func TestInitialView(t *testing.T) {
	f := newFixture(t, nil)
	v := f.ctl.View()
	require.NotNil(t, v)
	assert.False(t, v.Loaded)
	assert.Equal(t, "Loading connections ...", v.Message)
	assert.Equal(t, "idle", v.State)
	assert.Empty(t, v.Items)
	assert.Equal(t, "Zoo to Alexanderplatz", v.Header)
}

func TestTick(t *testing.T) {
	t.Run("First tick polls main and enabled side modes", func(t *testing.T) {
		f := newFixture(t, func(o *Options, _ *alternatives.Options) {
			o.Walk = true
			o.Drive = true
		})
		f.ctl.Tick(context.Background(), testNow)

		reqs := f.bus.sent()
		require.Len(t, reqs, 3)
		assert.Equal(t, models.ChannelMain, reqs[0].Channel)
		assert.Equal(t, models.ModeTransit, reqs[0].Mode)
		assert.Equal(t, models.ChannelWalk, reqs[1].Channel)
		assert.Equal(t, models.ModeWalking, reqs[1].Mode)
		assert.Equal(t, models.ChannelDrive, reqs[2].Channel)
		assert.Equal(t, models.ModeDriving, reqs[2].Mode)
		for _, r := range reqs {
			assert.Equal(t, "widget-1", r.InstanceID)
			assert.Equal(t, int64(1), r.Cycle)
			assert.NotEmpty(t, r.RequestID)
		}
		assert.NotEqual(t, reqs[0].RequestID, reqs[1].RequestID)
		assert.Equal(t, AwaitingMain, f.ctl.State())
	})

	t.Run("Minor ticks issue nothing", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ctl.Tick(context.Background(), testNow)
		f.ctl.Tick(context.Background(), testNow.Add(15*time.Second))
		f.ctl.Tick(context.Background(), testNow.Add(4*time.Minute))
		assert.Len(t, f.bus.sent(), 1)
		assert.Equal(t, 2, f.observer.polls["minor"])
	})

	t.Run("Polls again once the interval elapsed", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ctl.Tick(context.Background(), testNow)
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 120)))
		require.Equal(t, Ready, f.ctl.State())

		f.ctl.Tick(context.Background(), testNow.Add(5*time.Minute))
		reqs := f.bus.sent()
		require.Len(t, reqs, 2)
		assert.Equal(t, int64(2), reqs[1].Cycle)
		assert.Equal(t, AwaitingMain, f.ctl.State())
		assert.True(t, f.ctl.View().Loaded)
	})

	t.Run("Bus failures are not fatal", func(t *testing.T) {
		f := newFixture(t, nil)
		f.bus.err = errors.New("nats: connection closed")
		f.ctl.Tick(context.Background(), testNow)
		assert.Equal(t, AwaitingMain, f.ctl.State())
	})
}

func TestMainResponses(t *testing.T) {
	t.Run("Routes with a long walk are dropped", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ctl.Tick(context.Background(), testNow)
		f.respond(models.ChannelMain, okMain(
			transitRoute(5*time.Minute, 30*time.Minute, 20*60),
			transitRoute(10*time.Minute, 40*time.Minute, 120),
		))

		v := f.ctl.View()
		assert.True(t, v.Loaded)
		assert.Equal(t, "ready", v.State)
		require.Len(t, v.Items, 1)
		assert.Equal(t, testNow.Add(40*time.Minute).UnixMilli(), v.Items[0].SortKey)
		assert.Equal(t, 1, f.observer.rejected)
	})

	t.Run("All routes rejected leaves an empty loaded list", func(t *testing.T) {
		f := newFixture(t, nil)
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 20*60)))
		v := f.ctl.View()
		assert.True(t, v.Loaded)
		assert.Empty(t, v.Items)
		assert.Empty(t, v.Message)
	})

	t.Run("Items are sorted by arrival and capped", func(t *testing.T) {
		f := newFixture(t, func(o *Options, _ *alternatives.Options) { o.MaxEntries = 2 })
		f.respond(models.ChannelMain, okMain(
			transitRoute(20*time.Minute, 50*time.Minute, 60),
			transitRoute(5*time.Minute, 30*time.Minute, 60),
			transitRoute(10*time.Minute, 40*time.Minute, 60),
		))
		v := f.ctl.View()
		require.Len(t, v.Items, 2)
		assert.Less(t, v.Items[0].SortKey, v.Items[1].SortKey)
		assert.Equal(t, 2, f.observer.displayed)
	})

	t.Run("Leg header shows departure and arrival", func(t *testing.T) {
		f := newFixture(t, nil)
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		legs := f.ctl.View().Items[0].Legs
		require.Len(t, legs, 1)
		assert.Equal(t, "in 5 minutes (Arrival: 08:30)", legs[0].Header)
		require.Len(t, legs[0].Steps, 2)
		assert.Equal(t, "a minute", legs[0].Steps[0].Text)
		assert.Equal(t, "U2 (from Zoologischer Garten)", legs[0].Steps[1].Text)
	})

	t.Run("Minor tick keeps relative times current", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ctl.Tick(context.Background(), testNow)
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		f.ctl.Tick(context.Background(), testNow.Add(3*time.Minute))
		assert.Equal(t, "in 2 minutes (Arrival: 08:30)", f.ctl.View().Items[0].Legs[0].Header)
	})

	t.Run("Ignorable error with prior data keeps the display", func(t *testing.T) {
		f := newFixture(t, nil)
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		before := f.ctl.View().Items

		f.respond(models.ChannelMain, &models.ApiResponse{Status: models.StatusOverQueryLimit})
		v := f.ctl.View()
		assert.True(t, v.Loaded)
		assert.True(t, v.IgnoredLastError)
		assert.Equal(t, Ready, f.ctl.State())
		assert.Equal(t, before, v.Items)
	})

	t.Run("Ignorable error without prior data degrades", func(t *testing.T) {
		f := newFixture(t, nil)
		f.respond(models.ChannelMain, &models.ApiResponse{Status: models.StatusOverQueryLimit})
		v := f.ctl.View()
		assert.False(t, v.Loaded)
		assert.Equal(t, Degraded, f.ctl.State())
		assert.Equal(t, "Query limit exceeded", v.Message)
	})

	t.Run("Fatal error surfaces the status text", func(t *testing.T) {
		f := newFixture(t, nil)
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		f.respond(models.ChannelMain, &models.ApiResponse{Status: models.StatusNotFound})

		v := f.ctl.View()
		assert.False(t, v.Loaded)
		assert.False(t, v.IgnoredLastError)
		assert.Equal(t, "degraded", v.State)
		assert.Equal(t, "Origin or destination could not be found", v.Message)
		assert.Empty(t, v.Items)
	})

	t.Run("Good data survives a fatal error", func(t *testing.T) {
		f := newFixture(t, nil)
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		f.respond(models.ChannelMain, &models.ApiResponse{Status: models.StatusNotFound})
		f.respond(models.ChannelMain, &models.ApiResponse{Status: models.StatusUnknownError})

		v := f.ctl.View()
		assert.True(t, v.Loaded)
		assert.True(t, v.IgnoredLastError)
		assert.Len(t, v.Items, 1)
	})

	t.Run("Missing payload", func(t *testing.T) {
		f := newFixture(t, nil)
		f.respond(models.ChannelMain, nil)
		v := f.ctl.View()
		assert.False(t, v.Loaded)
		assert.Equal(t, Degraded, f.ctl.State())
		assert.Equal(t, "Loading connections ...", v.Message)
	})

	t.Run("Responses for other instances are ignored", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ctl.HandleResponse(context.Background(), models.Envelope{
			InstanceID: "someone-else",
			Channel:    models.ChannelMain,
			Response:   okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)),
		})
		assert.False(t, f.ctl.View().Loaded)
		assert.Equal(t, 0, f.observer.responses)
	})

	t.Run("Last response wins", func(t *testing.T) {
		f := newFixture(t, nil)
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		f.respond(models.ChannelMain, okMain(
			transitRoute(5*time.Minute, 30*time.Minute, 60),
			transitRoute(6*time.Minute, 31*time.Minute, 60),
		))
		assert.Len(t, f.ctl.View().Items, 2)
	})
}

func TestAlternatives(t *testing.T) {
	t.Run("Walk duration shows in the summary row", func(t *testing.T) {
		f := newFixture(t, func(o *Options, a *alternatives.Options) {
			o.Walk = true
			a.Walk = true
		})
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		f.respond(models.ChannelWalk, &models.ApiResponse{
			Status: models.StatusOK,
			Routes: []models.RawRoute{{Legs: []models.RawLeg{{Duration: &models.ValueText{Value: 300}}}}},
		})

		v := f.ctl.View()
		require.Len(t, v.Items, 2)
		last := v.Items[1]
		assert.Equal(t, models.ItemAlternatives, last.Kind)
		require.Len(t, last.Content, 1)
		assert.Equal(t, "5 minutes", last.Content[0].Label)
	})

	t.Run("Summary row is last and list stays bounded", func(t *testing.T) {
		f := newFixture(t, func(o *Options, a *alternatives.Options) {
			o.MaxEntries = 1
			a.Drive = true
		})
		f.respond(models.ChannelMain, okMain(
			transitRoute(5*time.Minute, 30*time.Minute, 60),
			transitRoute(6*time.Minute, 20*time.Minute, 60),
		))
		v := f.ctl.View()
		require.Len(t, v.Items, 2)
		assert.Equal(t, models.ItemAlternatives, v.Items[1].Kind)
		assert.LessOrEqual(t, v.Items[1].Opacity, v.Items[0].Opacity)
	})

	t.Run("Transit summary comes from the main response", func(t *testing.T) {
		f := newFixture(t, func(_ *Options, a *alternatives.Options) { a.Transit = true })
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		v := f.ctl.View()
		require.Len(t, v.Items, 2)
		assert.Equal(t, "25 minutes", v.Items[1].Content[0].Label)
	})

	t.Run("Side errors leave the main state alone", func(t *testing.T) {
		f := newFixture(t, func(o *Options, a *alternatives.Options) {
			o.Cycle = true
			a.Cycle = true
		})
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		f.respond(models.ChannelCycle, &models.ApiResponse{Status: models.StatusRequestDenied})
		f.respond(models.ChannelCycle, nil)

		v := f.ctl.View()
		assert.True(t, v.Loaded)
		assert.Equal(t, Ready, f.ctl.State())
		assert.Equal(t, "n/a", v.Items[1].Content[0].Label)
	})

	t.Run("Side response before any main response", func(t *testing.T) {
		f := newFixture(t, func(_ *Options, a *alternatives.Options) { a.Walk = true })
		f.respond(models.ChannelWalk, &models.ApiResponse{Status: models.StatusZeroResults})
		assert.Equal(t, Idle, f.ctl.State())
		assert.False(t, f.ctl.View().Loaded)
	})
}

func TestCalendar(t *testing.T) {
	event := func(location string, in time.Duration) models.CalendarEvent {
		return models.CalendarEvent{Location: models.EventLocation(location), StartDate: testNow.Add(in).UnixMilli()}
	}

	t.Run("Event within a day overrides the destination and polls", func(t *testing.T) {
		f := newFixture(t, func(o *Options, _ *alternatives.Options) { o.UseCalendar = true })
		f.ctl.Tick(context.Background(), testNow)

		f.ctl.HandleCalendar(context.Background(), []models.CalendarEvent{event("Gym, Berlin", 2*time.Hour)}, testNow.Add(time.Minute))
		reqs := f.bus.sent()
		require.Len(t, reqs, 2)
		assert.Equal(t, "Gym, Berlin", reqs[1].Destination)
		assert.Equal(t, "Gym, Berlin", f.ctl.Destination())
		assert.Equal(t, 1, f.observer.polls["calendar"])

		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		assert.Equal(t, "Zoo to Gym", f.ctl.View().Header)
	})

	t.Run("Repeated feed does not poll before the interval", func(t *testing.T) {
		f := newFixture(t, func(o *Options, _ *alternatives.Options) { o.UseCalendar = true })
		f.ctl.Tick(context.Background(), testNow)
		require.Len(t, f.bus.sent(), 1)

		feed := []models.CalendarEvent{event("Gym, Berlin", 2*time.Hour)}
		for i := 1; i <= 4; i++ {
			f.ctl.HandleCalendar(context.Background(), feed, testNow.Add(time.Duration(i)*time.Minute))
		}
		assert.Len(t, f.bus.sent(), 2)
		assert.Equal(t, 1, f.observer.polls["calendar"])

		f.ctl.HandleCalendar(context.Background(), feed, testNow.Add(6*time.Minute))
		reqs := f.bus.sent()
		require.Len(t, reqs, 3)
		assert.Equal(t, "Gym, Berlin", reqs[2].Destination)
	})

	t.Run("Same destination waits for the next tick", func(t *testing.T) {
		f := newFixture(t, func(o *Options, _ *alternatives.Options) {
			o.UseCalendar = true
			o.Destination = "Gym, Berlin"
		})
		f.ctl.Tick(context.Background(), testNow)
		f.ctl.HandleCalendar(context.Background(), []models.CalendarEvent{event("Gym, Berlin", time.Hour)}, testNow.Add(time.Minute))
		assert.Len(t, f.bus.sent(), 1)
		assert.Equal(t, "Gym, Berlin", f.ctl.Destination())
	})

	t.Run("Event three days out restores the default", func(t *testing.T) {
		f := newFixture(t, func(o *Options, _ *alternatives.Options) { o.UseCalendar = true })
		f.ctl.HandleCalendar(context.Background(), []models.CalendarEvent{event("Gym", 2*time.Hour)}, testNow)
		f.ctl.HandleCalendar(context.Background(), []models.CalendarEvent{event("Gym", 72*time.Hour)}, testNow)
		assert.Equal(t, "Alexanderplatz, 10178 Berlin, Germany", f.ctl.Destination())
		assert.Len(t, f.bus.sent(), 1)

		f.ctl.Tick(context.Background(), testNow.Add(5*time.Minute))
		reqs := f.bus.sent()
		require.Len(t, reqs, 2)
		assert.Equal(t, "Alexanderplatz, 10178 Berlin, Germany", reqs[1].Destination)
	})

	t.Run("Ignored when calendar use is off", func(t *testing.T) {
		f := newFixture(t, nil)
		f.ctl.HandleCalendar(context.Background(), []models.CalendarEvent{event("Gym", time.Hour)}, testNow)
		assert.Equal(t, "Alexanderplatz, 10178 Berlin, Germany", f.ctl.Destination())
		assert.Empty(t, f.bus.sent())
	})
}

func TestHeader(t *testing.T) {
	t.Run("API destination", func(t *testing.T) {
		f := newFixture(t, func(o *Options, _ *alternatives.Options) {
			o.Header = "%{destX} / %{dest}"
			o.Destination = "Alex"
		})
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		assert.Equal(t, "Alexanderplatz / Alex", f.ctl.View().Header)
	})

	t.Run("Ignored error uses the API destination", func(t *testing.T) {
		f := newFixture(t, func(o *Options, _ *alternatives.Options) {
			o.Header = "%{dest}"
			o.Destination = "Alex"
		})
		f.respond(models.ChannelMain, okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)))
		f.respond(models.ChannelMain, &models.ApiResponse{Status: models.StatusOverQueryLimit})
		assert.Equal(t, "Alexanderplatz", f.ctl.View().Header)
	})

	t.Run("Plain header", func(t *testing.T) {
		f := newFixture(t, func(o *Options, _ *alternatives.Options) { o.Header = "Connections" })
		assert.Equal(t, "Connections", f.ctl.View().Header)
	})
}

func TestDebugNotifications(t *testing.T) {
	f := newFixture(t, func(o *Options, _ *alternatives.Options) {
		o.Debug = true
		o.UseCalendar = true
	})
	f.ctl.Tick(context.Background(), testNow)
	f.ctl.Tick(context.Background(), testNow.Add(15*time.Second))
	f.ctl.HandleCalendar(context.Background(), nil, testNow)

	assert.Equal(t, []string{"special update", "normal update", "calendar update"}, f.notifier.messages)

	quiet := newFixture(t, nil)
	quiet.ctl.Tick(context.Background(), testNow)
	assert.Empty(t, quiet.notifier.messages)
}

func TestRun(t *testing.T) {
	f := newFixture(t, nil)
	responses := make(chan models.Envelope)
	events := make(chan []models.CalendarEvent)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctl.Run(ctx, responses, events) }()

	responses <- models.Envelope{
		InstanceID: "widget-1",
		Channel:    models.ChannelMain,
		Response:   okMain(transitRoute(5*time.Minute, 30*time.Minute, 60)),
	}

	assert.Eventually(t, func() bool { return f.ctl.View().Loaded }, time.Second, 10*time.Millisecond)
	assert.Len(t, f.bus.sent(), 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := LogNotifier{Logger: slog.New(slog.NewTextHandler(&buf, nil))}
	n.Notify(context.Background(), "special update")
	assert.Contains(t, buf.String(), `message="special update"`)
	assert.Contains(t, buf.String(), `title="LOCAL TRANSPORT"`)
}
