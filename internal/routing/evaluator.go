package routing

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/passbi/localtransport/internal/format"
	"github.com/passbi/localtransport/internal/i18n"
	"github.com/passbi/localtransport/internal/models"
)

var (
	// ErrWalkTooLong marks a route with a walking step at or above the walk limit
	ErrWalkTooLong = errors.New("walking step exceeds limit")
	// ErrMalformedRoute marks a route missing fields the evaluator needs
	ErrMalformedRoute = errors.New("malformed route")
)

// EvaluatorOptions configures how routes are judged and rendered
type EvaluatorOptions struct {
	MaxWalkTime time.Duration
	Walk        format.WalkDisplay
	Stations    format.StationDisplay
	ShowColor   bool
	Debug       bool
}

// Evaluator turns raw routes into itineraries
type Evaluator struct {
	opts   EvaluatorOptions
	tr     *i18n.Translator
	logger *slog.Logger
}

// NewEvaluator creates an evaluator
func NewEvaluator(opts EvaluatorOptions, tr *i18n.Translator, logger *slog.Logger) *Evaluator {
	return &Evaluator{opts: opts, tr: tr, logger: logger}
}

// Evaluate walks the legs and steps of one route.
// A rejected itinerary comes back with Rejected set and an error wrapping
// ErrWalkTooLong or ErrMalformedRoute.
func (e *Evaluator) Evaluate(route models.RawRoute) (models.Itinerary, error) {
	it := models.Itinerary{}
	if len(route.Legs) == 0 {
		it.Rejected = true
		return it, fmt.Errorf("%w: no legs", ErrMalformedRoute)
	}

	maxWalk := int64(e.opts.MaxWalkTime / time.Second)

	for li, leg := range route.Legs {
		if leg.DepartureTime == nil || leg.ArrivalTime == nil {
			it.Rejected = true
			return it, fmt.Errorf("%w: leg %d has no departure or arrival time", ErrMalformedRoute, li)
		}
		if li == 0 {
			it.DepartureEpochMs = leg.DepartureTime.Value * 1000
		}
		it.ArrivalEpochMs = leg.ArrivalTime.Value * 1000

		out := models.ItineraryLeg{
			DepartureEpochMs: leg.DepartureTime.Value * 1000,
			ArrivalEpochMs:   leg.ArrivalTime.Value * 1000,
			EndAddress:       leg.EndAddress,
		}

		// the carried stop never crosses a leg boundary
		carry := ""
		for si, step := range leg.Steps {
			if step.IsWalking() {
				if step.Duration == nil {
					it.Rejected = true
					return it, fmt.Errorf("%w: leg %d step %d has no duration", ErrMalformedRoute, li, si)
				}
				if step.Duration.Value >= maxWalk {
					it.Rejected = true
					return it, fmt.Errorf("%w: %ds >= %ds", ErrWalkTooLong, step.Duration.Value, maxWalk)
				}
				if e.opts.Walk.Enabled() {
					out.Steps = append(out.Steps, e.walkFragment(step.Duration.Value, carry))
				}
				carry = ""
				continue
			}

			if step.TransitDetails == nil {
				continue
			}
			frag, arrival, err := e.transitFragment(step.TransitDetails)
			if err != nil {
				it.Rejected = true
				return it, fmt.Errorf("%w: leg %d step %d: %v", ErrMalformedRoute, li, si, err)
			}
			out.Steps = append(out.Steps, frag)
			carry = arrival
		}

		it.Legs = append(it.Legs, out)
		it.RenderedSteps = append(it.RenderedSteps, out.Steps...)
		it.LastStopCarry = carry
	}

	return it, nil
}

// EvaluateAll evaluates every route, logging and keeping rejected ones flagged
func (e *Evaluator) EvaluateAll(routes []models.RawRoute) []models.Itinerary {
	result := make([]models.Itinerary, 0, len(routes))
	for i, route := range routes {
		it, err := e.Evaluate(route)
		switch {
		case errors.Is(err, ErrWalkTooLong):
			e.logger.Debug("route rejected", "route", i, "reason", err)
		case err != nil:
			e.logger.Warn("skipping malformed route", "route", i, "error", err)
		}
		result = append(result, it)
	}
	return result
}

func (e *Evaluator) walkFragment(seconds int64, lastStop string) models.StepFragment {
	label := format.Seconds(e.tr, seconds, e.opts.Walk.Short())
	frag := models.StepFragment{
		Kind:   models.FragmentWalk,
		Symbol: format.Icon("walk", e.opts.ShowColor),
		Label:  label,
		Text:   label,
	}
	if stop, ok := e.opts.Stations.Apply(lastStop); ok {
		frag.DepartureStop = stop
		frag.Text += e.fromSuffix(stop)
	}
	return frag
}

func (e *Evaluator) transitFragment(details *models.TransitDetails) (models.StepFragment, string, error) {
	line := details.Line
	if line == nil || line.Vehicle == nil {
		return models.StepFragment{}, "", errors.New("transit step without line vehicle")
	}
	if details.DepartureStop == nil || details.ArrivalStop == nil {
		return models.StepFragment{}, "", errors.New("transit step without stops")
	}

	label := line.ShortName
	if label == "" {
		label = line.Name
	}
	if label == "" {
		return models.StepFragment{}, "", errors.New("transit line without name")
	}

	frag := models.StepFragment{
		Kind: models.FragmentTransit,
		Symbol: models.Symbol{
			URL:        vehicleIcon(line.Vehicle),
			Alt:        "[" + line.Vehicle.Name + "]",
			Monochrome: !e.opts.ShowColor,
		},
		Label: label,
		Text:  label,
	}
	if stop, ok := e.opts.Stations.Apply(details.DepartureStop.Name); ok {
		frag.DepartureStop = stop
		frag.Text += e.fromSuffix(stop)
	}
	if e.opts.Debug {
		frag.Text += " [" + line.Vehicle.Name + "]"
	}
	return frag, details.ArrivalStop.Name, nil
}

func (e *Evaluator) fromSuffix(stop string) string {
	return " (" + e.tr.T(i18n.KeyFrom) + " " + stop + ")"
}

// vehicleIcon prefers a local icon; API icons come protocol-relative ("//maps.gstatic.com/...")
func vehicleIcon(v *models.Vehicle) string {
	if v.LocalIcon != "" {
		return v.LocalIcon
	}
	if strings.HasPrefix(v.Icon, "//") {
		return "https:" + v.Icon
	}
	return v.Icon
}
