package routing

import (
	"sort"

	"github.com/passbi/localtransport/internal/models"
)

// RankOptions configures ordering, truncation and fading of the list
type RankOptions struct {
	MaxEntries int
	Fade       bool
	FadePoint  float64
}

// Select drops rejected itineraries, orders the rest by arrival and keeps at most maxEntries.
// Itineraries arriving at the same time keep their API order.
func Select(itineraries []models.Itinerary, maxEntries int) []models.Itinerary {
	accepted := make([]models.Itinerary, 0, len(itineraries))
	for _, it := range itineraries {
		if !it.Rejected {
			accepted = append(accepted, it)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].ArrivalEpochMs < accepted[j].ArrivalEpochMs
	})

	if maxEntries >= 0 && len(accepted) > maxEntries {
		accepted = accepted[:maxEntries]
	}
	return accepted
}

// Rank builds the display list: selected itineraries rendered by render, then the
// summary row (when non-nil) last, each carrying its fade opacity.
func Rank(itineraries []models.Itinerary, opts RankOptions, render func(models.Itinerary) models.DisplayItem, summary *models.DisplayItem) []models.DisplayItem {
	selected := Select(itineraries, opts.MaxEntries)

	items := make([]models.DisplayItem, 0, len(selected)+1)
	for _, it := range selected {
		item := render(it)
		item.Kind = models.ItemItinerary
		item.SortKey = it.ArrivalEpochMs
		items = append(items, item)
	}
	if summary != nil {
		row := *summary
		row.Kind = models.ItemAlternatives
		row.SortKey = models.SortKeyLast
		items = append(items, row)
	}

	for i, o := range Opacities(len(items), opts.Fade, opts.FadePoint) {
		items[i].Opacity = o
	}
	return items
}

// Opacities returns the opacity of each of n rows. Rows before n*fadePoint are opaque,
// later rows fade linearly towards the end of the list.
func Opacities(n int, fade bool, fadePoint float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	if !fade || fadePoint >= 1 {
		return out
	}
	if fadePoint < 0 {
		fadePoint = 0
	}

	start := float64(n) * fadePoint
	steps := float64(n) - start
	for i := range out {
		pos := float64(i)
		if pos >= start {
			out[i] = 1 - (pos-start)/steps
		}
	}
	return out
}
