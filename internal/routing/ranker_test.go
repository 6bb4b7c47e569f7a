package routing

import (
	"testing"

	"github.com/passbi/localtransport/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itinerary(arrival int64, rejected bool) models.Itinerary {
	return models.Itinerary{ArrivalEpochMs: arrival, Rejected: rejected}
}

func renderPlain(it models.Itinerary) models.DisplayItem {
	return models.DisplayItem{Legs: []models.DisplayLeg{{Header: "leg"}}}
}

func TestSelect(t *testing.T) {
	t.Run("Drops rejected and sorts by arrival", func(t *testing.T) {
		out := Select([]models.Itinerary{
			itinerary(300, false),
			itinerary(100, true),
			itinerary(200, false),
		}, 10)
		require.Len(t, out, 2)
		assert.Equal(t, int64(200), out[0].ArrivalEpochMs)
		assert.Equal(t, int64(300), out[1].ArrivalEpochMs)
	})

	t.Run("Keeps API order on equal arrival", func(t *testing.T) {
		a := models.Itinerary{ArrivalEpochMs: 100, LastStopCarry: "first"}
		b := models.Itinerary{ArrivalEpochMs: 100, LastStopCarry: "second"}
		out := Select([]models.Itinerary{a, b}, 10)
		assert.Equal(t, "first", out[0].LastStopCarry)
		assert.Equal(t, "second", out[1].LastStopCarry)
	})

	t.Run("Truncates to max entries", func(t *testing.T) {
		out := Select([]models.Itinerary{itinerary(3, false), itinerary(1, false), itinerary(2, false)}, 2)
		require.Len(t, out, 2)
		assert.Equal(t, int64(1), out[0].ArrivalEpochMs)
		assert.Equal(t, int64(2), out[1].ArrivalEpochMs)
	})

	t.Run("All rejected gives an empty list", func(t *testing.T) {
		assert.Empty(t, Select([]models.Itinerary{itinerary(1, true)}, 5))
	})
}

func TestRank(t *testing.T) {
	its := []models.Itinerary{itinerary(500, false), itinerary(100, false), itinerary(300, false), itinerary(50, true)}
	summary := &models.DisplayItem{Label: "Alternatives:"}

	t.Run("Summary row is always last", func(t *testing.T) {
		items := Rank(its, RankOptions{MaxEntries: 5}, renderPlain, summary)
		require.Len(t, items, 4)
		assert.Equal(t, models.ItemAlternatives, items[3].Kind)
		assert.Equal(t, models.SortKeyLast, items[3].SortKey)
		for i := 1; i < len(items); i++ {
			assert.LessOrEqual(t, items[i-1].SortKey, items[i].SortKey)
		}
	})

	t.Run("Length bounded by max entries plus summary", func(t *testing.T) {
		items := Rank(its, RankOptions{MaxEntries: 2}, renderPlain, summary)
		assert.Len(t, items, 3)
		items = Rank(its, RankOptions{MaxEntries: 2}, renderPlain, nil)
		assert.Len(t, items, 2)
		assert.Equal(t, models.ItemItinerary, items[0].Kind)
	})

	t.Run("Opacity is non-increasing with fade", func(t *testing.T) {
		items := Rank(its, RankOptions{MaxEntries: 5, Fade: true, FadePoint: 0.25}, renderPlain, summary)
		for i := 1; i < len(items); i++ {
			assert.LessOrEqual(t, items[i].Opacity, items[i-1].Opacity)
		}
		assert.Equal(t, 1.0, items[0].Opacity)
	})

	t.Run("Opacity is one without fade", func(t *testing.T) {
		items := Rank(its, RankOptions{MaxEntries: 5, FadePoint: 0.25}, renderPlain, summary)
		for _, item := range items {
			assert.Equal(t, 1.0, item.Opacity)
		}
	})
}

func TestOpacities(t *testing.T) {
	t.Run("Linear fade after the fade point", func(t *testing.T) {
		// start = 2, two steps to the end
		assert.Equal(t, []float64{1, 1, 1, 0.5}, Opacities(4, true, 0.5))
	})

	t.Run("Disabled", func(t *testing.T) {
		assert.Equal(t, []float64{1, 1, 1, 1}, Opacities(4, false, 0.5))
	})

	t.Run("Fade point at one disables fading", func(t *testing.T) {
		assert.Equal(t, []float64{1, 1, 1}, Opacities(3, true, 1))
	})

	t.Run("Negative fade point starts at the top", func(t *testing.T) {
		assert.Equal(t, []float64{1, 0.5}, Opacities(2, true, -3))
	})

	t.Run("Empty list", func(t *testing.T) {
		assert.Empty(t, Opacities(0, true, 0.25))
	})
}
