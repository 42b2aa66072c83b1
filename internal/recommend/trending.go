package recommend

import (
	"math"
	"slices"
	"time"

	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/scoring"
)

// DefaultTrendWindow is how far back Trending looks when no window is given.
const DefaultTrendWindow = 7 * 24 * time.Hour

// trendWeights is the popularity contribution of one interaction. Retracting
// or rejecting a solution counts against it.
var trendWeights = map[models.EventKind]float64{
	models.EventSelected:    1.0,
	models.EventExported:    1.0,
	models.EventFavorited:   0.8,
	models.EventPreviewed:   0.5,
	models.EventViewed:      0.3,
	models.EventUnfavorited: -0.8,
	models.EventDiscarded:   -0.5,
}

// Trend is a solution and its recent popularity.
type Trend struct {
	Solution     *models.Solution `json:"solution"`
	Score        float64          `json:"trend_score"`
	Interactions int              `json:"interactions"`
}

// Trending ranks candidates by the weighted interactions they received in the
// window ending at now. Solutions without positive recent activity are left
// out; equal scores fall back to the quality ordering.
func Trending(candidates []*models.Solution, history []models.InteractionEvent, now time.Time, window time.Duration, limit int) []Trend {
	if window <= 0 {
		window = DefaultTrendWindow
	}
	since := now.Add(-window)

	type tally struct {
		score float64
		n     int
	}
	byID := make(map[string]*tally)
	for _, ev := range history {
		if ev.Timestamp.Before(since) || ev.Timestamp.After(now) {
			continue
		}
		t := byID[ev.SolutionID]
		if t == nil {
			t = &tally{}
			byID[ev.SolutionID] = t
		}
		t.score += trendWeights[ev.Kind]
		t.n++
	}

	var out []Trend
	for _, s := range candidates {
		if t := byID[s.ID]; t != nil && t.score > 0 {
			out = append(out, Trend{Solution: s, Score: math.Round(t.score*10000) / 10000, Interactions: t.n})
		}
	}
	slices.SortStableFunc(out, func(a, b Trend) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return scoring.Compare(a.Solution, b.Solution)
		}
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
