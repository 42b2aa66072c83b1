package scoring

import (
	"cmp"
	"slices"

	"github.com/spboyer/kinetic/internal/models"
)

// UsageStats counts the interactions recorded against one solution.
type UsageStats struct {
	Views      int `json:"views"`
	Selections int `json:"selections"`
	Favorites  int `json:"favorites"`
	Discards   int `json:"discards"`
}

// Aggregate folds an event snapshot into per-solution counts. Previews count as
// views, exports as selections, and an unfavorite cancels an earlier favorite.
func Aggregate(events []models.InteractionEvent) map[string]UsageStats {
	out := make(map[string]UsageStats)
	for _, ev := range events {
		st := out[ev.SolutionID]
		switch ev.Kind {
		case models.EventViewed, models.EventPreviewed:
			st.Views++
		case models.EventSelected, models.EventExported:
			st.Selections++
		case models.EventFavorited:
			st.Favorites++
		case models.EventUnfavorited:
			st.Favorites = max(0, st.Favorites-1)
		case models.EventDiscarded:
			st.Discards++
		}
		out[ev.SolutionID] = st
	}
	return out
}

// GroupUsage turns per-solution counts into each member's share of its
// fingerprint group's favorites and selections.
func GroupUsage(group []*models.Solution, stats map[string]UsageStats) map[string]Usage {
	var favorites, selections int
	for _, s := range group {
		favorites += stats[s.ID].Favorites
		selections += stats[s.ID].Selections
	}

	out := make(map[string]Usage, len(group))
	for _, s := range group {
		st := stats[s.ID]
		u := Usage{HasFavorites: favorites > 0, HasSelections: selections > 0}
		if favorites > 0 {
			u.FavoriteShare = float64(st.Favorites) / float64(favorites)
		}
		if selections > 0 {
			u.SelectionShare = float64(st.Selections) / float64(selections)
		}
		out[s.ID] = u
	}
	return out
}

// ScoreGroup scores every member of a fingerprint group against the group's
// usage and returns the new scores by id.
func ScoreGroup(sc Scorer, group []*models.Solution, stats map[string]UsageStats) map[string]float64 {
	usage := GroupUsage(group, stats)
	out := make(map[string]float64, len(group))
	for _, s := range group {
		out[s.ID] = sc.Score(s.PerformanceProfile, s.ManualRating, usage[s.ID])
	}
	return out
}

// Compare orders solutions best first: higher score, then higher version,
// then favorited, then id for a total order.
func Compare(a, b *models.Solution) int {
	if c := cmp.Compare(b.ComputedScore, a.ComputedScore); c != 0 {
		return c
	}
	if c := cmp.Compare(b.Version, a.Version); c != 0 {
		return c
	}
	if a.Favorited != b.Favorited {
		if a.Favorited {
			return -1
		}
		return 1
	}
	return cmp.Compare(a.ID, b.ID)
}

// Less reports whether a ranks before b.
func Less(a, b *models.Solution) bool {
	return Compare(a, b) < 0
}

// Sort orders solutions best first in place.
func Sort(sols []*models.Solution) {
	slices.SortStableFunc(sols, Compare)
}
