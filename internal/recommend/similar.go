package recommend

import (
	"math"
	"slices"

	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/scoring"
)

// Similarity weights.
const (
	simCategory   = 0.35
	simTechStack  = 0.25
	simProperties = 0.25
	simScore      = 0.15

	// techMismatch is the tech-stack similarity of two different stacks; they
	// still animate the same DOM.
	techMismatch = 0.3
)

// Match is a solution and its similarity to a target in [0, 1].
type Match struct {
	Solution   *models.Solution `json:"solution"`
	Similarity float64          `json:"similarity"`
}

// Similar returns up to limit candidates most similar to target, excluding
// target itself. Equal similarity falls back to the quality ordering.
func Similar(target *models.Solution, candidates []*models.Solution, limit int) []Match {
	var out []Match
	for _, c := range candidates {
		if c == nil || c.ID == target.ID {
			continue
		}
		out = append(out, Match{Solution: c, Similarity: similarity(target, c)})
	}
	slices.SortStableFunc(out, func(a, b Match) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
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

func similarity(a, b *models.Solution) float64 {
	var s float64
	if a.Category == b.Category {
		s += simCategory
	}
	if a.TechStack == b.TechStack {
		s += simTechStack
	} else {
		s += simTechStack * techMismatch
	}
	s += simProperties * jaccard(a.PerformanceProfile.AnimatedProperties, b.PerformanceProfile.AnimatedProperties)
	s += simScore * (1 - math.Abs(a.ComputedScore-b.ComputedScore))
	return math.Round(s*10000) / 10000
}

// jaccard is |a∩b| / |a∪b| over two property sets; two empty sets are
// identical.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	set := make(map[string]bool, len(a))
	for _, v := range a {
		set[v] = true
	}
	var inter int
	union := len(set)
	seen := map[string]bool{}
	for _, v := range b {
		if seen[v] {
			continue
		}
		seen[v] = true
		if set[v] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}
