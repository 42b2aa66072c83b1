package recommend

import (
	"slices"
	"strings"

	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/scoring"
)

// Search match weights per query term.
const (
	hitCategory = 3.0
	hitTagExact = 2.0
	hitTag      = 1.0
	hitTech     = 1.0
	hitCode     = 0.5
)

// Hit is a search result and its relevance.
type Hit struct {
	Solution  *models.Solution `json:"solution"`
	Relevance float64          `json:"relevance"`
}

// Search returns the candidates matching every whitespace-separated term of
// query, case-insensitively, in category, tags, tech stack or source code.
// Results are ordered by relevance, then by the quality ordering. An empty
// query matches nothing.
func Search(candidates []*models.Solution, query string, filters Filters, limit int) []Hit {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	var out []Hit
	for _, s := range candidates {
		if !filters.Match(s) {
			continue
		}
		if rel, ok := relevance(s, terms); ok {
			out = append(out, Hit{Solution: s, Relevance: rel})
		}
	}
	slices.SortStableFunc(out, func(a, b Hit) int {
		switch {
		case a.Relevance > b.Relevance:
			return -1
		case a.Relevance < b.Relevance:
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

func relevance(s *models.Solution, terms []string) (float64, bool) {
	category := strings.ToLower(string(s.Category))
	tech := strings.ToLower(string(s.TechStack))
	code := strings.ToLower(s.SourceCode)

	var total float64
	for _, term := range terms {
		var rel float64
		if strings.Contains(category, term) {
			rel += hitCategory
		}
		for _, tag := range s.Tags {
			switch {
			case tag == term:
				rel += hitTagExact
			case strings.Contains(tag, term):
				rel += hitTag
			}
		}
		if strings.Contains(tech, term) {
			rel += hitTech
		}
		if strings.Contains(code, term) {
			rel += hitCode
		}
		if rel == 0 {
			return 0, false
		}
		total += rel
	}
	return total, true
}
