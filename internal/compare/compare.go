// Package compare builds side-by-side reports over stored solutions.
package compare

import (
	"context"
	"slices"

	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/scoring"
)

// Direction says which end of a metric is better.
type Direction string

const (
	HigherIsBetter Direction = "higher"
	LowerIsBetter  Direction = "lower"
)

// MetricRow is one metric across all compared solutions. Values align with
// Report.IDs. Best and Worst are empty when every value is equal.
type MetricRow struct {
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`
	Values    []float64 `json:"values"`
	Best      []string  `json:"best,omitempty"`
	Worst     []string  `json:"worst,omitempty"`
}

// Report is the result of comparing two or more solutions.
type Report struct {
	IDs     []string       `json:"ids"`
	Metrics []MetricRow    `json:"metrics"`
	Wins    map[string]int `json:"wins"`
	// Overall has the most wins; ties fall back to the quality ordering.
	Overall string `json:"overall"`
}

type metric struct {
	name  string
	dir   Direction
	value func(*models.Solution) float64
}

var metrics = []metric{
	{"score", HigherIsBetter, func(s *models.Solution) float64 { return s.ComputedScore }},
	{"dom_nodes", LowerIsBetter, func(s *models.Solution) float64 { return float64(s.PerformanceProfile.DOMNodeCount) }},
	{"timing_complexity", LowerIsBetter, func(s *models.Solution) float64 { return float64(s.PerformanceProfile.TimingComplexity) }},
	{"cpu_cost", LowerIsBetter, func(s *models.Solution) float64 { return float64(s.PerformanceProfile.CPUCost.Level()) }},
	{"gpu_cost", LowerIsBetter, func(s *models.Solution) float64 { return float64(s.PerformanceProfile.GPUCost.Level()) }},
	{"memory", LowerIsBetter, func(s *models.Solution) float64 { return float64(s.PerformanceProfile.Memory.Level()) }},
	{"critical_issues", LowerIsBetter, severityCount(models.SeverityCritical)},
	{"warning_issues", LowerIsBetter, severityCount(models.SeverityWarning)},
	{"info_issues", LowerIsBetter, severityCount(models.SeverityInfo)},
	{"code_size", LowerIsBetter, func(s *models.Solution) float64 { return float64(s.PerformanceProfile.CodeSize) }},
}

func severityCount(sev models.Severity) func(*models.Solution) float64 {
	return func(s *models.Solution) float64 {
		return float64(s.PerformanceProfile.CountBySeverity(sev))
	}
}

// MetricNames lists the compared metrics in report order.
func MetricNames() []string {
	out := make([]string, len(metrics))
	for i, m := range metrics {
		out[i] = m.name
	}
	return out
}

// Getter loads a solution by id.
type Getter interface {
	Get(ctx context.Context, id string) (*models.Solution, error)
}

// Engine compares stored solutions. It only reads.
type Engine struct {
	src Getter
}

// NewEngine returns an Engine reading from src.
func NewEngine(src Getter) *Engine {
	return &Engine{src: src}
}

// Compare loads ids and builds their report. Repeated ids count once; fewer
// than two distinct ids fail with an InsufficientCandidatesError.
func (e *Engine) Compare(ctx context.Context, ids []string) (*Report, error) {
	distinct := distinctIDs(ids)
	if len(distinct) < 2 {
		return nil, &models.InsufficientCandidatesError{Need: 2, Got: len(distinct)}
	}
	sols := make([]*models.Solution, 0, len(distinct))
	for _, id := range distinct {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s, err := e.src.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		sols = append(sols, s)
	}
	return Build(sols)
}

// Build compares already loaded solutions.
func Build(sols []*models.Solution) (*Report, error) {
	ids := make([]string, 0, len(sols))
	byID := make(map[string]*models.Solution, len(sols))
	for _, s := range sols {
		if _, dup := byID[s.ID]; dup {
			continue
		}
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}
	if len(ids) < 2 {
		return nil, &models.InsufficientCandidatesError{Need: 2, Got: len(ids)}
	}

	r := &Report{IDs: ids, Wins: make(map[string]int, len(ids))}
	for _, id := range ids {
		r.Wins[id] = 0
	}
	for _, m := range metrics {
		row := MetricRow{Name: m.name, Direction: m.dir, Values: make([]float64, len(ids))}
		for i, id := range ids {
			row.Values[i] = m.value(byID[id])
		}
		lo, hi := slices.Min(row.Values), slices.Max(row.Values)
		if lo != hi {
			best, worst := hi, lo
			if m.dir == LowerIsBetter {
				best, worst = lo, hi
			}
			for i, id := range ids {
				switch row.Values[i] {
				case best:
					row.Best = append(row.Best, id)
					r.Wins[id]++
				case worst:
					row.Worst = append(row.Worst, id)
				}
			}
		}
		r.Metrics = append(r.Metrics, row)
	}

	ranked := make([]*models.Solution, 0, len(ids))
	for _, id := range ids {
		ranked = append(ranked, byID[id])
	}
	slices.SortStableFunc(ranked, func(a, b *models.Solution) int {
		if d := r.Wins[b.ID] - r.Wins[a.ID]; d != 0 {
			return d
		}
		return scoring.Compare(a, b)
	})
	r.Overall = ranked[0].ID
	return r, nil
}

// Row returns the named metric row.
func (r *Report) Row(name string) (MetricRow, bool) {
	for _, m := range r.Metrics {
		if m.Name == name {
			return m, true
		}
	}
	return MetricRow{}, false
}

func distinctIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
