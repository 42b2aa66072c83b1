// Package recommend ranks solutions for presentation. The engine holds no
// state of its own: a ranking is a pure function of the candidates, the
// interaction history snapshot, the filters and the reference time.
package recommend

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/spboyer/kinetic/internal/models"
)

// Config tunes personalization. Adjustments are small on purpose so that
// quality stays the dominant ranking signal.
type Config struct {
	TopN           int                          `yaml:"top_n" json:"top_n"`
	DecayRate      float64                      `yaml:"decay_rate" json:"decay_rate"`
	DecayUnit      time.Duration                `yaml:"decay_unit" json:"decay_unit"`
	MinWeight      float64                      `yaml:"min_weight" json:"min_weight"`
	CategoryBonus  float64                      `yaml:"category_bonus" json:"category_bonus"`
	TechStackBonus float64                      `yaml:"tech_stack_bonus" json:"tech_stack_bonus"`
	DiscardPenalty float64                      `yaml:"discard_penalty" json:"discard_penalty"`
	MaxBonus       float64                      `yaml:"max_bonus" json:"max_bonus"`
	MaxPenalty     float64                      `yaml:"max_penalty" json:"max_penalty"`
	MinDiscards    int                          `yaml:"min_discards" json:"min_discards"`
	KindWeights    map[models.EventKind]float64 `yaml:"kind_weights" json:"kind_weights"`
}

// DefaultConfig returns the default personalization settings.
func DefaultConfig() Config {
	return Config{
		TopN:           10,
		DecayRate:      0.1,
		DecayUnit:      24 * time.Hour,
		MinWeight:      0,
		CategoryBonus:  0.05,
		TechStackBonus: 0.02,
		DiscardPenalty: 0.05,
		MaxBonus:       0.15,
		MaxPenalty:     0.15,
		MinDiscards:    2,
		KindWeights: map[models.EventKind]float64{
			models.EventFavorited: 2,
			models.EventSelected:  3,
			models.EventExported:  1,
			models.EventPreviewed: 0.5,
			models.EventViewed:    0.25,
		},
	}
}

// Validate rejects settings that would make the decay or caps meaningless.
func (c Config) Validate() error {
	switch {
	case c.TopN < 0:
		return fmt.Errorf("recommend top_n must be non-negative, got %d", c.TopN)
	case c.DecayRate < 0:
		return fmt.Errorf("recommend decay_rate must be non-negative, got %v", c.DecayRate)
	case c.DecayUnit < 0:
		return fmt.Errorf("recommend decay_unit must be non-negative, got %v", c.DecayUnit)
	case c.MinWeight < 0 || c.MinWeight > 1:
		return fmt.Errorf("recommend min_weight must be within [0, 1], got %v", c.MinWeight)
	case c.MaxBonus < 0 || c.MaxPenalty < 0:
		return fmt.Errorf("recommend max_bonus and max_penalty must be non-negative")
	}
	for k, w := range c.KindWeights {
		if !k.Valid() {
			return fmt.Errorf("recommend kind_weights: unknown event kind %q", k)
		}
		if w < 0 {
			return fmt.Errorf("recommend kind_weights[%s] must be non-negative, got %v", k, w)
		}
	}
	return nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TopN <= 0 {
		c.TopN = d.TopN
	}
	if c.DecayUnit <= 0 {
		c.DecayUnit = d.DecayUnit
	}
	if c.KindWeights == nil {
		c.KindWeights = d.KindWeights
	}
	return c
}

// Attributes are the ranking-relevant properties of a solution that appears
// in the history but not among the candidates.
type Attributes struct {
	Category  models.Category  `json:"category"`
	TechStack models.TechStack `json:"tech_stack"`
}

// Context is one recommendation request.
type Context struct {
	Candidates []*models.Solution
	History    []models.InteractionEvent
	// Attributes resolves history events whose solution is not a candidate.
	Attributes map[string]Attributes
	Filters    Filters
	// Now is the reference time for decay; zero means the engine clock.
	Now  time.Time
	TopN int
}

// Ranked is one recommended solution with the parts of its rank key.
type Ranked struct {
	Solution   *models.Solution `json:"solution"`
	Adjustment float64          `json:"adjustment"`
	Key        float64          `json:"key"`
	Reason     string           `json:"reason"`
}

// Engine ranks candidates by quality score plus personalization.
type Engine struct {
	cfg Config
	now func() time.Time
}

// NewEngine creates a recommendation engine; unset fields take defaults.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults(), now: time.Now}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Recommend returns the ranked solutions without their rank details.
func (e *Engine) Recommend(rc Context) ([]*models.Solution, error) {
	ranked, err := e.Rank(rc)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Solution, len(ranked))
	for i, r := range ranked {
		out[i] = r.Solution
	}
	return out, nil
}

// Rank filters the candidates, adds each survivor's personalization
// adjustment to its computed score and returns at most TopN of them ordered
// by that key. Equal keys keep candidate order. A filter that excludes
// everything yields an empty result, not an error.
func (e *Engine) Rank(rc Context) ([]Ranked, error) {
	if len(rc.Candidates) == 0 {
		return nil, &models.InsufficientCandidatesError{Need: 1, Got: 0}
	}
	now := rc.Now
	if now.IsZero() {
		now = e.now()
	}
	topN := rc.TopN
	if topN <= 0 {
		topN = e.cfg.TopN
	}

	prof := e.buildProfile(rc, now)

	var out []Ranked
	for _, s := range rc.Candidates {
		if s == nil || !rc.Filters.Match(s) {
			continue
		}
		adj, why := e.adjustment(prof, s)
		out = append(out, Ranked{
			Solution:   s,
			Adjustment: adj,
			Key:        s.ComputedScore + adj,
			Reason:     explain(s, why),
		})
	}

	slices.SortStableFunc(out, func(a, b Ranked) int {
		switch {
		case a.Key > b.Key:
			return -1
		case a.Key < b.Key:
			return 1
		default:
			return 0
		}
	})
	if len(out) > topN {
		out = out[:topN]
	}
	return out, nil
}

// profile is the decayed interaction affinity derived from a history snapshot.
type profile struct {
	category map[models.Category]float64
	tech     map[models.TechStack]float64
	discards map[models.Category]float64
}

func (p profile) empty() bool {
	return len(p.category) == 0 && len(p.tech) == 0 && len(p.discards) == 0
}

func (e *Engine) buildProfile(rc Context, now time.Time) profile {
	p := profile{
		category: map[models.Category]float64{},
		tech:     map[models.TechStack]float64{},
		discards: map[models.Category]float64{},
	}
	if len(rc.History) == 0 {
		return p
	}

	attrs := make(map[string]Attributes, len(rc.Candidates)+len(rc.Attributes))
	for id, a := range rc.Attributes {
		attrs[id] = a
	}
	for _, s := range rc.Candidates {
		if s != nil {
			attrs[s.ID] = Attributes{Category: s.Category, TechStack: s.TechStack}
		}
	}

	for _, ev := range rc.History {
		a, ok := attrs[ev.SolutionID]
		if !ok || ev.Timestamp.After(now) {
			continue
		}
		w := e.decay(now.Sub(ev.Timestamp))
		switch ev.Kind {
		case models.EventDiscarded:
			p.discards[a.Category] += w
		case models.EventUnfavorited:
			w *= e.cfg.KindWeights[models.EventFavorited]
			p.category[a.Category] -= w
			p.tech[a.TechStack] -= w
		default:
			w *= e.cfg.KindWeights[ev.Kind]
			p.category[a.Category] += w
			p.tech[a.TechStack] += w
		}
	}
	for k, v := range p.category {
		if v <= 0 {
			delete(p.category, k)
		}
	}
	for k, v := range p.tech {
		if v <= 0 {
			delete(p.tech, k)
		}
	}
	return p
}

// decay weighs an event of the given age: exp(-rate * age/unit), floored at
// MinWeight.
func (e *Engine) decay(age time.Duration) float64 {
	units := float64(age) / float64(e.cfg.DecayUnit)
	return math.Max(e.cfg.MinWeight, math.Exp(-e.cfg.DecayRate*units))
}

type adjustmentReason struct {
	category, tech bool
	discarded      bool
}

func (e *Engine) adjustment(p profile, s *models.Solution) (float64, adjustmentReason) {
	var why adjustmentReason
	if p.empty() {
		return 0, why
	}

	bonus := e.cfg.CategoryBonus*p.category[s.Category] + e.cfg.TechStackBonus*p.tech[s.TechStack]
	bonus = math.Min(bonus, e.cfg.MaxBonus)
	why.category = p.category[s.Category] > 0
	why.tech = p.tech[s.TechStack] > 0

	var penalty float64
	if d := p.discards[s.Category]; d > 0 && d >= float64(e.cfg.MinDiscards) {
		penalty = math.Min(e.cfg.DiscardPenalty*d, e.cfg.MaxPenalty)
		why.discarded = true
	}
	return bonus - penalty, why
}

func explain(s *models.Solution, why adjustmentReason) string {
	var parts []string
	switch {
	case s.ComputedScore >= 0.85:
		parts = append(parts, "excellent quality")
	case s.ComputedScore >= 0.7:
		parts = append(parts, "good quality")
	case s.ComputedScore >= 0.5:
		parts = append(parts, "average quality")
	default:
		parts = append(parts, "low quality")
	}
	if why.category {
		parts = append(parts, fmt.Sprintf("matches your interest in %s animations", s.Category))
	}
	if why.tech {
		parts = append(parts, fmt.Sprintf("uses %s, which you often pick", s.TechStack))
	}
	if why.discarded {
		parts = append(parts, fmt.Sprintf("%s animations are often discarded", s.Category))
	}
	if s.Favorited {
		parts = append(parts, "favorited")
	}
	return strings.Join(parts, "; ")
}
