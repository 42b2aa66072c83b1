package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/spboyer/kinetic/internal/models"
)

// QualityLevel buckets a computed score for display.
type QualityLevel string

const (
	QualityPoor      QualityLevel = "poor"
	QualityAverage   QualityLevel = "average"
	QualityGood      QualityLevel = "good"
	QualityExcellent QualityLevel = "excellent"
)

var qualityRank = map[QualityLevel]int{
	QualityPoor:      0,
	QualityAverage:   1,
	QualityGood:      2,
	QualityExcellent: 3,
}

func (q QualityLevel) String() string {
	return string(q)
}

// AtLeast returns true if q is at or above the target level.
func (q QualityLevel) AtLeast(target QualityLevel) bool {
	return qualityRank[q] >= qualityRank[target]
}

// ParseQualityLevel converts a string flag value to a QualityLevel.
func ParseQualityLevel(s string) (QualityLevel, error) {
	switch l := QualityLevel(strings.ToLower(strings.TrimSpace(s))); l {
	case QualityPoor, QualityAverage, QualityGood, QualityExcellent:
		return l, nil
	default:
		return QualityPoor, fmt.Errorf("invalid quality level %q: must be poor, average, good, or excellent", s)
	}
}

// Level buckets a score in [0, 1].
func Level(score float64) QualityLevel {
	switch {
	case score >= 0.85:
		return QualityExcellent
	case score >= 0.7:
		return QualityGood
	case score >= 0.5:
		return QualityAverage
	default:
		return QualityPoor
	}
}

// Weights balance the three sub-scores.
type Weights struct {
	Structural float64 `yaml:"structural" json:"structural"`
	Manual     float64 `yaml:"manual" json:"manual"`
	Usage      float64 `yaml:"usage" json:"usage"`
}

// SeverityWeights is the structural cost of one issue of each severity.
type SeverityWeights struct {
	Info     float64 `yaml:"info" json:"info"`
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// UsageWeights balance the favorite and selection shares.
type UsageWeights struct {
	Favorite  float64 `yaml:"favorite" json:"favorite"`
	Selection float64 `yaml:"selection" json:"selection"`
}

// Config is the fixed scoring configuration. Nothing here is learned.
type Config struct {
	Weights  Weights         `yaml:"weights" json:"weights"`
	Severity SeverityWeights `yaml:"severity" json:"severity"`
	Usage    UsageWeights    `yaml:"usage" json:"usage"`
}

// DefaultConfig returns the default weights.
func DefaultConfig() Config {
	return Config{
		Weights:  Weights{Structural: 0.5, Manual: 0.3, Usage: 0.2},
		Severity: SeverityWeights{Info: 0.05, Warning: 0.25, Critical: 1.0},
		Usage:    UsageWeights{Favorite: 0.5, Selection: 0.5},
	}
}

// Validate rejects negative weights and an all-zero weight vector.
func (c Config) Validate() error {
	for name, w := range map[string]float64{
		"weights.structural": c.Weights.Structural,
		"weights.manual":     c.Weights.Manual,
		"weights.usage":      c.Weights.Usage,
		"severity.info":      c.Severity.Info,
		"severity.warning":   c.Severity.Warning,
		"severity.critical":  c.Severity.Critical,
		"usage.favorite":     c.Usage.Favorite,
		"usage.selection":    c.Usage.Selection,
	} {
		if w < 0 || math.IsNaN(w) {
			return fmt.Errorf("scoring %s must be non-negative, got %v", name, w)
		}
	}
	if c.Weights.Structural+c.Weights.Manual+c.Weights.Usage == 0 {
		return fmt.Errorf("scoring weights must not all be zero")
	}
	return nil
}

// Usage is a solution's share of the interactions within its fingerprint
// group. A share is only meaningful when the group has any interactions of
// that kind, hence the Has flags.
type Usage struct {
	FavoriteShare  float64
	SelectionShare float64
	HasFavorites   bool
	HasSelections  bool
}

// Scorer computes a composite quality score in [0, 1].
type Scorer interface {
	Score(profile models.PerformanceProfile, rating *float64, usage Usage) float64
}

// Breakdown exposes the sub-scores behind a composite score. Manual and
// UsageScore are nil when the signal is absent.
type Breakdown struct {
	Structural float64      `json:"structural"`
	Manual     *float64     `json:"manual,omitempty"`
	UsageScore *float64     `json:"usage,omitempty"`
	Score      float64      `json:"score"`
	Level      QualityLevel `json:"level"`
}

// Model is the weighted composite scorer.
type Model struct {
	cfg Config
}

// NewModel returns a Model. An invalid config falls back to the defaults.
func NewModel(cfg Config) *Model {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	return &Model{cfg: cfg}
}

// Config returns the effective configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// Score implements Scorer.
func (m *Model) Score(profile models.PerformanceProfile, rating *float64, usage Usage) float64 {
	return m.Breakdown(profile, rating, usage).Score
}

// Breakdown computes the composite score and its parts. Absent signals drop
// out and the remaining weights are renormalized, so an unrated solution with
// no group usage is scored on structure alone.
func (m *Model) Breakdown(profile models.PerformanceProfile, rating *float64, usage Usage) Breakdown {
	b := Breakdown{Structural: m.structural(profile)}

	sum := m.cfg.Weights.Structural * b.Structural
	total := m.cfg.Weights.Structural

	if rating != nil {
		v := clamp(*rating/5, 0, 1)
		b.Manual = &v
		sum += m.cfg.Weights.Manual * v
		total += m.cfg.Weights.Manual
	}
	if u, ok := m.usage(usage); ok {
		b.UsageScore = &u
		sum += m.cfg.Weights.Usage * u
		total += m.cfg.Weights.Usage
	}

	if total > 0 {
		b.Score = round4(clamp(sum/total, 0, 1))
	} else {
		b.Score = round4(b.Structural)
	}
	b.Level = Level(b.Score)
	return b
}

// structural is 1/(1+Σ severity weight); code that failed to parse scores 0.
func (m *Model) structural(p models.PerformanceProfile) float64 {
	if p.ParseFailed {
		return 0
	}
	cost := 0.0
	for _, is := range p.Issues {
		switch is.Severity {
		case models.SeverityCritical:
			cost += m.cfg.Severity.Critical
		case models.SeverityWarning:
			cost += m.cfg.Severity.Warning
		case models.SeverityInfo:
			cost += m.cfg.Severity.Info
		}
	}
	return 1 / (1 + cost)
}

func (m *Model) usage(u Usage) (float64, bool) {
	var sum, total float64
	if u.HasFavorites {
		sum += m.cfg.Usage.Favorite * u.FavoriteShare
		total += m.cfg.Usage.Favorite
	}
	if u.HasSelections {
		sum += m.cfg.Usage.Selection * u.SelectionShare
		total += m.cfg.Usage.Selection
	}
	if total == 0 {
		return 0, false
	}
	return clamp(sum/total, 0, 1), true
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
