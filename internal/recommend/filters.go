package recommend

import (
	"fmt"
	"slices"

	"github.com/go-viper/mapstructure/v2"

	"github.com/spboyer/kinetic/internal/models"
	"github.com/spboyer/kinetic/internal/scoring"
)

// Filters are hard constraints: a candidate that fails one is excluded, never
// demoted.
type Filters struct {
	Category  models.Category  `mapstructure:"category" json:"category,omitempty"`
	TechStack models.TechStack `mapstructure:"tech_stack" json:"tech_stack,omitempty"`
	MinScore  *float64         `mapstructure:"min_score" json:"min_score,omitempty"`
	Tags      []string         `mapstructure:"tags" json:"tags,omitempty"`
	// Quality is the lowest acceptable quality level.
	Quality scoring.QualityLevel `mapstructure:"quality" json:"quality,omitempty"`
}

// Match reports whether s passes every filter.
func (f Filters) Match(s *models.Solution) bool {
	if f.Category != "" && s.Category != f.Category {
		return false
	}
	if f.TechStack != "" && s.TechStack != f.TechStack {
		return false
	}
	if f.MinScore != nil && s.ComputedScore < *f.MinScore {
		return false
	}
	if f.Quality != "" && !scoring.Level(s.ComputedScore).AtLeast(f.Quality) {
		return false
	}
	for _, t := range f.Tags {
		if !slices.Contains(s.Tags, t) {
			return false
		}
	}
	return true
}

// DecodeFilters decodes loosely typed filters, as received from JSON-RPC
// params or key=value CLI flags. Unknown keys are rejected.
func DecodeFilters(raw map[string]any) (Filters, error) {
	var f Filters
	if len(raw) == 0 {
		return f, nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &f,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return f, err
	}
	if err := dec.Decode(raw); err != nil {
		return f, fmt.Errorf("decoding filters: %w", err)
	}
	if f.MinScore != nil && (*f.MinScore < 0 || *f.MinScore > 1) {
		return f, &models.ValidationError{Field: "min_score", Value: *f.MinScore, Err: fmt.Errorf("must be within [0, 1]")}
	}
	if f.Quality != "" {
		q, err := scoring.ParseQualityLevel(string(f.Quality))
		if err != nil {
			return f, &models.ValidationError{Field: "quality", Value: string(f.Quality), Err: err}
		}
		f.Quality = q
	}
	f.Tags = models.NormalizeTags(f.Tags)
	return f, nil
}
