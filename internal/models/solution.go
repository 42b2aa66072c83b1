package models

import (
	"slices"
	"strings"
	"time"
)

// Category classifies what an animation does. The well-known values mirror the
// categories the generator is prompted with, but any non-empty label is accepted
// (e.g. "bounce", "fade").
type Category string

const (
	CategoryEntrance    Category = "entrance"
	CategoryExit        Category = "exit"
	CategoryTransition  Category = "transition"
	CategoryInteraction Category = "interaction"
	CategoryEffect      Category = "effect"
	CategoryComposite   Category = "composite"
)

// TechStack identifies the implementation technology of a solution.
type TechStack string

const (
	TechCSSAnimation TechStack = "css_animation"
	TechJavaScript   TechStack = "javascript"
	TechGSAP         TechStack = "gsap"
	TechThreeJS      TechStack = "three_js"
	TechSVGAnimation TechStack = "svg_animation"
	TechMixed        TechStack = "mixed"
)

// RequestInputs are the creative request parameters a fingerprint is derived from.
type RequestInputs struct {
	Description      string        `json:"description" yaml:"description"`
	StyleConstraints []string      `json:"style_constraints,omitempty" yaml:"style_constraints,omitempty"`
	TargetDuration   time.Duration `json:"target_duration,omitempty" yaml:"target_duration,omitempty"`
}

// Candidate is a freshly generated artifact that has not been stored yet.
// Fingerprint may be left empty, in which case it is computed from Request.
type Candidate struct {
	SourceCode  string        `json:"source_code" yaml:"source_code"`
	Category    Category      `json:"category" yaml:"category"`
	TechStack   TechStack     `json:"tech_stack" yaml:"tech_stack"`
	Request     RequestInputs `json:"request" yaml:"request"`
	Fingerprint string        `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Tags        []string      `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Solution is one stored, versioned answer to a request fingerprint.
//
// Everything except Favorited, ManualRating, ComputedScore and PerformanceProfile
// is fixed at creation. The last two are only written by the analysis/scoring
// pipeline.
type Solution struct {
	ID                 string             `json:"id"`
	RequestFingerprint string             `json:"request_fingerprint"`
	SourceCode         string             `json:"source_code"`
	Category           Category           `json:"category"`
	TechStack          TechStack          `json:"tech_stack"`
	CreatedAt          time.Time          `json:"created_at"`
	Version            int                `json:"version"`
	ParentID           string             `json:"parent_id,omitempty"`
	Favorited          bool               `json:"favorited"`
	ManualRating       *float64           `json:"manual_rating,omitempty"`
	ComputedScore      float64            `json:"computed_score"`
	PerformanceProfile PerformanceProfile `json:"performance_profile"`
	Tags               []string           `json:"tags,omitempty"`
	Archived           bool               `json:"archived,omitempty"`
}

// IsDerivative reports whether the solution was produced from a parent.
func (s *Solution) IsDerivative() bool {
	return s.ParentID != ""
}

// Clone returns a deep copy so callers never alias stored state.
func (s *Solution) Clone() *Solution {
	if s == nil {
		return nil
	}
	c := *s
	if s.ManualRating != nil {
		r := *s.ManualRating
		c.ManualRating = &r
	}
	c.Tags = slices.Clone(s.Tags)
	c.PerformanceProfile = s.PerformanceProfile.Clone()
	return &c
}

// NormalizeTags trims, lowercases, dedups and sorts tags so that a tag list
// behaves like a set.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) == 0 {
		return nil
	}
	return out
}

// ValidRating reports whether r is an acceptable manual rating.
func ValidRating(r float64) bool {
	return r >= 0 && r <= 5
}
