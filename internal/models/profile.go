package models

import "slices"

// Severity ranks how badly an issue affects runtime performance.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityWarning:  1,
	SeverityCritical: 2,
}

// Rank orders severities; unknown values rank below info.
func (s Severity) Rank() int {
	r, ok := severityRank[s]
	if !ok {
		return -1
	}
	return r
}

// IssueCategory groups issues by the kind of cost they cause.
type IssueCategory string

const (
	IssueLayout   IssueCategory = "layout"
	IssuePaint    IssueCategory = "paint"
	IssueTiming   IssueCategory = "timing"
	IssueDOM      IssueCategory = "dom"
	IssueSelector IssueCategory = "selector"
	IssueParse    IssueCategory = "parse"
)

// CostClass is a coarse CPU or GPU cost estimate.
type CostClass string

const (
	CostLow    CostClass = "low"
	CostMedium CostClass = "medium"
	CostHigh   CostClass = "high"
)

// Level returns 0, 1 or 2 for low, medium and high.
func (c CostClass) Level() int {
	switch c {
	case CostMedium:
		return 1
	case CostHigh:
		return 2
	default:
		return 0
	}
}

// MemoryClass is a coarse memory footprint estimate.
type MemoryClass string

const (
	MemorySmall  MemoryClass = "small"
	MemoryMedium MemoryClass = "medium"
	MemoryLarge  MemoryClass = "large"
)

// Level returns 0, 1 or 2 for small, medium and large.
func (m MemoryClass) Level() int {
	switch m {
	case MemoryMedium:
		return 1
	case MemoryLarge:
		return 2
	default:
		return 0
	}
}

// Issue is a single detected anti-pattern.
type Issue struct {
	Rule       string        `json:"rule"`
	Severity   Severity      `json:"severity"`
	Category   IssueCategory `json:"category"`
	Location   string        `json:"location,omitempty"`
	Message    string        `json:"message"`
	Suggestion string        `json:"suggestion"`
}

// PerformanceProfile is the static-analysis summary of a solution's code.
// It is derived from the source and never edited by hand.
type PerformanceProfile struct {
	DOMNodeCount       int         `json:"dom_node_count"`
	MaxSelectorDepth   int         `json:"max_selector_depth"`
	KeyframeCount      int         `json:"keyframe_count"`
	TransitionCount    int         `json:"transition_count"`
	TimerCount         int         `json:"timer_count"`
	AnimatedProperties []string    `json:"animated_properties,omitempty"`
	TimingComplexity   int         `json:"timing_complexity"`
	CPUCost            CostClass   `json:"cpu_cost"`
	GPUCost            CostClass   `json:"gpu_cost"`
	Memory             MemoryClass `json:"memory"`
	CodeSize           int         `json:"code_size"`
	ParseFailed        bool        `json:"parse_failed,omitempty"`
	Issues             []Issue     `json:"issues,omitempty"`
}

// Clone returns a deep copy of the profile.
func (p PerformanceProfile) Clone() PerformanceProfile {
	p.AnimatedProperties = slices.Clone(p.AnimatedProperties)
	p.Issues = slices.Clone(p.Issues)
	return p
}

// CountBySeverity returns how many issues have the given severity.
func (p PerformanceProfile) CountBySeverity(s Severity) int {
	n := 0
	for _, is := range p.Issues {
		if is.Severity == s {
			n++
		}
	}
	return n
}

// Analyzed reports whether the profile was produced by an analysis pass.
// A fresh solution carries a zero profile until the pipeline fills it in.
func (p PerformanceProfile) Analyzed() bool {
	return p.CPUCost != ""
}
