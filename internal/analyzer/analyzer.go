// Package analyzer statically analyzes generated animation code.
//
// Analyze parses the markup and its style/script payloads into a small
// syntactic model, runs a fixed, ordered set of rules over it and summarizes
// the result as a models.PerformanceProfile. It never executes the code and
// never performs I/O, so identical input always yields an identical profile.
package analyzer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spboyer/kinetic/internal/models"
)

// RulesetVersion changes whenever rule behavior changes, invalidating cached
// profiles.
const RulesetVersion = "2"

// Config holds analyzer thresholds.
type Config struct {
	MaxDOMNodes      int `yaml:"max_dom_nodes" json:"max_dom_nodes"`
	MaxSelectorDepth int `yaml:"max_selector_depth" json:"max_selector_depth"`
	LongDurationMS   int `yaml:"long_duration_ms" json:"long_duration_ms"`
	DOMQueryLimit    int `yaml:"dom_query_limit" json:"dom_query_limit"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MaxDOMNodes:      1500,
		MaxSelectorDepth: 4,
		LongDurationMS:   5000,
		DOMQueryLimit:    5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxDOMNodes <= 0 {
		c.MaxDOMNodes = d.MaxDOMNodes
	}
	if c.MaxSelectorDepth <= 0 {
		c.MaxSelectorDepth = d.MaxSelectorDepth
	}
	if c.LongDurationMS <= 0 {
		c.LongDurationMS = d.LongDurationMS
	}
	if c.DOMQueryLimit <= 0 {
		c.DOMQueryLimit = d.DOMQueryLimit
	}
	return c
}

// Analyzer produces performance profiles. It is safe for concurrent use.
type Analyzer struct {
	cfg Config
}

// New returns an Analyzer; zero thresholds fall back to the defaults.
func New(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg.withDefaults()}
}

// Config returns the effective thresholds.
func (a *Analyzer) Config() Config {
	return a.cfg
}

// Key identifies the ruleset and thresholds, so cached profiles computed with
// different settings are never reused.
func (a *Analyzer) Key() string {
	return fmt.Sprintf("v%s/%d/%d/%d/%d", RulesetVersion,
		a.cfg.MaxDOMNodes, a.cfg.MaxSelectorDepth, a.cfg.LongDurationMS, a.cfg.DOMQueryLimit)
}

// Analyze returns the performance profile of source. Malformed payloads do
// not abort analysis: each becomes a critical parse-failure issue and
// ParseFailed is set.
func (a *Analyzer) Analyze(source string) models.PerformanceProfile {
	doc := parseDocument(source)

	p := models.PerformanceProfile{
		DOMNodeCount: doc.nodes,
		CodeSize:     len(source),
		ParseFailed:  len(doc.failures) > 0,
		Issues:       runRules(doc, a.cfg),
	}

	var animated []string
	for _, sh := range doc.sheets {
		p.KeyframeCount += len(sh.keyframes)
		for _, r := range sh.rules {
			depth, _ := selectorDepth(r.selector)
			p.MaxSelectorDepth = max(p.MaxSelectorDepth, depth)
			for _, d := range r.decls {
				if props := transitionedProperties(d); len(props) > 0 {
					p.TransitionCount++
					animated = append(animated, props...)
				}
			}
		}
	}
	animated = append(animated, keyframeProperties(doc)...)
	for _, sc := range doc.scripts {
		p.TimerCount += len(intervalCall.FindAllStringIndex(sc.code, -1)) +
			len(timeoutCall.FindAllStringIndex(sc.code, -1)) +
			len(rafCall.FindAllStringIndex(sc.code, -1))
		animated = append(animated, styledProperties(sc.code)...)
	}
	slices.Sort(animated)
	p.AnimatedProperties = slices.Compact(animated)
	if len(p.AnimatedProperties) == 0 {
		p.AnimatedProperties = nil
	}

	p.TimingComplexity = timingComplexity(doc, p)
	p.CPUCost, p.GPUCost, p.Memory = a.classify(doc, p)
	return p
}

// keyframeProperties lists the properties set inside keyframe steps, minus the
// per-step timing function which is not itself animated.
func keyframeProperties(doc *document) []string {
	var out []string
	for _, sh := range doc.sheets {
		for _, kf := range sh.keyframes {
			for _, step := range kf.steps {
				for _, d := range step.decls {
					if d.prop != "animation-timing-function" {
						out = append(out, d.prop)
					}
				}
			}
		}
	}
	return out
}

// timingComplexity is a weighted count of independently timed things: every
// keyframe step, every transition, every timer (twice, as script timers also
// cost main-thread work) and every infinite animation.
func timingComplexity(doc *document, p models.PerformanceProfile) int {
	n := p.TransitionCount + 2*p.TimerCount
	for _, sh := range doc.sheets {
		for _, kf := range sh.keyframes {
			n += len(kf.steps)
		}
		for _, r := range sh.rules {
			for _, d := range r.decls {
				if (d.prop == "animation" || d.prop == "animation-iteration-count") && containsWord(d.value, "infinite") {
					n++
				}
			}
		}
	}
	return n
}

func (a *Analyzer) classify(doc *document, p models.PerformanceProfile) (models.CostClass, models.CostClass, models.MemoryClass) {
	count := map[string]int{}
	for _, is := range p.Issues {
		count[is.Rule]++
	}

	// Frame callbacks are the recommended driver, so only real timers cost points.
	timers := p.TimerCount
	for _, sc := range doc.scripts {
		timers -= len(rafCall.FindAllStringIndex(sc.code, -1))
	}

	var (
		cpu, gpu models.CostClass
		mem      models.MemoryClass
	)
	switch cpuPoints := 2*count[RuleLayoutAnimated] + 3*count[RuleSetInterval] + 3*count[RuleDOMQueryInLoop] +
		4*count[RuleUnboundedMutation] + 2*count[RuleTimeoutLoop] + count[RuleDOMQueryCount] +
		count[RuleDOMMutationInLoop] + timers; {
	case p.ParseFailed || cpuPoints >= 6:
		// Code that could not be parsed is assumed to be the worst case.
		cpu = models.CostHigh
	case cpuPoints >= 2:
		cpu = models.CostMedium
	default:
		cpu = models.CostLow
	}

	gpuPoints := 2*count[RulePaintAnimated] + countWillChange(doc)
	for _, prop := range p.AnimatedProperties {
		if prop == "transform" || prop == "opacity" {
			gpuPoints++
		}
	}
	switch {
	case p.ParseFailed || gpuPoints >= 6:
		gpu = models.CostHigh
	case gpuPoints >= 3:
		gpu = models.CostMedium
	default:
		gpu = models.CostLow
	}

	switch {
	case p.ParseFailed || count[RuleUnboundedMutation] > 0 || p.DOMNodeCount > a.cfg.MaxDOMNodes || p.CodeSize > 200_000:
		mem = models.MemoryLarge
	case p.DOMNodeCount > a.cfg.MaxDOMNodes/5 || p.CodeSize > 50_000:
		mem = models.MemoryMedium
	default:
		mem = models.MemorySmall
	}
	return cpu, gpu, mem
}

func containsWord(s, word string) bool {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	return slices.Contains(fields, word)
}
