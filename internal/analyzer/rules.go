package analyzer

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spboyer/kinetic/internal/models"
)

// Rule ids. They are stable and appear in stored profiles.
const (
	RuleParseFailure      = "parse-failure"
	RuleLayoutAnimated    = "layout-property-animated"
	RulePaintAnimated     = "paint-property-animated"
	RuleLongDuration      = "long-duration"
	RuleComplexSelector   = "complex-selector"
	RuleSetInterval       = "set-interval"
	RuleTimeoutLoop       = "timeout-loop"
	RuleDOMQueryCount     = "dom-query-count"
	RuleDOMQueryInLoop    = "dom-query-in-loop"
	RuleUnboundedMutation = "unbounded-dom-mutation"
	RuleDOMMutationInLoop = "dom-mutation-in-loop"
	RuleDOMNodeCount      = "dom-node-count"
	RuleWillChangeOveruse = "will-change-overuse"
)

const (
	willChangeLimit     = 3
	maxChildCombinators = 2
)

type rule struct {
	id         string
	category   models.IssueCategory
	severity   models.Severity
	suggestion string
	// autoFix marks rules that Optimize can remediate mechanically.
	autoFix bool
	check   func(doc *document, cfg Config) []models.Issue
}

// rules run in this order; the issue list of a profile follows it.
var rules = []rule{
	{
		id:         RuleParseFailure,
		category:   models.IssueParse,
		severity:   models.SeverityCritical,
		suggestion: "Fix the syntax error so the code can be analyzed and rendered reliably",
		check:      checkParseFailures,
	},
	{
		id:         RuleLayoutAnimated,
		category:   models.IssueLayout,
		severity:   models.SeverityWarning,
		suggestion: "Animate transform instead of layout properties such as left/top/width/height",
		autoFix:    true,
		check:      checkLayoutAnimated,
	},
	{
		id:         RulePaintAnimated,
		category:   models.IssuePaint,
		severity:   models.SeverityWarning,
		suggestion: "Avoid animating box-shadow or filter; fade a pre-rendered layer with opacity instead",
		check:      checkPaintAnimated,
	},
	{
		id:         RuleLongDuration,
		category:   models.IssueTiming,
		severity:   models.SeverityInfo,
		suggestion: "Keep animation durations under a few seconds",
		check:      checkLongDurations,
	},
	{
		id:         RuleComplexSelector,
		category:   models.IssueSelector,
		severity:   models.SeverityInfo,
		suggestion: "Simplify the selector; target animated elements with a single class",
		check:      checkComplexSelectors,
	},
	{
		id:         RuleSetInterval,
		category:   models.IssueTiming,
		severity:   models.SeverityCritical,
		suggestion: "Drive the animation with requestAnimationFrame instead of setInterval",
		check:      checkSetInterval,
	},
	{
		id:         RuleTimeoutLoop,
		category:   models.IssueTiming,
		severity:   models.SeverityWarning,
		suggestion: "Replace the self-scheduling setTimeout loop with requestAnimationFrame",
		check:      checkTimeoutLoops,
	},
	{
		id:         RuleDOMQueryCount,
		category:   models.IssueDOM,
		severity:   models.SeverityWarning,
		suggestion: "Cache DOM element references instead of querying repeatedly",
		check:      checkDOMQueryCount,
	},
	{
		id:         RuleDOMQueryInLoop,
		category:   models.IssueDOM,
		severity:   models.SeverityCritical,
		suggestion: "Move DOM queries out of the loop",
		check:      checkDOMQueryInLoop,
	},
	{
		id:         RuleUnboundedMutation,
		category:   models.IssueDOM,
		severity:   models.SeverityCritical,
		suggestion: "Bound the loop and reuse elements instead of creating them forever",
		check:      checkUnboundedMutation,
	},
	{
		id:         RuleDOMMutationInLoop,
		category:   models.IssueDOM,
		severity:   models.SeverityInfo,
		suggestion: "Batch insertions with a DocumentFragment",
		check:      checkMutationInLoop,
	},
	{
		id:         RuleDOMNodeCount,
		category:   models.IssueDOM,
		severity:   models.SeverityWarning,
		suggestion: "Reduce the number of elements; draw repeated shapes with CSS or canvas",
		check:      checkDOMNodeCount,
	},
	{
		id:         RuleWillChangeOveruse,
		category:   models.IssuePaint,
		severity:   models.SeverityInfo,
		suggestion: "Apply will-change only to elements that are about to animate",
		check:      checkWillChange,
	},
}

func ruleByID(id string) (rule, bool) {
	for _, r := range rules {
		if r.id == id {
			return r, true
		}
	}
	return rule{}, false
}

func runRules(doc *document, cfg Config) []models.Issue {
	var out []models.Issue
	for _, r := range rules {
		for _, is := range r.check(doc, cfg) {
			is.Rule = r.id
			is.Category = r.category
			if is.Severity == "" {
				is.Severity = r.severity
			}
			if is.Suggestion == "" {
				is.Suggestion = r.suggestion
			}
			out = append(out, is)
		}
	}
	return out
}

func checkParseFailures(doc *document, _ Config) []models.Issue {
	var out []models.Issue
	for _, f := range doc.failures {
		out = append(out, models.Issue{Location: f.Location, Message: f.Error()})
	}
	return out
}

func isLayoutProperty(p string) bool {
	switch p {
	case "left", "top", "right", "bottom", "width", "height", "margin", "padding",
		"min-width", "min-height", "max-width", "max-height", "font-size", "border-width":
		return true
	}
	return strings.HasPrefix(p, "margin-") || strings.HasPrefix(p, "padding-")
}

func isPaintProperty(p string) bool {
	switch p {
	case "box-shadow", "filter", "backdrop-filter", "-webkit-filter", "text-shadow":
		return true
	}
	return false
}

// animatedIn calls fn for every property animated by a keyframes block or a
// transition, with a location describing where.
func animatedIn(doc *document, fn func(loc, prop string)) {
	for _, sh := range doc.sheets {
		for _, kf := range sh.keyframes {
			var props []string
			for _, step := range kf.steps {
				for _, d := range step.decls {
					props = append(props, d.prop)
				}
			}
			slices.Sort(props)
			for _, p := range slices.Compact(props) {
				fn(sh.loc+" @keyframes "+kf.name, p)
			}
		}
		for _, r := range sh.rules {
			for _, d := range r.decls {
				for _, p := range transitionedProperties(d) {
					fn(ruleLoc(sh, r), p)
				}
			}
		}
	}
}

func ruleLoc(sh *stylesheet, r cssRule) string {
	if r.selector == "" {
		return sh.loc
	}
	return sh.loc + " " + r.selector
}

func checkLayoutAnimated(doc *document, _ Config) []models.Issue {
	var out []models.Issue
	animatedIn(doc, func(loc, prop string) {
		if isLayoutProperty(prop) {
			out = append(out, models.Issue{
				Location: loc,
				Message:  fmt.Sprintf("animating %q triggers layout on every frame", prop),
			})
		}
	})
	for _, sc := range doc.scripts {
		props := styledProperties(sc.code)
		slices.Sort(props)
		for _, p := range slices.Compact(props) {
			if isLayoutProperty(p) {
				out = append(out, models.Issue{
					Location: sc.loc,
					Message:  fmt.Sprintf("script writes style.%s, which triggers layout", p),
				})
			}
		}
	}
	return out
}

func checkPaintAnimated(doc *document, _ Config) []models.Issue {
	var out []models.Issue
	animatedIn(doc, func(loc, prop string) {
		if isPaintProperty(prop) {
			out = append(out, models.Issue{
				Location: loc,
				Message:  fmt.Sprintf("animating %q forces an expensive repaint on every frame", prop),
			})
		}
	})
	return out
}

func checkLongDurations(doc *document, cfg Config) []models.Issue {
	var out []models.Issue
	limit := float64(cfg.LongDurationMS)
	for _, sh := range doc.sheets {
		for _, r := range sh.rules {
			for _, d := range r.decls {
				for _, ms := range durationsMS(d) {
					if ms > limit {
						out = append(out, models.Issue{
							Location: ruleLoc(sh, r),
							Message:  fmt.Sprintf("%s of %gms exceeds %dms", d.prop, ms, cfg.LongDurationMS),
						})
					}
				}
			}
		}
	}
	return out
}

func checkComplexSelectors(doc *document, cfg Config) []models.Issue {
	var out []models.Issue
	for _, sh := range doc.sheets {
		for _, r := range sh.rules {
			if r.selector == "" {
				continue
			}
			depth, children := selectorDepth(r.selector)
			if depth > cfg.MaxSelectorDepth || children > maxChildCombinators {
				out = append(out, models.Issue{
					Location: ruleLoc(sh, r),
					Message:  fmt.Sprintf("selector depth %d with %d child combinators", depth, children),
				})
			}
		}
	}
	return out
}

func checkSetInterval(doc *document, _ Config) []models.Issue {
	var out []models.Issue
	for _, sc := range doc.scripts {
		if n := len(intervalCall.FindAllStringIndex(sc.code, -1)); n > 0 {
			out = append(out, models.Issue{
				Location: sc.loc,
				Message:  fmt.Sprintf("setInterval used %d time(s); frames are not synchronized with repaint", n),
			})
		}
	}
	return out
}

func checkTimeoutLoops(doc *document, _ Config) []models.Issue {
	var out []models.Issue
	for _, sc := range doc.scripts {
		for _, name := range selfSchedulingTimeouts(sc.code) {
			out = append(out, models.Issue{
				Location: sc.loc,
				Message:  fmt.Sprintf("function %s re-schedules itself with setTimeout", name),
			})
		}
	}
	return out
}

func countDOMQueries(doc *document) int {
	n := 0
	for _, sc := range doc.scripts {
		n += len(domQuery.FindAllStringIndex(sc.code, -1))
	}
	return n
}

func checkDOMQueryCount(doc *document, cfg Config) []models.Issue {
	if n := countDOMQueries(doc); n > cfg.DOMQueryLimit {
		return []models.Issue{{Message: fmt.Sprintf("%d DOM queries (limit %d)", n, cfg.DOMQueryLimit)}}
	}
	return nil
}

func checkDOMQueryInLoop(doc *document, _ Config) []models.Issue {
	var out []models.Issue
	for _, sc := range doc.scripts {
		for _, l := range sc.loops {
			if domQuery.MatchString(l.body) {
				out = append(out, models.Issue{Location: sc.loc, Message: "DOM query inside a loop body"})
				break
			}
		}
	}
	return out
}

func checkUnboundedMutation(doc *document, _ Config) []models.Issue {
	var out []models.Issue
	for _, sc := range doc.scripts {
		for _, l := range sc.loops {
			if l.unbounded && domMutation.MatchString(l.body) {
				out = append(out, models.Issue{Location: sc.loc, Message: "DOM keeps growing inside an unbounded loop"})
				break
			}
		}
	}
	return out
}

func checkMutationInLoop(doc *document, _ Config) []models.Issue {
	var out []models.Issue
	for _, sc := range doc.scripts {
		for _, l := range sc.loops {
			if !l.unbounded && domMutation.MatchString(l.body) {
				out = append(out, models.Issue{Location: sc.loc, Message: "DOM mutated once per loop iteration"})
				break
			}
		}
	}
	return out
}

func checkDOMNodeCount(doc *document, cfg Config) []models.Issue {
	if doc.nodes > cfg.MaxDOMNodes {
		return []models.Issue{{Message: fmt.Sprintf("%d elements (limit %d)", doc.nodes, cfg.MaxDOMNodes)}}
	}
	return nil
}

func countWillChange(doc *document) int {
	n := 0
	for _, sh := range doc.sheets {
		for _, r := range sh.rules {
			for _, d := range r.decls {
				if d.prop == "will-change" && d.value != "auto" {
					n++
				}
			}
		}
	}
	return n
}

func checkWillChange(doc *document, _ Config) []models.Issue {
	if n := countWillChange(doc); n > willChangeLimit {
		return []models.Issue{{Message: fmt.Sprintf("will-change declared on %d rules", n)}}
	}
	return nil
}
