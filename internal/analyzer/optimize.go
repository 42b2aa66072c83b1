package analyzer

import (
	"regexp"
	"slices"
	"strings"

	"github.com/spboyer/kinetic/internal/models"
)

var (
	styleElement = regexp.MustCompile(`(?is)(<style\b[^>]*>)(.*?)(</style\s*>)`)
	translate2D  = regexp.MustCompile(`\btranslate\(([^()]*)\)`)
)

// Optimize mechanically applies the safe rewrites to the style blocks of
// source:
//
//   - keyframe steps that move an element with left/top and set no transform
//     get a single translate() transform instead,
//   - translate(x[, y]) with plain arguments becomes translate3d(x, y, 0).
//
// Style blocks that do not parse are left untouched. Optimize is idempotent:
// the output contains nothing either rewrite matches.
func Optimize(source string) string {
	return styleElement.ReplaceAllStringFunc(source, func(m string) string {
		parts := styleElement.FindStringSubmatch(m)
		css := parts[2]
		if _, fail := parseCSS(block{text: css}); fail != nil {
			return m
		}
		return parts[1] + promoteTranslate(replaceKeyframeOffsets(css)) + parts[3]
	})
}

// Optimize applies the package-level Optimize.
func (a *Analyzer) Optimize(source string) string {
	return Optimize(source)
}

// replaceKeyframeOffsets rewrites left/top inside keyframe steps. css must be
// balanced.
func replaceKeyframeOffsets(css string) string {
	clean, fail := blankComments(css, "", false)
	if fail != nil {
		return css
	}

	var sb strings.Builder
	last := 0
	for i := 0; i < len(clean); {
		open := strings.IndexAny(clean[i:], "{;")
		if open < 0 {
			break
		}
		open += i
		if clean[open] == ';' {
			i = open + 1
			continue
		}
		end := matchingClose(clean, open)
		if end < 0 {
			break
		}
		prelude := strings.TrimSpace(clean[i:open])
		switch {
		case keyframesPrelude.MatchString(prelude):
			// Rewrite each step body in place.
			for j := open + 1; j < end; {
				so := strings.IndexByte(clean[j:end], '{')
				if so < 0 {
					break
				}
				so += j
				se := matchingClose(clean, so)
				if se < 0 || se > end {
					break
				}
				if body, ok := rewriteStep(css[so+1:se], clean[so+1:se]); ok {
					sb.WriteString(css[last : so+1])
					sb.WriteString(body)
					last = se
				}
				j = se + 1
			}
		case strings.HasPrefix(prelude, "@"):
			inner := replaceKeyframeOffsets(css[open+1 : end])
			if inner != css[open+1:end] {
				sb.WriteString(css[last : open+1])
				sb.WriteString(inner)
				last = end
			}
		}
		i = end + 1
	}
	sb.WriteString(css[last:])
	return sb.String()
}

// rewriteStep replaces left/top in one keyframe step with a transform. raw is
// the step body and clean the same body with comments and strings blanked.
// Kept declarations are copied verbatim. It reports false when the step needs
// no change or carries !important, which a rewrite would silently drop.
func rewriteStep(raw, clean string) (string, bool) {
	type segment struct {
		prop, value, text string
	}
	var segs []segment
	var x, y string
	start := 0
	for start <= len(clean) {
		end := strings.IndexByte(clean[start:], ';')
		if end < 0 {
			end = len(clean)
		} else {
			end += start
		}
		c := clean[start:end]
		if strings.Contains(c, "!") {
			return raw, false
		}
		if strings.TrimSpace(c) != "" {
			seg := segment{text: strings.TrimSpace(raw[start:end])}
			if prop, value, ok := strings.Cut(c, ":"); ok {
				seg.prop = strings.ToLower(strings.TrimSpace(prop))
				seg.value = collapseSpace(value)
			}
			switch seg.prop {
			case "transform":
				return raw, false
			case "left":
				x = seg.value
			case "top":
				y = seg.value
			}
			segs = append(segs, seg)
		}
		start = end + 1
	}
	if x == "" && y == "" {
		return raw, false
	}
	if x == "" {
		x = "0"
	}
	if y == "" {
		y = "0"
	}

	var kept []string
	for _, seg := range segs {
		if seg.prop != "left" && seg.prop != "top" {
			kept = append(kept, seg.text)
		}
	}
	kept = append(kept, "transform: translate("+x+", "+y+")")
	return " " + strings.Join(kept, "; ") + "; ", true
}

// promoteTranslate turns 2D translations into translate3d so the element is
// composited on the GPU.
func promoteTranslate(css string) string {
	return translate2D.ReplaceAllStringFunc(css, func(m string) string {
		args := strings.Split(translate2D.FindStringSubmatch(m)[1], ",")
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
		switch {
		case len(args) == 1 && args[0] != "":
			return "translate3d(" + args[0] + ", 0, 0)"
		case len(args) == 2 && args[0] != "" && args[1] != "":
			return "translate3d(" + args[0] + ", " + args[1] + ", 0)"
		default:
			return m
		}
	})
}

// Suggestion is one remediation derived from a profile's issues.
type Suggestion struct {
	Rule     string          `json:"rule"`
	Severity models.Severity `json:"severity"`
	Text     string          `json:"text"`
	Count    int             `json:"count"`
	// AutoFix is set when Optimize can apply the remediation.
	AutoFix bool `json:"auto_fix"`
}

// Suggestions returns one remediation per rule found in p, most severe first,
// then in rule order.
func Suggestions(p models.PerformanceProfile) []Suggestion {
	index := map[string]int{}
	var out []Suggestion
	for _, is := range p.Issues {
		if i, ok := index[is.Rule]; ok {
			out[i].Count++
			if is.Severity.Rank() > out[i].Severity.Rank() {
				out[i].Severity = is.Severity
			}
			continue
		}
		s := Suggestion{Rule: is.Rule, Severity: is.Severity, Text: is.Suggestion, Count: 1}
		if r, ok := ruleByID(is.Rule); ok {
			s.AutoFix = r.autoFix
		}
		index[is.Rule] = len(out)
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b Suggestion) int {
		return b.Severity.Rank() - a.Severity.Rank()
	})
	return out
}
