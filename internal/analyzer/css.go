package analyzer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/spboyer/kinetic/internal/models"
)

type declaration struct {
	prop  string
	value string
}

// cssRule is a style rule, or one step of a keyframes block.
type cssRule struct {
	selector string
	decls    []declaration
}

type keyframes struct {
	name  string
	steps []cssRule
}

type stylesheet struct {
	loc       string
	rules     []cssRule
	keyframes []keyframes
}

var keyframesPrelude = regexp.MustCompile(`(?i)^@(?:-webkit-|-moz-)?keyframes\s+(.+)$`)

// parseCSS builds a stylesheet from a style payload. Nested at-rules such as
// @media are flattened into the top-level rule list.
func parseCSS(b block) (*stylesheet, *models.AnalysisFailure) {
	clean, fail := blankComments(b.text, b.loc, false)
	if fail != nil {
		return nil, fail
	}
	if fail := checkBalance(clean, b.loc, "{}"); fail != nil {
		return nil, fail
	}
	sheet := &stylesheet{loc: b.loc}
	parseRules(clean, sheet)
	return sheet, nil
}

func parseRules(src string, sheet *stylesheet) {
	for i := 0; i < len(src); {
		open := strings.IndexAny(src[i:], "{;")
		if open < 0 {
			return
		}
		open += i
		prelude := strings.TrimSpace(src[i:open])
		if src[open] == ';' {
			// Statement at-rule such as @import or @charset.
			i = open + 1
			continue
		}
		end := matchingClose(src, open)
		if end < 0 {
			return
		}
		body := src[open+1 : end]

		switch {
		case keyframesPrelude.MatchString(prelude):
			name := strings.TrimSpace(keyframesPrelude.FindStringSubmatch(prelude)[1])
			kf := keyframes{name: name}
			for _, step := range splitBlocks(body) {
				kf.steps = append(kf.steps, cssRule{selector: step.prelude, decls: parseDeclarations(step.body)})
			}
			sheet.keyframes = append(sheet.keyframes, kf)
		case strings.HasPrefix(prelude, "@"):
			parseRules(body, sheet)
		default:
			sheet.rules = append(sheet.rules, cssRule{selector: collapseSpace(prelude), decls: parseDeclarations(body)})
		}
		i = end + 1
	}
}

type rawBlock struct {
	prelude string
	body    string
}

func splitBlocks(src string) []rawBlock {
	var out []rawBlock
	for i := 0; i < len(src); {
		open := strings.IndexByte(src[i:], '{')
		if open < 0 {
			break
		}
		open += i
		end := matchingClose(src, open)
		if end < 0 {
			break
		}
		out = append(out, rawBlock{prelude: collapseSpace(src[i:open]), body: src[open+1 : end]})
		i = end + 1
	}
	return out
}

func parseDeclarations(body string) []declaration {
	var out []declaration
	for _, part := range strings.Split(body, ";") {
		prop, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), "!important"))
		if prop == "" || strings.ContainsAny(prop, "{} ") {
			continue
		}
		out = append(out, declaration{prop: prop, value: value})
	}
	return out
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// selectorDepth returns the number of compound selectors in the deepest
// comma-separated selector, and its count of child combinators.
func selectorDepth(selector string) (depth, children int) {
	for _, sel := range strings.Split(selector, ",") {
		spaced := sel
		for _, comb := range []string{">", "+", "~"} {
			spaced = strings.ReplaceAll(spaced, comb, " "+comb+" ")
		}
		d, c := 0, 0
		for _, f := range strings.Fields(spaced) {
			switch f {
			case ">":
				c++
			case "+", "~":
			default:
				d++
			}
		}
		depth = max(depth, d)
		children = max(children, c)
	}
	return depth, children
}

var timeToken = regexp.MustCompile(`(?i)(?:^|[\s,])(\d+(?:\.\d+)?|\.\d+)(ms|s)\b`)

// durationsMS returns the duration values of a declaration in milliseconds.
// Shorthands contribute only their first time token per comma-separated item,
// which is the duration.
func durationsMS(d declaration) []float64 {
	switch d.prop {
	case "animation-duration", "transition-duration":
		var out []float64
		for _, m := range timeToken.FindAllStringSubmatch(d.value, -1) {
			out = append(out, toMS(m[1], m[2]))
		}
		return out
	case "animation", "transition", "-webkit-animation", "-webkit-transition":
		var out []float64
		for _, item := range strings.Split(d.value, ",") {
			if m := timeToken.FindStringSubmatch(" " + item); m != nil {
				out = append(out, toMS(m[1], m[2]))
			}
		}
		return out
	}
	return nil
}

func toMS(v, unit string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	if strings.EqualFold(unit, "s") {
		return f * 1000
	}
	return f
}

// transitionedProperties lists the properties named by a transition declaration.
func transitionedProperties(d declaration) []string {
	switch d.prop {
	case "transition-property":
		var out []string
		for _, p := range strings.Split(d.value, ",") {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" && p != "none" {
				out = append(out, p)
			}
		}
		return out
	case "transition", "-webkit-transition":
		var out []string
		for _, item := range strings.Split(d.value, ",") {
			fields := strings.Fields(strings.ToLower(item))
			if len(fields) == 0 || fields[0] == "none" {
				continue
			}
			if timeToken.MatchString(" " + fields[0]) {
				// "transition: 1s" animates everything.
				out = append(out, "all")
				continue
			}
			out = append(out, fields[0])
		}
		return out
	}
	return nil
}
