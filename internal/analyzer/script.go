package analyzer

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/spboyer/kinetic/internal/models"
)

// loop is one loop body found in a script.
type loop struct {
	body      string
	unbounded bool
}

type script struct {
	loc   string
	code  string // comments and string contents blanked
	loops []loop
}

var (
	loopHead     = regexp.MustCompile(`\b(for|while)\s*\(`)
	doHead       = regexp.MustCompile(`\bdo\s*\{`)
	forEachHead  = regexp.MustCompile(`\.forEach\s*\(`)
	domQuery     = regexp.MustCompile(`\b(?:getElementById|getElementsBy\w+|querySelector(?:All)?)\s*\(`)
	domMutation  = regexp.MustCompile(`\.(?:appendChild|insertBefore|insertAdjacentHTML|insertAdjacentElement|append|prepend)\s*\(|\.innerHTML\s*\+=`)
	intervalCall = regexp.MustCompile(`\bsetInterval\s*\(`)
	timeoutCall  = regexp.MustCompile(`\bsetTimeout\s*\(`)
	rafCall      = regexp.MustCompile(`\brequestAnimationFrame\s*\(`)
	styleAssign  = regexp.MustCompile(`\.style\.([a-zA-Z]+)\s*=[^=]`)
	funcDecl     = regexp.MustCompile(`\bfunction\s+([A-Za-z_$][\w$]*)\s*\(`)
	funcAssign   = regexp.MustCompile(`\b(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*=\s*(?:function\b|(?:\([^()]*\)|[A-Za-z_$][\w$]*)\s*=>)`)
)

func parseScript(b block) (*script, *models.AnalysisFailure) {
	clean, fail := blankComments(b.text, b.loc, true)
	if fail != nil {
		return nil, fail
	}
	if fail := checkBalance(clean, b.loc, "{}()[]"); fail != nil {
		return nil, fail
	}
	return &script{loc: b.loc, code: clean, loops: findLoops(clean)}, nil
}

func findLoops(code string) []loop {
	var out []loop
	for _, m := range loopHead.FindAllStringSubmatchIndex(code, -1) {
		parenOpen := m[1] - 1
		parenClose := matchingClose(code, parenOpen)
		if parenClose < 0 {
			continue
		}
		header := strings.Join(strings.Fields(code[parenOpen+1:parenClose]), "")
		unbounded := false
		switch code[m[2]:m[3]] {
		case "for":
			unbounded = header == ";;"
		case "while":
			unbounded = header == "true" || header == "1"
		}
		out = append(out, loop{body: statementAfter(code, parenClose+1), unbounded: unbounded})
	}
	for _, m := range doHead.FindAllStringIndex(code, -1) {
		open := m[1] - 1
		if end := matchingClose(code, open); end > 0 {
			tail := strings.Join(strings.Fields(code[end+1:min(len(code), end+32)]), "")
			unbounded := strings.HasPrefix(tail, "while(true)") || strings.HasPrefix(tail, "while(1)")
			out = append(out, loop{body: code[open+1 : end], unbounded: unbounded})
		}
	}
	for _, m := range forEachHead.FindAllStringIndex(code, -1) {
		open := m[1] - 1
		if end := matchingClose(code, open); end > 0 {
			out = append(out, loop{body: code[open+1 : end]})
		}
	}
	return out
}

// statementAfter returns the loop body starting at from: a braced block or a
// single statement.
func statementAfter(code string, from int) string {
	i := from
	for i < len(code) && unicode.IsSpace(rune(code[i])) {
		i++
	}
	if i >= len(code) {
		return ""
	}
	if code[i] == '{' {
		if end := matchingClose(code, i); end > 0 {
			return code[i+1 : end]
		}
		return ""
	}
	if end := strings.IndexByte(code[i:], ';'); end >= 0 {
		return code[i : i+end]
	}
	return code[i:]
}

// selfSchedulingTimeouts returns the names of functions that re-arm themselves
// through setTimeout, i.e. timeout-driven animation loops.
func selfSchedulingTimeouts(code string) []string {
	var names []string
	seen := map[string]bool{}
	for _, re := range []*regexp.Regexp{funcDecl, funcAssign} {
		for _, m := range re.FindAllStringSubmatch(code, -1) {
			name := m[1]
			if seen[name] {
				continue
			}
			seen[name] = true
			call := regexp.MustCompile(`\bsetTimeout\s*\(\s*` + regexp.QuoteMeta(name) + `\b`)
			if call.MatchString(code) {
				names = append(names, name)
			}
		}
	}
	return names
}

// styledProperties returns the CSS properties assigned through element.style,
// converted to their hyphenated names.
func styledProperties(code string) []string {
	var out []string
	for _, m := range styleAssign.FindAllStringSubmatch(code, -1) {
		out = append(out, kebab(m[1]))
	}
	return out
}

func kebab(camel string) string {
	var sb strings.Builder
	for i, r := range camel {
		if unicode.IsUpper(r) {
			if i > 0 {
				sb.WriteByte('-')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
