package analyzer

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/spboyer/kinetic/internal/models"
)

// block is one CSS or JS payload pulled out of the markup.
type block struct {
	loc  string
	text string
}

// document is the lightweight syntactic model the rules run against.
type document struct {
	nodes    int
	sheets   []*stylesheet
	scripts  []*script
	failures []*models.AnalysisFailure
}

// parseDocument walks the markup and parses every style and script payload.
// Payloads that cannot be parsed are reported as failures and left out of the
// model; the rest of the document is still analyzed.
func parseDocument(source string) *document {
	doc := &document{}
	if strings.TrimSpace(source) == "" {
		doc.failures = append(doc.failures, &models.AnalysisFailure{Reason: "empty source"})
		return doc
	}

	root, err := html.Parse(strings.NewReader(source))
	if err != nil {
		doc.failures = append(doc.failures, &models.AnalysisFailure{Reason: err.Error()})
		return doc
	}

	var styles, scripts []block
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Html, atom.Head, atom.Body:
				// Synthesized by the parser for fragments; not part of the artifact.
			default:
				doc.nodes++
			}

			switch n.DataAtom {
			case atom.Style:
				styles = append(styles, block{loc: fmt.Sprintf("style[%d]", len(styles)), text: textContent(n)})
			case atom.Script:
				if isJavaScript(n) {
					if body := textContent(n); strings.TrimSpace(body) != "" {
						scripts = append(scripts, block{loc: fmt.Sprintf("script[%d]", len(scripts)), text: body})
					}
				}
			}

			for _, a := range n.Attr {
				switch {
				case a.Key == "style" && strings.TrimSpace(a.Val) != "":
					styles = append(styles, block{loc: n.Data + "[style]", text: "{" + a.Val + "}"})
				case strings.HasPrefix(a.Key, "on") && strings.TrimSpace(a.Val) != "":
					scripts = append(scripts, block{loc: n.Data + "[" + a.Key + "]", text: a.Val})
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	for _, b := range styles {
		sheet, err := parseCSS(b)
		if err != nil {
			doc.failures = append(doc.failures, err)
			continue
		}
		doc.sheets = append(doc.sheets, sheet)
	}
	for _, b := range scripts {
		sc, err := parseScript(b)
		if err != nil {
			doc.failures = append(doc.failures, err)
			continue
		}
		doc.scripts = append(doc.scripts, sc)
	}
	return doc
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		}
	}
	return sb.String()
}

func isJavaScript(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key != "type" {
			continue
		}
		t := strings.ToLower(strings.TrimSpace(a.Val))
		return t == "" || t == "module" || strings.Contains(t, "javascript") || strings.Contains(t, "ecmascript")
	}
	return true
}

// blankComments replaces comments and string literal contents with spaces so
// offsets are preserved and later scans never see braces inside them. When js
// is set, line comments and template literals are recognized too.
func blankComments(src, loc string, js bool) (string, *models.AnalysisFailure) {
	out := []byte(src)
	blank := func(from, to int) {
		for i := from; i < to; i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}

	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				return "", &models.AnalysisFailure{Reason: "unterminated comment", Location: loc}
			}
			end += i + 4
			blank(i, end)
			i = end - 1
		case js && c == '/' && i+1 < len(src) && src[i+1] == '/':
			end := strings.IndexByte(src[i:], '\n')
			if end < 0 {
				end = len(src)
			} else {
				end += i
			}
			blank(i, end)
			i = end - 1
		case js && c == '/' && regexAllowed(out[:i]):
			end := closingSlash(src, i)
			if end < 0 {
				return "", &models.AnalysisFailure{Reason: "unterminated regular expression", Location: loc}
			}
			blank(i+1, end)
			i = end
		case c == '"' || c == '\'' || (js && c == '`'):
			end := closingQuote(src, i)
			if end < 0 {
				return "", &models.AnalysisFailure{Reason: "unterminated string literal", Location: loc}
			}
			blank(i+1, end)
			i = end
		}
	}
	return string(out), nil
}

// closingQuote returns the index of the quote closing the literal opened at
// start, or -1. Plain strings may not span lines.
func closingQuote(src string, start int) int {
	q := src[start]
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '\n':
			if q != '`' {
				return -1
			}
		case q:
			return i
		}
	}
	return -1
}

// regexKeywords may directly precede a regular expression literal.
var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "of": true, "new": true, "delete": true, "void": true,
	"throw": true, "instanceof": true, "yield": true, "await": true,
}

// regexAllowed reports whether a '/' following prev starts a regular
// expression rather than a division, judged by the last significant token.
func regexAllowed(prev []byte) bool {
	i := len(prev) - 1
	for i >= 0 && isSpace(prev[i]) {
		i--
	}
	if i < 0 {
		return true
	}
	c := prev[i]
	if strings.IndexByte("(,=:[!&|?{};+-*%<>~^", c) >= 0 {
		return true
	}
	end := i + 1
	for i >= 0 && isIdentByte(prev[i]) {
		i--
	}
	return regexKeywords[string(prev[i+1:end])]
}

// closingSlash returns the index of the slash ending the regular expression
// opened at start, or -1. Slashes inside character classes do not end it.
func closingSlash(src string, start int) int {
	inClass := false
	for i := start + 1; i < len(src); i++ {
		switch src[i] {
		case '\\':
			i++
		case '\n':
			return -1
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if !inClass {
				return i
			}
		}
	}
	return -1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// checkBalance verifies that brackets nest properly.
func checkBalance(src, loc, pairs string) *models.AnalysisFailure {
	var stack []byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		if idx := strings.IndexByte(pairs, c); idx >= 0 {
			if idx%2 == 0 {
				stack = append(stack, pairs[idx+1])
				continue
			}
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return &models.AnalysisFailure{Reason: fmt.Sprintf("unbalanced %q", c), Location: loc}
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return &models.AnalysisFailure{Reason: fmt.Sprintf("missing %q", stack[len(stack)-1]), Location: loc}
	}
	return nil
}

// matchingClose returns the index of the bracket closing the one at open in a
// string already passed through blankComments, or -1.
func matchingClose(src string, open int) int {
	o := src[open]
	var c byte
	switch o {
	case '{':
		c = '}'
	case '(':
		c = ')'
	case '[':
		c = ']'
	default:
		return -1
	}
	depth := 0
	for i := open; i < len(src); i++ {
		switch src[i] {
		case o:
			depth++
		case c:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
