package exchange

import (
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/spboyer/kinetic/internal/models"
)

var fullDocument = regexp.MustCompile(`(?i)^\s*(<!doctype\s+html|<html[\s>])`)

// HTML returns a standalone preview page for s. Source that already is a full
// document is returned unchanged; fragments are wrapped.
func HTML(s *models.Solution) string {
	if fullDocument.MatchString(s.SourceCode) {
		return s.SourceCode
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&sb, "<title>%s</title>\n", html.EscapeString(title(s)))
	fmt.Fprintf(&sb, "<meta name=\"kinetic-id\" content=\"%s\">\n", html.EscapeString(s.ID))
	fmt.Fprintf(&sb, "<meta name=\"kinetic-score\" content=\"%.4f\">\n", s.ComputedScore)
	sb.WriteString("</head>\n<body>\n")
	sb.WriteString(s.SourceCode)
	if !strings.HasSuffix(s.SourceCode, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("</body>\n</html>\n")
	return sb.String()
}

func title(s *models.Solution) string {
	name := string(s.Category)
	if name == "" {
		name = "animation"
	}
	return fmt.Sprintf("%s (%s) v%d", name, s.TechStack, s.Version)
}
