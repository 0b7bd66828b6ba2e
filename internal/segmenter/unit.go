package segmenter

import (
	"regexp"
	"strings"

	"citerag/internal/chunk"
)

// Priority orders units by how strongly the grouper must preserve them.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Unit is a classified structural span of raw text. Units are transient:
// they exist only between Parse and Group within one segmentation call.
type Unit struct {
	Kind             chunk.Kind
	Content          string
	KeepTogether     bool
	Priority         Priority
	SectionHierarchy []string
	HasCrossRefs     bool
}

// crossRefPatterns match phrasing that refers the reader to other parts of
// the document. A numbered list mentioning one of these is promoted to
// critical priority so its referent context survives grouping.
var crossRefPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsee\s+item\s+\d+`),
	regexp.MustCompile(`(?i)\bsection\s+\d+(\.\d+)*`),
	regexp.MustCompile(`(?i)\babove\b`),
	regexp.MustCompile(`(?i)\bbelow\b`),
	regexp.MustCompile(`(?i)\baforementioned\b`),
}

func hasCrossReference(content string) bool {
	for _, p := range crossRefPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

// Line classification predicates. These are deliberately hand-rolled rather
// than regex-driven: the scanner in Parse is a state machine over lines, and
// the predicates below are its transition tests.

// headingLevel returns the markdown heading level (1-6) of a line, or 0 if
// the line is not a heading.
func headingLevel(line string) int {
	trimmed := strings.TrimLeft(line, " \t")
	n := 0
	for n < len(trimmed) && trimmed[n] == '#' {
		n++
	}
	if n < 1 || n > 6 {
		return 0
	}
	if n >= len(trimmed) || (trimmed[n] != ' ' && trimmed[n] != '\t') {
		return 0
	}
	if strings.TrimSpace(trimmed[n:]) == "" {
		return 0
	}
	return n
}

// headingTitle extracts the title text of a heading line.
func headingTitle(line string) string {
	trimmed := strings.TrimLeft(line, " \t")
	return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
}

// isTableRow reports whether a line is a pipe-delimited table row.
func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return len(trimmed) >= 2 && strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|")
}

// isNumberedItem reports whether a line starts a numbered list item,
// e.g. "1. " or "12) ".
func isNumberedItem(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(trimmed) {
		return false
	}
	if trimmed[i] != '.' && trimmed[i] != ')' {
		return false
	}
	i++
	return i < len(trimmed) && (trimmed[i] == ' ' || trimmed[i] == '\t')
}

// isBulletItem reports whether a line starts a bullet list item.
func isBulletItem(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	if len(trimmed) < 2 {
		return false
	}
	switch trimmed[0] {
	case '-', '*', '+':
		return trimmed[1] == ' ' || trimmed[1] == '\t'
	}
	return false
}

// isCodeFence reports whether a line opens or closes a fenced code block.
func isCodeFence(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// isIndented reports whether a line is an indented continuation of a list
// item (at least two spaces or a tab of leading whitespace).
func isIndented(line string) bool {
	return strings.HasPrefix(line, "\t") || strings.HasPrefix(line, "  ")
}

// isStructuralStart reports whether a line begins any non-paragraph unit.
// Paragraph collection stops here.
func isStructuralStart(line string) bool {
	return headingLevel(line) > 0 ||
		isTableRow(line) ||
		isNumberedItem(line) ||
		isBulletItem(line) ||
		isCodeFence(line)
}
