package parser

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"citerag/internal/chunk"
)

// MarkdownParser handles markdown files using goldmark. The AST is
// re-emitted in normalized form, keeping the structural markers (heading
// hashes, list markers, code fences) the segmenter classifies on, then
// windowed into pages.
type MarkdownParser struct {
	PageSize int
}

func (p *MarkdownParser) Parse(data []byte, filename string) ([]chunk.Page, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(data))

	var sb strings.Builder
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		block := renderBlock(n, data)
		if block == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(block)
	}

	return paginate(sb.String(), p.PageSize), nil
}

// renderBlock re-emits one top-level block in normalized markdown.
func renderBlock(n ast.Node, src []byte) string {
	switch node := n.(type) {
	case *ast.Heading:
		title := strings.TrimSpace(string(node.Text(src)))
		if title == "" {
			return ""
		}
		return strings.Repeat("#", node.Level) + " " + title

	case *ast.FencedCodeBlock:
		var sb strings.Builder
		sb.WriteString("```")
		if lang := node.Language(src); lang != nil {
			sb.Write(lang)
		}
		sb.WriteString("\n")
		writeLines(&sb, node, src)
		sb.WriteString("```")
		return sb.String()

	case *ast.CodeBlock:
		var sb strings.Builder
		sb.WriteString("```\n")
		writeLines(&sb, node, src)
		sb.WriteString("```")
		return sb.String()

	case *ast.List:
		var sb strings.Builder
		item := 0
		for li := node.FirstChild(); li != nil; li = li.NextSibling() {
			item++
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			if node.IsOrdered() {
				fmt.Fprintf(&sb, "%d. %s", item, blockText(li, src))
			} else {
				sb.WriteString("- " + blockText(li, src))
			}
		}
		return sb.String()

	default:
		return blockText(n, src)
	}
}

// blockText collects the raw source lines of a block node and its block
// children.
func blockText(n ast.Node, src []byte) string {
	var sb strings.Builder
	writeLines(&sb, n, src)
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if c.Type() != ast.TypeBlock {
			continue
		}
		writeLines(&sb, c, src)
	}
	return strings.TrimSpace(sb.String())
}

func writeLines(sb *strings.Builder, n ast.Node, src []byte) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
}
