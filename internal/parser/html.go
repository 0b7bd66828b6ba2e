package parser

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"citerag/internal/chunk"
)

// HTMLParser handles HTML files. Headings become hash-prefixed lines and
// list items keep their markers so downstream segmentation sees the
// document's structure.
type HTMLParser struct {
	PageSize int
}

func (p *HTMLParser) Parse(data []byte, filename string) ([]chunk.Page, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var blocks []string
	appendBlock := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			blocks = append(blocks, s)
		}
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if level := headingLevel(n.Data); level > 0 {
				appendBlock(strings.Repeat("#", level) + " " + textContent(n))
				return
			}

			switch n.Data {
			case "script", "style", "nav", "footer", "header":
				return
			case "p", "blockquote", "pre":
				appendBlock(textContent(n))
				return
			case "ul", "ol":
				appendBlock(listText(n))
				return
			case "table":
				appendBlock(tableText(n))
				return
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}

	if body := findElement(doc, "body"); body != nil {
		walk(body)
	} else {
		walk(doc)
	}

	return paginate(strings.Join(blocks, "\n\n"), p.PageSize), nil
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

// listText renders a ul/ol element with markdown list markers.
func listText(n *html.Node) string {
	ordered := n.Data == "ol"
	var sb strings.Builder
	item := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		item++
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		if ordered {
			fmt.Fprintf(&sb, "%d. %s", item, textContent(c))
		} else {
			sb.WriteString("- " + textContent(c))
		}
	}
	return sb.String()
}

// tableText renders a table element as pipe-delimited rows.
func tableText(n *html.Node) string {
	var rows []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, textContent(c))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, "| "+strings.Join(cells, " | ")+" |")
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(rows, "\n")
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}
