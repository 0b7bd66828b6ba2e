// Package parser converts uploaded document bytes into page-oriented text
// for segmentation. Each format parser emits pages that preserve the
// document's structural markers (headings, lists, tables) in markdown-like
// form so the segmenter can classify them.
package parser

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"citerag/internal/chunk"
)

// DefaultPageSize is the character window used when a format has no native
// page boundaries.
const DefaultPageSize = 2000

// Parser converts raw document bytes into pages.
type Parser interface {
	Parse(data []byte, filename string) ([]chunk.Page, error)
}

// SupportedExtensions lists the file extensions this service accepts.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
}

// ForFile returns the parser for a filename's extension.
func ForFile(filename string) (Parser, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return &TextParser{PageSize: DefaultPageSize}, nil
	case ".md", ".markdown":
		return &MarkdownParser{PageSize: DefaultPageSize}, nil
	case ".html", ".htm":
		return &HTMLParser{PageSize: DefaultPageSize}, nil
	case ".pdf":
		return &PDFParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(filename))
	}
}

// IsSupportedExtension checks whether a filename can be parsed.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// paginate cuts text into fixed-size pages. Pages are numbered from 1.
func paginate(text string, pageSize int) []chunk.Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var pages []chunk.Page
	for len(text) > 0 {
		head := chunk.CutHead(text, pageSize)
		if head == "" {
			// pageSize smaller than the leading rune; take it whole.
			_, n := utf8.DecodeRuneInString(text)
			head = text[:n]
		}
		pages = append(pages, chunk.Page{
			Page: len(pages) + 1,
			Text: head,
		})
		text = text[len(head):]
	}
	return pages
}
