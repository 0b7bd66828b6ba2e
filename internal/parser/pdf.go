package parser

import (
	"fmt"
	"os"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"citerag/internal/chunk"
)

// PDFParser handles PDF files. The library needs a seekable file with a
// known size, so the upload is staged through a temp file. PDF pages map
// directly to output pages.
type PDFParser struct{}

func (p *PDFParser) Parse(data []byte, filename string) ([]chunk.Page, error) {
	tmp, err := os.CreateTemp("", "citerag-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	f, reader, err := pdflib.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var pages []chunk.Page
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, chunk.Page{Page: i, Text: text})
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf %s: no extractable text", filename)
	}
	return pages, nil
}
