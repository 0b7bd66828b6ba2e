package parser

import (
	"citerag/internal/chunk"
)

// TextParser handles plain text files. Text has no native page boundaries,
// so it is windowed into fixed-size pages.
type TextParser struct {
	PageSize int
}

func (p *TextParser) Parse(data []byte, filename string) ([]chunk.Page, error) {
	return paginate(string(data), p.PageSize), nil
}
