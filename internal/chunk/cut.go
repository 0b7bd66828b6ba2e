package chunk

import "unicode/utf8"

// CutHead returns s truncated to at most n bytes, backing the cut up so it
// never lands inside a multibyte rune. The result is always valid UTF-8
// when s is.
func CutHead(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// CutTail returns a suffix of s at most n bytes long, advancing the cut so
// it never lands inside a multibyte rune.
func CutTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	i := len(s) - n
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return s[i:]
}
