package ocr

import "strings"

// snippet cuts s to at most n runes for log lines.
func snippet(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// normalizeOCRText folds every whitespace run (newlines and tabs included)
// into one space.
func normalizeOCRText(t string) string {
	return strings.Join(strings.Fields(t), " ")
}
