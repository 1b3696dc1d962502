package tgui

import "unicode/utf8"

// TruncRunes returns s truncated to at most n runes.
// It appends an ellipsis "…" when truncated.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos] + "…"
		}
		i++
	}
	return s
}

// Middle keeps the first and last n runes of s, e.g. for signatures.
func Middle(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= 2*n {
		return s
	}
	return string(r[:n]) + "…" + string(r[len(r)-n:])
}
