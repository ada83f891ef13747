package models

import "unicode/utf8"

// Truncate caps s at n bytes without splitting a multibyte character, so the
// result stays valid UTF-8 for Postgres text columns.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
