package util

// Truncate shortens a string to max runes (not bytes) to preserve UTF-8.
// If the string is longer than max, it appends "..." to indicate truncation.
// Result snippets and fast-path previews are cut with this.
func Truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
