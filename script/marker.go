package script

import "strings"

// Expression fields in JSONata-mode states are marked by wrapping the source
// in {% ... %}. The marker lets callers distinguish expression strings from
// plain string literals without attempting to parse every string.
const (
	markerOpen  = "{%"
	markerClose = "%}"
)

// IsExpression reports whether s carries the expression marker.
func IsExpression(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, markerOpen) && strings.HasSuffix(trimmed, markerClose) &&
		len(trimmed) >= len(markerOpen)+len(markerClose)
}

// Unwrap strips the expression marker and surrounding whitespace, returning
// the bare expression source.
func Unwrap(s string) string {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, markerOpen)
	trimmed = strings.TrimSuffix(trimmed, markerClose)
	return strings.TrimSpace(trimmed)
}
