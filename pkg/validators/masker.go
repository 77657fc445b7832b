package validators

import "strings"

// MaskString hides a sensitive value for logging, keeping the last four
// characters visible.
func MaskString(value string) string {
	if len(value) < 4 {
		return "************"
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}
