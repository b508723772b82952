package textutil

import (
	"strings"

	"golang.org/x/text/width"
)

// NormalizeName folds full-width/half-width variants and collapses whitespace so
// that staff-entered customer names match account names regardless of input mode.
func NormalizeName(value string) string {
	folded := width.Fold.String(value)
	fields := strings.Fields(folded)
	return strings.Join(fields, " ")
}

// NamesEqual reports whether two names are equal after normalization.
func NamesEqual(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
