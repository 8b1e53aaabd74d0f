package sanitize

import (
	"strings"
	"unicode/utf8"
)

const (
	// RedactedMarker replaces the value of any sensitive parameter.
	RedactedMarker = "[REDACTED]"

	// TruncatedSuffix is appended to strings cut at their length limit.
	TruncatedSuffix = "... [truncated]"

	// MaxParameterLength is the longest string parameter transmitted as-is.
	MaxParameterLength = 1000
)

// sensitiveTerms are matched as case-insensitive substrings of parameter names.
var sensitiveTerms = []string{
	"password",
	"pass",
	"pwd",
	"token",
	"key",
	"secret",
	"apikey",
	"api_key",
	"auth",
	"authorization",
	"credential",
}

// IsSensitiveKey reports whether a parameter name contains a sensitive term.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, term := range sensitiveTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Parameters returns a sanitized copy of params.
//
// Values of sensitive keys become RedactedMarker. Remaining string values longer
// than MaxParameterLength are truncated. Everything else is deep-copied so the
// returned map never aliases the caller's arguments. A nil map yields an empty map.
func Parameters(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		if IsSensitiveKey(k) {
			out[k] = RedactedMarker
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = truncateString(s, MaxParameterLength)
			continue
		}
		out[k] = deepCopy(v)
	}
	return out
}

func truncateString(s string, limit int) string {
	out, _ := truncateRunes(s, limit)
	return out
}

// truncateRunes cuts s after limit characters and appends TruncatedSuffix.
// It also returns the character count of s.
func truncateRunes(s string, limit int) (string, int) {
	n := utf8.RuneCountInString(s)
	if n <= limit {
		return s, n
	}
	cut := 0
	for i := 0; i < limit; i++ {
		_, size := utf8.DecodeRuneInString(s[cut:])
		cut += size
	}
	return s[:cut] + TruncatedSuffix, n
}

// deepCopy clones the JSON-shaped containers found in tool arguments.
func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return val
	}
}
