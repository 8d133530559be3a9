// Package security provides log redaction helpers.
package security

import (
	"net/url"
	"sort"
	"strings"
)

// RedactURL removes sensitive information from a URL for safe logging.
// It redacts user info and query parameters that look like secrets.
func RedactURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "[invalid-url]"
	}

	if parsed.User != nil {
		parsed.User = url.User("[REDACTED]")
	}

	if parsed.RawQuery != "" {
		parsed.RawQuery = redactValues(parsed.Query()).Encode()
	}

	return parsed.String()
}

// sensitiveParamPatterns are parameter names that likely contain secrets.
var sensitiveParamPatterns = []string{
	"password",
	"passwd",
	"pwd",
	"pass",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"auth",
	"credential",
	"key",
	"session",
	"sid",
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range sensitiveParamPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func redactValues(params url.Values) url.Values {
	redacted := make(url.Values, len(params))
	for key, values := range params {
		if isSensitive(key) {
			redacted[key] = []string{"[REDACTED]"}
		} else {
			redacted[key] = values
		}
	}
	return redacted
}

// FieldNames returns the sorted names of a form body for logging.
// Values are never included.
func FieldNames(form url.Values) []string {
	names := make([]string, 0, len(form))
	for k := range form {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// RedactForm returns an encoded form body with secret values replaced.
func RedactForm(form url.Values) string {
	return redactValues(form).Encode()
}
