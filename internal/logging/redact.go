package logging

import (
	"net/url"
	"regexp"
	"strings"
)

// Query parameter and header names whose values never reach the logs.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"session",
	"api_key",
	"apikey",
	"authorization",
	"auth",
	"credential",
	"sig",
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),
	regexp.MustCompile(`(?i)(key|token|secret|password|session)[=:]["']?([a-zA-Z0-9+/=_.-]{16,})["']?`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces secret-looking substrings in s.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// RedactURL masks userinfo passwords and sensitive query parameters. Feed
// URLs sometimes carry a session token in the query string.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Redact(raw)
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), RedactedValue)
		}
	}
	if u.RawQuery != "" {
		query := u.Query()
		for key := range query {
			if IsSensitiveField(key) {
				query.Set(key, RedactedValue)
			}
		}
		u.RawQuery = query.Encode()
	}
	// url.URL.String escapes the brackets in the placeholder.
	return strings.ReplaceAll(u.String(), url.QueryEscape(RedactedValue), RedactedValue)
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
