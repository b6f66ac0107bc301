package logger

import (
	"log/slog"
	"net/url"
	"strings"
)

// sensitiveQueryKeys are matched as substrings of lower-cased parameter names
var sensitiveQueryKeys = []string{
	"password",
	"token",
	"secret",
	"apikey",
	"api_key",
	"email",
	"auth",
	"session",
	"userid",
	"voiceprofile",
	"samples",
}

// SanitizedEmail masks an email address for logging (e.g., "u***@*******.com")
func SanitizedEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domain, "@") {
		return "[invalid-email]"
	}

	if len(local) > 1 {
		local = local[:1] + strings.Repeat("*", len(local)-1)
	}

	// keep the TLD only
	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}

	return local + "@" + strings.Join(labels, ".")
}

// RedactedAttr returns value as a slog attribute outside production and
// "[REDACTED]" in production
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString reports whether the raw query names a sensitive
// parameter and should be redacted as a whole. Unparseable queries are
// treated as sensitive.
func SanitizeQueryString(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}

	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return true
	}

	for key := range values {
		key = strings.ToLower(key)
		for _, sensitive := range sensitiveQueryKeys {
			if strings.Contains(key, sensitive) {
				return true
			}
		}
	}
	return false
}
