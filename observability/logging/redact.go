package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the canonical placeholder used for sensitive fields in logs.
const RedactedValue = "[REDACTED]"

var redactionAllowlist = map[string]struct{}{
	"service":   {},
	"env":       {},
	"message":   {},
	"severity":  {},
	"timestamp": {},
	"error":     {},
	"reason":    {},
	"component": {},
	"op":        {},
	"bucket":    {},
	"status":    {},
	"caller":    {},
	"user":      {},
	"amount":    {},
	"nonce":     {},
	"receipt":   {},
}

// IsAllowlisted reports whether the provided key is exempt from automatic redaction.
func IsAllowlisted(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	_, ok := redactionAllowlist[normalized]
	return ok
}

// MaskValue returns the canonical redacted placeholder for non-empty values. Empty values
// are returned unchanged to avoid introducing noise in logs.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskURL keeps the scheme and host of a DSN or endpoint and masks any
// embedded credentials. Keyword DSNs ("host=db password=pw") have their
// password masked.
func MaskURL(raw string) string {
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return maskKeywordDSN(raw)
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return raw
	}
	return scheme + "://" + RedactedValue + "@" + rest[at+1:]
}

func maskKeywordDSN(raw string) string {
	fields := strings.Fields(raw)
	masked := false
	for i, field := range fields {
		key, value, ok := strings.Cut(field, "=")
		if ok && strings.EqualFold(key, "password") {
			fields[i] = key + "=" + MaskValue(value)
			masked = true
		}
	}
	if !masked {
		return raw
	}
	return strings.Join(fields, " ")
}

// MaskField returns a slog.Attr that redacts the supplied value unless the key is
// explicitly allowlisted. The original key casing is preserved for readability.
func MaskField(key, value string) slog.Attr {
	if IsAllowlisted(key) {
		return slog.String(key, value)
	}
	return slog.String(key, MaskValue(value))
}
