package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces secrets in log output.
const RedactedValue = "[REDACTED]"

// MaskField returns an attribute whose value is replaced by RedactedValue
// unless it is empty.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// Endpoint strips credentials, path and query from an RPC or webhook URL so
// API keys embedded in them never reach the logs.
func Endpoint(key, raw string) slog.Attr {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return MaskField(key, raw)
	}
	return slog.String(key, parsed.Scheme+"://"+parsed.Host)
}
