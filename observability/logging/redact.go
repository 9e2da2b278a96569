package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue is the placeholder emitted in place of credential material.
// The node holds two secrets, the RPC admin token and the webhook HMAC key,
// and neither may ever appear in a log line.
const RedactedValue = "[REDACTED]"

// MaskValue returns the redacted placeholder for non-empty values. Empty
// values pass through unchanged so unset secrets stay visible as unset.
func MaskValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return value
	}
	return RedactedValue
}

// MaskField builds a slog.Attr whose value is masked via MaskValue.
func MaskField(key, value string) slog.Attr {
	return slog.String(key, MaskValue(value))
}
