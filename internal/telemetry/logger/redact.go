package logger

import (
	"log/slog"
	"strings"
)

// Header names whose values never reach the log verbatim.
var sensitiveHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
	"set-cookie":          true,
	"x-api-key":           true,
	"x-auth-token":        true,
}

// Key fragments that mark a query parameter or attribute as sensitive.
var sensitiveKeyPatterns = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"api_key",
	"credential",
	"session",
}

// Authorization schemes kept visible when masking a credential.
var credentialSchemes = []string{"Basic ", "Bearer ", "Digest "}

const redactedValue = "***REDACTED***"

func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if v := a.Value.String(); v != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, RedactString(v))
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		out := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			out[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	}
	return a
}

// RedactString masks a credential, keeping a recognised authorization
// scheme so that logs still show how a client tried to authenticate.
func RedactString(value string) string {
	for _, scheme := range credentialSchemes {
		if len(value) > len(scheme) && strings.EqualFold(value[:len(scheme)], scheme) {
			return value[:len(scheme)] + redactedValue
		}
	}
	return redactedValue
}

// IsSensitiveKey reports whether a header name or parameter key suggests
// sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	if sensitiveHeaders[keyLower] {
		return true
	}
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}

// HeaderAttrs renders a parsed header or query map as a slog group with
// sensitive values masked.
func HeaderAttrs(name string, m map[string]string) slog.Attr {
	attrs := make([]any, 0, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) && v != "" {
			v = RedactString(v)
		}
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.Group(name, attrs...)
}
