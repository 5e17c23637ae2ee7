package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// SensitiveDataPatterns contains regex patterns for sensitive data that should be redacted in logs
var SensitiveDataPatterns = []*regexp.Regexp{
	// Bearer tokens
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9-._~+/]+=*)`),

	// Baidu AIP access tokens: 24.<32 hex>.<ttl>.<expiry>.<id>-<appid>
	regexp.MustCompile(`()\b24\.[0-9a-f]{32}\.[0-9]+\.[0-9]+\.[0-9]+-[0-9]+\b`),

	// Query-string style secrets: access_token=..., client_secret=...
	regexp.MustCompile(`(?i)((?:access_token|client_secret|client_id|api_key|apikey)=)([^&\s]+)`),

	// API keys, tokens and secrets in key: value form
	regexp.MustCompile(`(?i)((?:api|access|auth|token|secret|passw(?:or)?d)[0-9a-z\-_\.]*\s*[:=]\s*)([^;,&\s]{5,})`),
}

// SensitiveKeywords are field keys whose string values are always redacted
var SensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "api_key",
	"apikey", "access_token", "secret_key", "authorization",
}

// RedactSensitiveData replaces sensitive information with "[REDACTED]"
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for _, pattern := range SensitiveDataPatterns {
		input = pattern.ReplaceAllString(input, "${1}"+redactedValue)
	}
	return input
}

// isSensitiveKey reports whether a field key names a secret.
// Keys ending in "_index" or "_count" describe secrets without holding one.
func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	if strings.HasSuffix(k, "_index") || strings.HasSuffix(k, "_count") {
		return false
	}
	for _, kw := range SensitiveKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}
