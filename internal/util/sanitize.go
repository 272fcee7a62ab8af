package util

import (
	"html"
	"strings"
)

var suspiciousMarkers = []string{"<", ">", "{", "}", "script", "onerror", "onload", "javascript:"}

// SanitizeInput trims and HTML-escapes free text before it is stored.
func SanitizeInput(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

// NormalizeEmail lower-cases and trims an address; accounts are keyed by it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ContainsSuspicious flags markup or script fragments in names and addresses.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, marker := range suspiciousMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// MaskEmail keeps the first character of the local part for log lines.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}
