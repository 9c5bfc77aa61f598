// Package security masks credentials before they reach logs or responses.
package security

import (
	"regexp"
	"strings"
)

// sensitivePatterns contains regex patterns for sensitive data.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(signature|api[_-]?key|api[_-]?secret|secret|x-mbx-apikey)([=:]\s*)["']?([^\s"'&]+)["']?`),
}

// MaskCredential masks a credential, keeping a short prefix and suffix.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSensitive masks credential values embedded in free text, such as
// signed query strings or error messages quoting a request URL.
func MaskSensitive(input string) string {
	result := input
	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			sub := pattern.FindStringSubmatch(match)
			if len(sub) != 4 {
				return MaskCredential(match)
			}
			return sub[1] + sub[2] + MaskCredential(sub[3])
		})
	}
	return result
}

// ContainsSensitiveData reports whether input carries a credential pattern.
func ContainsSensitiveData(input string) bool {
	for _, pattern := range sensitivePatterns {
		if pattern.MatchString(input) {
			return true
		}
	}
	return false
}
