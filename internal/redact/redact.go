// Package redact strips credentials, personal data and stack traces from
// error text before it is logged, returned to a caller or stored on a task
// row as its error_message.
package redact

import (
	"regexp"
	"strings"
)

// Placeholders substituted for redacted fragments.
const (
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedPathPlaceholder       = "[REDACTED_PATH]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
	RedactedJWTPlaceholder        = "[REDACTED_JWT]"
	StackTracePlaceholder         = "[STACK_TRACE_REDACTED]"
)

// MaxMessageLength bounds a stored error message, in runes.
const MaxMessageLength = 1000

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// rules run in order; connection strings go before emails so the
// user:password@host part is not mistaken for an address.
var rules = []rule{
	{regexp.MustCompile(`(?:goroutine \d+ \[|panic:)[\s\S]*`), StackTracePlaceholder},
	{regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|rediss?|amqp)://[^\s@/]+@`), RedactedCredentialPlaceholder},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), RedactedJWTPlaceholder},
	{regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.~+/=]{8,}`), "Bearer " + RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)([?&](?:key|api_key|access_token)=)[^&\s"':]+`), "${1}" + RedactedKeyPlaceholder},
	{regexp.MustCompile(`(?i)\b(api[_-]?key|token|secret|password|passwd)(\s*[=:]\s*['"]?)[^\s'"&,\[]{3,}`), "${1}${2}" + RedactedCredentialPlaceholder},
	{regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`), RedactedEmailPlaceholder},
	{regexp.MustCompile(`(?:/[\w.-]+){3,}`), RedactedPathPlaceholder},
	{regexp.MustCompile(`[A-Za-z]:\\[^\\\s]+(?:\\[^\\\s]+)+`), RedactedPathPlaceholder},
}

// String redacts sensitive fragments from s.
func String(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = r.pattern.ReplaceAllString(s, r.replacement)
	}
	return s
}

// Error redacts err's message. A nil error yields "".
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// Message redacts err and bounds it to MaxMessageLength for storage.
func Message(err error) string {
	s := strings.TrimSpace(Error(err))
	runes := []rune(s)
	if len(runes) <= MaxMessageLength {
		return s
	}
	return string(runes[:MaxMessageLength-3]) + "..."
}
