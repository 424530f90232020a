// Package logsanitize provides helpers for sanitizing untrusted values before logging.
package logsanitize

import "strings"

// maxFieldLen caps how much of a single untrusted value reaches the log.
const maxFieldLen = 256

// Sanitize removes control characters from log field values to reduce
// the risk of log injection (CWE-117) and truncates overly long values.
//
// Stripped ranges:
//   - C0 controls 0x00-0x1F (except horizontal tab 0x09)
//   - DEL 0x7F and C1 controls 0x80-0x9F
func Sanitize(s string) string {
	if len(s) > maxFieldLen {
		s = s[:maxFieldLen] + "..."
	}
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return '_'
		}
		if r >= 0x7f && r <= 0x9f {
			return '_'
		}
		return r
	}, s)
}

// Token returns a loggable reference to a secret value such as a state,
// nonce or session token: its first 8 characters only.
func Token(s string) string {
	if len(s) <= 8 {
		return "[REDACTED]"
	}
	return Sanitize(s[:8]) + "..."
}
