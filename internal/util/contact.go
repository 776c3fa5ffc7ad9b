package util

import (
	"regexp"
	"strings"
)

var nonPhone = regexp.MustCompile(`[^\d\+]+`)

// NormalizePhone strips formatting and tries to coerce user or provider input
// into E.164-like form so inbound contacts match the stored student phone.
func NormalizePhone(raw string) string {
	s := nonPhone.ReplaceAllString(strings.TrimSpace(raw), "")

	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	} else if s != "" && !strings.HasPrefix(s, "+") {
		s = "+" + s
	}

	return s
}

// NormalizeContact lowercases emails and normalizes phone numbers; webhook
// payloads carry either.
func NormalizeContact(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}
	return NormalizePhone(s)
}
