package util

import "testing"

func TestNormalizeContact(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Maria.Lopez@Example.COM ", "maria.lopez@example.com"},
		{"0049 170 1234567", "+491701234567"},
		{"+1 (415) 555-0134", "+14155550134"},
		{"491701234567", "+491701234567"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeContact(tt.in); got != tt.want {
			t.Errorf("NormalizeContact(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
