package model

import "testing"

func TestParseChannel(t *testing.T) {
	tests := []struct {
		in   string
		want Channel
		ok   bool
	}{
		{"sms", ChannelSMS, true},
		{"WhatsApp", ChannelWhatsApp, true},
		{" email ", ChannelEmail, true},
		{"call", ChannelCall, true},
		{"fax", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseChannel(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseChannel(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestParseSource(t *testing.T) {
	// unknown non-empty values pass through as provider names
	if got, ok := ParseSource("Twilio"); !ok || got != Source("twilio") {
		t.Errorf("ParseSource(Twilio) = (%q, %v)", got, ok)
	}
	if _, ok := ParseSource("  "); ok {
		t.Error("ParseSource(blank) should be invalid")
	}
}
