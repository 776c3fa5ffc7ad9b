package model

import "strings"

// Channel is the communication medium of a touchpoint or sequence step.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelCall     Channel = "call"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

func (c Channel) String() string { return string(c) }

func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelCall, ChannelWhatsApp, ChannelEmail:
		return true
	}
	return false
}

// ParseChannel normalizes input.
// Returns (value, true) if valid; otherwise ("", false).
func ParseChannel(s string) (Channel, bool) {
	c := Channel(strings.ToLower(strings.TrimSpace(s)))
	if c.Valid() {
		return c, true
	}
	return "", false
}

// Direction tells whether a touchpoint was received or sent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

func (d Direction) String() string { return string(d) }

func (d Direction) Valid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// ParseDirection normalizes input.
// Returns (value, true) if valid; otherwise ("", false).
func ParseDirection(s string) (Direction, bool) {
	d := Direction(strings.ToLower(strings.TrimSpace(s)))
	if d.Valid() {
		return d, true
	}
	return "", false
}
