package model

import "time"

// InboundEvent is the normalized shape every inbound path (provider webhooks,
// the touchpoints.inbound Kafka topic) reduces to before the timeline records
// it. Exactly one of StudentID / Contact must be set; Contact is resolved to
// a student by phone or email.
type InboundEvent struct {
	StudentID  int64     `json:"student_id,omitempty"`
	Contact    string    `json:"contact,omitempty"` // phone or email as the provider saw it
	Channel    Channel   `json:"channel"`
	Content    string    `json:"content"`
	ExternalID string    `json:"external_id"` // provider message id, dedup key
	OccurredAt time.Time `json:"occurred_at"`
	Source     Source    `json:"source"` // provider name; defaults to webhook
}
