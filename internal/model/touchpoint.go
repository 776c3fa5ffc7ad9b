package model

import (
	"strings"
	"time"
)

// Source identifies who or what produced a touchpoint.
// Provider sources (e.g. "twilio", "meta") come from webhook/bus ingestion
// and are accepted as-is after normalization.
type Source string

const (
	SourceManual    Source = "manual"    // logged by staff in the admin UI
	SourceAutomated Source = "automated" // produced by the scheduler
	SourceWebhook   Source = "webhook"   // inbound, provider not identified
)

func (s Source) String() string { return string(s) }

// ParseSource normalizes input; empty is invalid. Unknown non-empty values
// are kept as provider names.
func ParseSource(raw string) (Source, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	return Source(s), true
}

// Touchpoint is one recorded communication event in the timeline, inbound or
// outbound, automated or manual. Rows are append-only; only content and
// occurred_at may be corrected by staff afterwards.
type Touchpoint struct {
	ID         string     `db:"id" json:"id"`
	StudentID  int64      `db:"student_id" json:"student_id"`
	RunID      NullString `db:"run_id" json:"run_id"` // weak backlink to the producing run
	Channel    Channel    `db:"channel" json:"channel"`
	Direction  Direction  `db:"direction" json:"direction"`
	Source     Source     `db:"source" json:"source"`
	Subject    string     `db:"subject" json:"subject,omitempty"`
	Content    string     `db:"content" json:"content"`
	OccurredAt time.Time  `db:"occurred_at" json:"occurred_at"`
	ExternalID NullString `db:"external_id" json:"external_id"` // provider message id / dedup key
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
}

// TouchpointFilter narrows ledger queries. Zero values mean "no filter".
type TouchpointFilter struct {
	StudentID int64
	Channel   Channel
	Direction Direction
	Source    Source
	From      time.Time
	To        time.Time
}
