package model

import "time"

// SequenceStatus gates which sequences can be activated.
type SequenceStatus string

const (
	SequenceActive   SequenceStatus = "active"
	SequenceArchived SequenceStatus = "archived"
)

func (s SequenceStatus) String() string { return string(s) }

func (s SequenceStatus) Valid() bool {
	return s == SequenceActive || s == SequenceArchived
}

// Sequence is a named, ordered list of message steps. Runs snapshot the
// steps at activation, so sequences stay freely editable.
type Sequence struct {
	ID        int64          `db:"id" json:"id"`
	Name      string         `db:"name" json:"name"`
	Subject   string         `db:"subject" json:"subject"`
	Status    SequenceStatus `db:"status" json:"status"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`

	Steps []SequenceStep `json:"steps,omitempty"`
}

// SequenceStep is one step of a sequence template. step_order is unique per
// sequence; delay_minutes of step 0 is measured from run activation.
type SequenceStep struct {
	ID           int64     `db:"id" json:"id"`
	SequenceID   int64     `db:"sequence_id" json:"sequence_id"`
	StepOrder    int       `db:"step_order" json:"step_order"`
	Channel      Channel   `db:"channel" json:"channel"`
	DelayMinutes int       `db:"delay_minutes" json:"delay_minutes"`
	Subject      string    `db:"subject" json:"subject"`
	Body         string    `db:"body" json:"body"` // template, rendered against student data
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Snapshot freezes the step for a run.
func (s SequenceStep) Snapshot(runID string) RunStep {
	return RunStep{
		RunID:        runID,
		StepOrder:    s.StepOrder,
		Channel:      s.Channel,
		DelayMinutes: s.DelayMinutes,
		Subject:      s.Subject,
		Body:         s.Body,
	}
}
