package model

import "time"

// Kafka topics fed from the outbox table (Debezium outbox SMT routes on the
// `topic` column).
const (
	TopicTouchpointRecorded = "touchpoints.recorded"
	TopicRunStatusChanged   = "followups.status"
)

type OutboxEvent struct {
	ID          int64     `db:"id"`
	Aggregate   string    `db:"aggregate"`    // "touchpoint" | "run"
	AggregateID string    `db:"aggregate_id"` // touchpoint/run ULID
	Topic       string    `db:"topic"`
	Payload     []byte    `db:"payload"`
	CreatedAt   time.Time `db:"created_at"`
}

// RunStatusEvent is the payload published on followups.status.
type RunStatusEvent struct {
	RunID      string    `json:"run_id"`
	StudentID  int64     `json:"student_id"`
	SequenceID int64     `json:"sequence_id"`
	Status     RunStatus `json:"status"`
	At         time.Time `json:"at"`
}
