package model

import (
	"strings"
	"time"
)

// RunStatus is the lifecycle state of an automation run.
//
//	activated -> ongoing -> completed
//	     \          \----> answer_received
//	      \---------------> disabled
//
// answer_received, disabled and completed are terminal.
type RunStatus string

const (
	RunActivated      RunStatus = "activated"       // created, first step pending
	RunOngoing        RunStatus = "ongoing"         // at least one step dispatched
	RunAnswerReceived RunStatus = "answer_received" // student replied, halted
	RunDisabled       RunStatus = "disabled"        // manually stopped
	RunCompleted      RunStatus = "completed"       // all steps dispatched
)

func (s RunStatus) String() string { return string(s) }

func (s RunStatus) Valid() bool {
	switch s {
	case RunActivated, RunOngoing, RunAnswerReceived, RunDisabled, RunCompleted:
		return true
	}
	return false
}

// Active reports whether the run still owns a pending dispatch.
func (s RunStatus) Active() bool {
	return s == RunActivated || s == RunOngoing
}

// Terminal reports whether the run reached a final state. Terminal runs are
// never resurrected.
func (s RunStatus) Terminal() bool {
	return s == RunAnswerReceived || s == RunDisabled || s == RunCompleted
}

// ParseRunStatus normalizes input.
// Returns (value, true) if valid; otherwise ("", false).
func ParseRunStatus(raw string) (RunStatus, bool) {
	s := RunStatus(strings.ToLower(strings.TrimSpace(raw)))
	if s.Valid() {
		return s, true
	}
	return "", false
}

// AutomationRun is one execution of a sequence against one student. The row
// is the single mutable resource shared between the scheduler, the reply
// detector and manual stop; every mutation locks it first.
type AutomationRun struct {
	ID                string         `db:"id" json:"id"`
	StudentID         int64          `db:"student_id" json:"student_id"`
	SequenceID        int64          `db:"sequence_id" json:"sequence_id"`
	Status            RunStatus      `db:"status" json:"status"`
	CurrentStep       int            `db:"current_step" json:"current_step"` // next step to dispatch, 0-based
	TotalSteps        int            `db:"total_steps" json:"total_steps"`
	Attempts          int            `db:"attempts" json:"attempts"` // failed dispatch attempts for the current step
	Degraded          bool           `db:"degraded" json:"degraded"` // retries exhausted, waiting on staff
	StartedAt         time.Time      `db:"started_at" json:"started_at"`
	NextDueAt         NullTime   `db:"next_due_at" json:"next_due_at"`
	LastMessageSentAt NullTime   `db:"last_message_sent_at" json:"last_message_sent_at"`
	CompletedAt       NullTime   `db:"completed_at" json:"completed_at"`
	ClaimedAt         NullTime   `db:"claimed_at" json:"-"`
	Version           int64      `db:"version" json:"-"`
	ActivePair        NullString `db:"active_pair" json:"-"` // generated column backing the one-active-run index
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// RunStep is the per-run snapshot of a sequence step, frozen at activation so
// later template edits never change an in-flight run.
type RunStep struct {
	RunID        string    `db:"run_id" json:"run_id"`
	StepOrder    int       `db:"step_order" json:"step_order"` // 0-based
	Channel      Channel   `db:"channel" json:"channel"`
	DelayMinutes int       `db:"delay_minutes" json:"delay_minutes"` // from previous step; step 0 from activation
	Subject      string    `db:"subject" json:"subject"`
	Body         string    `db:"body" json:"body"`
	CreatedAt    time.Time `db:"created_at" json:"-"`
}

// DueAfter computes when this step becomes due, given the reference instant
// (activation time for step 0, previous dispatch time otherwise). Delays are
// whole minutes.
func (s RunStep) DueAfter(ref time.Time) time.Time {
	return ref.Add(time.Duration(s.DelayMinutes) * time.Minute)
}
