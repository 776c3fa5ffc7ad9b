package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/linguaflow/followup-engine/internal/model"
)

// ErrDuplicateActiveRun signals that an activated/ongoing run already exists
// for the (student, sequence) pair. Callers resolve it by returning the
// existing run.
var ErrDuplicateActiveRun = errors.New("active run already exists for student and sequence")

// RunsRepository owns automation_runs and their run_steps snapshots. Every
// status mutation locks the run row, so the scheduler, the reply detector and
// manual stop never interleave on the same run.
type RunsRepository interface {
	ActivateRun(ctx context.Context, run model.AutomationRun, steps []model.RunStep) error
	GetByID(ctx context.Context, id string) (*model.AutomationRun, error)
	FindActive(ctx context.Context, studentID, sequenceID int64) (*model.AutomationRun, error)
	ActiveByStudent(ctx context.Context, studentID int64) ([]model.AutomationRun, error)
	Steps(ctx context.Context, runID string) ([]model.RunStep, error)

	// TerminateRun moves a non-terminal run to the given terminal status and
	// cancels its pending dispatch. Returns false when the run was already
	// terminal (idempotent no-op) or does not exist.
	TerminateRun(ctx context.Context, runID string, status model.RunStatus, at time.Time) (bool, error)

	// RearmDegraded resets the retry counters of a degraded run and makes its
	// current step due again. Returns false when the run is not degraded.
	RearmDegraded(ctx context.Context, runID string, at time.Time) (bool, error)
}

const runColumns = `
	id, student_id, sequence_id, status, current_step, total_steps,
	attempts, degraded, started_at, next_due_at, last_message_sent_at,
	completed_at, claimed_at, version, active_pair, created_at, updated_at`

type RunsRepositoryImpl struct {
	db     *sqlx.DB
	outbox OutboxRepository
}

func NewRunsRepository(db *sqlx.DB, outbox OutboxRepository) *RunsRepositoryImpl {
	return &RunsRepositoryImpl{db: db, outbox: outbox}
}

var _ RunsRepository = (*RunsRepositoryImpl)(nil)

func (r *RunsRepositoryImpl) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ActivateRun inserts the run and its step snapshot in one transaction. The
// unique index on active_pair rejects a second active run for the pair; that
// violation is translated to ErrDuplicateActiveRun.
func (r *RunsRepositoryImpl) ActivateRun(ctx context.Context, run model.AutomationRun, steps []model.RunStep) error {
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		const q = `
			INSERT INTO automation_runs
			    (id, student_id, sequence_id, status, current_step, total_steps,
			     attempts, degraded, started_at, next_due_at, version, created_at, updated_at)
			VALUES
			    (?, ?, ?, ?, 0, ?, 0, 0, ?, ?, 0, NOW(), NOW())
		`
		if _, err := tx.ExecContext(ctx, q,
			run.ID, run.StudentID, run.SequenceID, run.Status.String(),
			run.TotalSteps, run.StartedAt, run.NextDueAt,
		); err != nil {
			return err
		}

		const sq = `
			INSERT INTO run_steps (run_id, step_order, channel, delay_minutes, subject, body, created_at)
			VALUES (?, ?, ?, ?, ?, ?, NOW())
		`
		for _, s := range steps {
			if _, err := tx.ExecContext(ctx, sq,
				s.RunID, s.StepOrder, s.Channel.String(), s.DelayMinutes, s.Subject, s.Body,
			); err != nil {
				return err
			}
		}

		return insertRunStatusEvent(ctx, tx, r.outbox, run, run.StartedAt)
	})

	var me *mysql.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return ErrDuplicateActiveRun
	}
	return err
}

func (r *RunsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.AutomationRun, error) {
	var run model.AutomationRun
	err := r.db.GetContext(ctx, &run,
		`SELECT `+runColumns+` FROM automation_runs WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunsRepositoryImpl) FindActive(ctx context.Context, studentID, sequenceID int64) (*model.AutomationRun, error) {
	var run model.AutomationRun
	err := r.db.GetContext(ctx, &run, `
		SELECT `+runColumns+`
		  FROM automation_runs
		 WHERE student_id = ? AND sequence_id = ? AND status IN ('activated', 'ongoing')
		 LIMIT 1
	`, studentID, sequenceID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunsRepositoryImpl) ActiveByStudent(ctx context.Context, studentID int64) ([]model.AutomationRun, error) {
	var runs []model.AutomationRun
	err := r.db.SelectContext(ctx, &runs, `
		SELECT `+runColumns+`
		  FROM automation_runs
		 WHERE student_id = ? AND status IN ('activated', 'ongoing')
	`, studentID)
	return runs, err
}

func (r *RunsRepositoryImpl) Steps(ctx context.Context, runID string) ([]model.RunStep, error) {
	var steps []model.RunStep
	err := r.db.SelectContext(ctx, &steps, `
		SELECT run_id, step_order, channel, delay_minutes, subject, body, created_at
		  FROM run_steps
		 WHERE run_id = ?
		 ORDER BY step_order
	`, runID)
	return steps, err
}

func (r *RunsRepositoryImpl) TerminateRun(ctx context.Context, runID string, status model.RunStatus, at time.Time) (bool, error) {
	if !status.Terminal() {
		return false, errors.New("terminate requires a terminal status")
	}

	terminated := false
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		run, err := lockRun(ctx, tx, runID)
		if err != nil || run == nil {
			return err
		}
		if run.Status.Terminal() {
			return nil
		}

		const q = `
			UPDATE automation_runs
			   SET status = ?, completed_at = ?, next_due_at = NULL,
			       claimed_at = NULL, version = version + 1, updated_at = NOW()
			 WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, q, status.String(), at, runID); err != nil {
			return err
		}

		run.Status = status
		if err := insertRunStatusEvent(ctx, tx, r.outbox, *run, at); err != nil {
			return err
		}
		terminated = true
		return nil
	})
	return terminated, err
}

func (r *RunsRepositoryImpl) RearmDegraded(ctx context.Context, runID string, at time.Time) (bool, error) {
	rearmed := false
	err := r.withTx(ctx, func(tx *sqlx.Tx) error {
		run, err := lockRun(ctx, tx, runID)
		if err != nil || run == nil {
			return err
		}
		if !run.Degraded || run.Status.Terminal() {
			return nil
		}

		const q = `
			UPDATE automation_runs
			   SET degraded = 0, attempts = 0, next_due_at = ?,
			       claimed_at = NULL, version = version + 1, updated_at = NOW()
			 WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, q, at, runID); err != nil {
			return err
		}
		rearmed = true
		return nil
	})
	return rearmed, err
}

// lockRun reads the run row FOR UPDATE; nil when it does not exist.
func lockRun(ctx context.Context, tx *sqlx.Tx, runID string) (*model.AutomationRun, error) {
	var run model.AutomationRun
	err := tx.GetContext(ctx, &run,
		`SELECT `+runColumns+` FROM automation_runs WHERE id = ? FOR UPDATE`, runID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func insertRunStatusEvent(ctx context.Context, tx *sqlx.Tx, outbox OutboxRepository, run model.AutomationRun, at time.Time) error {
	payload, err := json.Marshal(model.RunStatusEvent{
		RunID:      run.ID,
		StudentID:  run.StudentID,
		SequenceID: run.SequenceID,
		Status:     run.Status,
		At:         at,
	})
	if err != nil {
		return err
	}
	return outbox.Insert(ctx, tx, "run", run.ID, model.TopicRunStatusChanged, payload)
}
