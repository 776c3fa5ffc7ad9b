package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/linguaflow/followup-engine/internal/model"
)

// DueStep is one claimed unit of scheduler work: a run together with the
// snapshot of the step that is due.
type DueStep struct {
	Run  model.AutomationRun
	Step model.RunStep
}

// DispatchRepository is the scheduler's view of the database: claim due
// steps exclusively, then either complete them (touchpoint + advance in one
// transaction) or release them for retry.
type DispatchRepository interface {
	// ClaimDue atomically claims up to limit runs whose next step is due at
	// or before now. A claim is a version-checked update, so concurrent
	// scheduler workers never take the same run. Claims older than lease are
	// considered abandoned (crashed worker) and can be re-claimed.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]DueStep, error)

	// CompleteStep records the outbound touchpoint and advances the run in a
	// single transaction. The run row is locked and re-checked first: if the
	// run terminated while the send was in flight, nothing is written and
	// completed=false is returned. Re-invocation for an already-advanced step
	// is a no-op, keeping dispatch idempotent per (run, step).
	CompleteStep(ctx context.Context, due DueStep, tp model.Touchpoint, sentAt time.Time) (bool, error)

	// ReleaseFailed returns a claimed step to the queue after a failed send,
	// with backoff. Once attempts reach maxAttempts the run is flagged
	// degraded and its timer stopped until staff re-arms it.
	ReleaseFailed(ctx context.Context, runID string, now time.Time, backoff time.Duration, maxAttempts int) error
}

type DispatchRepositoryImpl struct {
	db     *sqlx.DB
	outbox OutboxRepository
}

func NewDispatchRepository(db *sqlx.DB, outbox OutboxRepository) *DispatchRepositoryImpl {
	return &DispatchRepositoryImpl{db: db, outbox: outbox}
}

var _ DispatchRepository = (*DispatchRepositoryImpl)(nil)

func (r *DispatchRepositoryImpl) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]DueStep, error) {
	if limit <= 0 {
		limit = 100
	}

	// candidates first; the claim itself is the version-checked update below
	var candidates []model.AutomationRun
	err := r.db.SelectContext(ctx, &candidates, `
		SELECT `+runColumns+`
		  FROM automation_runs
		 WHERE status IN ('activated', 'ongoing')
		   AND degraded = 0
		   AND next_due_at IS NOT NULL AND next_due_at <= ?
		   AND (claimed_at IS NULL OR claimed_at <= ?)
		 ORDER BY next_due_at
		 LIMIT ?
	`, now, now.Add(-lease), limit)
	if err != nil {
		return nil, err
	}

	claimed := make([]DueStep, 0, len(candidates))
	for _, run := range candidates {
		res, err := r.db.ExecContext(ctx, `
			UPDATE automation_runs
			   SET claimed_at = ?, version = version + 1, updated_at = NOW()
			 WHERE id = ? AND version = ?
			   AND status IN ('activated', 'ongoing')
			   AND next_due_at IS NOT NULL AND next_due_at <= ?
		`, now, run.ID, run.Version, now)
		if err != nil {
			return claimed, err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			continue // lost the race to another worker, or the run was stopped
		}
		run.Version++

		var step model.RunStep
		err = r.db.GetContext(ctx, &step, `
			SELECT run_id, step_order, channel, delay_minutes, subject, body, created_at
			  FROM run_steps
			 WHERE run_id = ? AND step_order = ?
		`, run.ID, run.CurrentStep)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, DueStep{Run: run, Step: step})
	}
	return claimed, nil
}

func (r *DispatchRepositoryImpl) CompleteStep(ctx context.Context, due DueStep, tp model.Touchpoint, sentAt time.Time) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	run, err := lockRun(ctx, tx, due.Run.ID)
	if err != nil {
		return false, err
	}
	// terminal or already advanced: stale claim, write nothing
	if run == nil || run.Status.Terminal() || run.CurrentStep != due.Step.StepOrder {
		return false, tx.Commit()
	}

	if _, _, err := insertTouchpointTx(ctx, tx, r.outbox, tp); err != nil {
		return false, err
	}

	nextStep := due.Step.StepOrder + 1
	if nextStep >= run.TotalSteps {
		const q = `
			UPDATE automation_runs
			   SET status = 'completed', current_step = ?, last_message_sent_at = ?,
			       completed_at = ?, next_due_at = NULL, claimed_at = NULL,
			       attempts = 0, version = version + 1, updated_at = NOW()
			 WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, q, nextStep, sentAt, sentAt, run.ID); err != nil {
			return false, err
		}
		run.Status = model.RunCompleted
		if err := insertRunStatusEvent(ctx, tx, r.outbox, *run, sentAt); err != nil {
			return false, err
		}
	} else {
		var next model.RunStep
		err := tx.GetContext(ctx, &next, `
			SELECT run_id, step_order, channel, delay_minutes, subject, body, created_at
			  FROM run_steps
			 WHERE run_id = ? AND step_order = ?
		`, run.ID, nextStep)
		if err != nil {
			return false, err
		}

		const q = `
			UPDATE automation_runs
			   SET status = 'ongoing', current_step = ?, last_message_sent_at = ?,
			       next_due_at = ?, claimed_at = NULL, attempts = 0,
			       version = version + 1, updated_at = NOW()
			 WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, q, nextStep, sentAt, next.DueAfter(sentAt), run.ID); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (r *DispatchRepositoryImpl) ReleaseFailed(ctx context.Context, runID string, now time.Time, backoff time.Duration, maxAttempts int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	run, err := lockRun(ctx, tx, runID)
	if err != nil {
		return err
	}
	if run == nil || run.Status.Terminal() {
		return tx.Commit()
	}

	attempts := run.Attempts + 1
	if attempts >= maxAttempts {
		const q = `
			UPDATE automation_runs
			   SET attempts = ?, degraded = 1, next_due_at = NULL,
			       claimed_at = NULL, version = version + 1, updated_at = NOW()
			 WHERE id = ?
		`
		if _, err := tx.ExecContext(ctx, q, attempts, runID); err != nil {
			return err
		}
		return tx.Commit()
	}

	// exponential backoff: backoff, 2*backoff, 4*backoff, ...
	delay := backoff << (attempts - 1)
	var nextDue sql.NullTime
	nextDue.Valid = true
	nextDue.Time = now.Add(delay)

	const q = `
		UPDATE automation_runs
		   SET attempts = ?, next_due_at = ?, claimed_at = NULL,
		       version = version + 1, updated_at = NOW()
		 WHERE id = ?
	`
	if _, err := tx.ExecContext(ctx, q, attempts, nextDue, runID); err != nil {
		return err
	}
	return tx.Commit()
}
