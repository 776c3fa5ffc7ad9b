package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/linguaflow/followup-engine/internal/model"
)

// SequencesRepository stores sequence templates. Templates stay editable;
// in-flight runs are protected by the run_steps snapshot, not by locking
// templates.
type SequencesRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Sequence, error)
	List(ctx context.Context) ([]model.Sequence, error)
	Create(ctx context.Context, seq *model.Sequence) error
}

type SequencesRepositoryImpl struct {
	db *sqlx.DB
}

func NewSequencesRepository(db *sqlx.DB) *SequencesRepositoryImpl {
	return &SequencesRepositoryImpl{db: db}
}

var _ SequencesRepository = (*SequencesRepositoryImpl)(nil)

// GetByID loads the sequence with its steps in order; nil when not found.
func (r *SequencesRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Sequence, error) {
	var seq model.Sequence
	err := r.db.GetContext(ctx, &seq, `
		SELECT id, name, subject, status, created_at, updated_at
		  FROM sequences
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	err = r.db.SelectContext(ctx, &seq.Steps, `
		SELECT id, sequence_id, step_order, channel, delay_minutes, subject, body, created_at
		  FROM sequence_steps
		 WHERE sequence_id = ?
		 ORDER BY step_order
	`, id)
	if err != nil {
		return nil, err
	}
	return &seq, nil
}

func (r *SequencesRepositoryImpl) List(ctx context.Context) ([]model.Sequence, error) {
	var seqs []model.Sequence
	err := r.db.SelectContext(ctx, &seqs, `
		SELECT id, name, subject, status, created_at, updated_at
		  FROM sequences
		 ORDER BY name
	`)
	return seqs, err
}

// Create inserts the sequence and its steps, assigning seq.ID.
func (r *SequencesRepositoryImpl) Create(ctx context.Context, seq *model.Sequence) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sequences (name, subject, status, created_at, updated_at)
		VALUES (?, ?, ?, NOW(), NOW())
	`, seq.Name, seq.Subject, seq.Status.String())
	if err != nil {
		return err
	}
	seq.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO sequence_steps
		    (sequence_id, step_order, channel, delay_minutes, subject, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW())
	`
	for i := range seq.Steps {
		s := &seq.Steps[i]
		s.SequenceID = seq.ID
		if _, err := tx.ExecContext(ctx, q,
			seq.ID, s.StepOrder, s.Channel.String(), s.DelayMinutes, s.Subject, s.Body,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}
