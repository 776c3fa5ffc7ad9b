package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/linguaflow/followup-engine/internal/model"
)

// TouchpointsRepository is the append-only communication ledger. Inserts with
// a known external_id are deduplicated; rows are never deleted here, and only
// content/occurred_at can be corrected afterwards.
type TouchpointsRepository interface {
	// Insert stores the touchpoint and its outbox event atomically. When the
	// external_id already exists, the stored row is returned with deduped=true
	// and nothing is written.
	Insert(ctx context.Context, tp model.Touchpoint) (*model.Touchpoint, bool, error)
	GetByID(ctx context.Context, id string) (*model.Touchpoint, error)
	List(ctx context.Context, f model.TouchpointFilter, limit, offset int) ([]model.Touchpoint, error)
	ListByRun(ctx context.Context, runID string) ([]model.Touchpoint, error)

	// Correct applies the narrow staff edit: content and/or occurred_at.
	Correct(ctx context.Context, id, content string, occurredAt *time.Time) (*model.Touchpoint, error)
}

const touchpointColumns = `
	id, student_id, run_id, channel, direction, source, subject, content,
	occurred_at, external_id, created_at`

type TouchpointsRepositoryImpl struct {
	db     *sqlx.DB
	outbox OutboxRepository
}

func NewTouchpointsRepository(db *sqlx.DB, outbox OutboxRepository) *TouchpointsRepositoryImpl {
	return &TouchpointsRepositoryImpl{db: db, outbox: outbox}
}

var _ TouchpointsRepository = (*TouchpointsRepositoryImpl)(nil)

func (r *TouchpointsRepositoryImpl) Insert(ctx context.Context, tp model.Touchpoint) (*model.Touchpoint, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback() }()

	stored, deduped, err := insertTouchpointTx(ctx, tx, r.outbox, tp)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return stored, deduped, nil
}

// insertTouchpointTx is shared with the dispatch completion transaction.
func insertTouchpointTx(ctx context.Context, tx *sqlx.Tx, outbox OutboxRepository, tp model.Touchpoint) (*model.Touchpoint, bool, error) {
	const q = `
		INSERT INTO touchpoints
		    (id, student_id, run_id, channel, direction, source, subject, content,
		     occurred_at, external_id, created_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())
		ON DUPLICATE KEY UPDATE id = id
	`
	res, err := tx.ExecContext(ctx, q,
		tp.ID, tp.StudentID, tp.RunID, tp.Channel.String(), tp.Direction.String(),
		tp.Source.String(), tp.Subject, tp.Content, tp.OccurredAt, tp.ExternalID,
	)
	if err != nil {
		return nil, false, err
	}

	// ON DUPLICATE KEY UPDATE id = id affects zero rows on replay.
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		var existing model.Touchpoint
		err := tx.GetContext(ctx, &existing,
			`SELECT `+touchpointColumns+` FROM touchpoints WHERE external_id = ? LIMIT 1`,
			tp.ExternalID)
		if err != nil {
			return nil, false, err
		}
		return &existing, true, nil
	}

	payload, err := json.Marshal(tp)
	if err != nil {
		return nil, false, err
	}
	if err := outbox.Insert(ctx, tx, "touchpoint", tp.ID, model.TopicTouchpointRecorded, payload); err != nil {
		return nil, false, err
	}
	return &tp, false, nil
}

func (r *TouchpointsRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Touchpoint, error) {
	var tp model.Touchpoint
	err := r.db.GetContext(ctx, &tp,
		`SELECT `+touchpointColumns+` FROM touchpoints WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tp, nil
}

func (r *TouchpointsRepositoryImpl) List(ctx context.Context, f model.TouchpointFilter, limit, offset int) ([]model.Touchpoint, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + touchpointColumns + ` FROM touchpoints WHERE 1=1`)
	args := make([]any, 0, 8)

	if f.StudentID > 0 {
		sb.WriteString(" AND student_id = ?")
		args = append(args, f.StudentID)
	}
	if f.Channel != "" {
		sb.WriteString(" AND channel = ?")
		args = append(args, f.Channel.String())
	}
	if f.Direction != "" {
		sb.WriteString(" AND direction = ?")
		args = append(args, f.Direction.String())
	}
	if f.Source != "" {
		sb.WriteString(" AND source = ?")
		args = append(args, f.Source.String())
	}
	if !f.From.IsZero() {
		sb.WriteString(" AND occurred_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		sb.WriteString(" AND occurred_at < ?")
		args = append(args, f.To)
	}

	// id is a ULID, so it breaks occurred_at ties deterministically
	sb.WriteString(" ORDER BY occurred_at DESC, id DESC LIMIT ? OFFSET ?")
	args = append(args, limit, offset)

	var rows []model.Touchpoint
	if err := r.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *TouchpointsRepositoryImpl) ListByRun(ctx context.Context, runID string) ([]model.Touchpoint, error) {
	var rows []model.Touchpoint
	err := r.db.SelectContext(ctx, &rows, `
		SELECT `+touchpointColumns+`
		  FROM touchpoints
		 WHERE run_id = ?
		 ORDER BY occurred_at DESC, id DESC
	`, runID)
	return rows, err
}

func (r *TouchpointsRepositoryImpl) Correct(ctx context.Context, id, content string, occurredAt *time.Time) (*model.Touchpoint, error) {
	var sb strings.Builder
	sb.WriteString("UPDATE touchpoints SET ")
	args := make([]any, 0, 3)

	if content != "" {
		sb.WriteString("content = ?")
		args = append(args, content)
	}
	if occurredAt != nil {
		if len(args) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("occurred_at = ?")
		args = append(args, *occurredAt)
	}
	if len(args) == 0 {
		return r.GetByID(ctx, id)
	}

	sb.WriteString(" WHERE id = ?")
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}
