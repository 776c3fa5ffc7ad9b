package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/linguaflow/followup-engine/internal/model"
)

// CHTouchpointsRepository serves dashboard-scale reporting from ClickHouse,
// which is fed from the touchpoints.recorded stream.
type CHTouchpointsRepository interface {
	List(ctx context.Context, f model.TouchpointFilter, limit, offset int) ([]model.Touchpoint, error)
	CountByChannel(ctx context.Context, f model.TouchpointFilter) (map[string]int64, error)
}

type chTouchpointsRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHTouchpointsRepository(ch *sqlx.DB) CHTouchpointsRepository {
	return &chTouchpointsRepository{ch: ch}
}

func (r *chTouchpointsRepository) List(ctx context.Context, f model.TouchpointFilter, limit, offset int) ([]model.Touchpoint, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, student_id, run_id, channel, direction, source, subject, content,
		       occurred_at, external_id, created_at
		FROM followup.touchpoints_latest
		WHERE 1 = 1
	`
	args := []any{}

	if f.StudentID > 0 {
		q += " AND student_id = ?"
		args = append(args, f.StudentID)
	}
	if f.Channel != "" {
		q += " AND channel = ?"
		args = append(args, f.Channel.String())
	}
	if f.Direction != "" {
		q += " AND direction = ?"
		args = append(args, f.Direction.String())
	}
	if f.Source != "" {
		q += " AND source = ?"
		args = append(args, f.Source.String())
	}
	if !f.From.IsZero() {
		q += " AND occurred_at >= ?"
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		q += " AND occurred_at < ?"
		args = append(args, f.To)
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.Touchpoint
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *chTouchpointsRepository) CountByChannel(ctx context.Context, f model.TouchpointFilter) (map[string]int64, error) {
	q := `
		SELECT channel, count() AS n
		FROM followup.touchpoints_latest
		WHERE 1 = 1
	`
	args := []any{}

	if f.StudentID > 0 {
		q += " AND student_id = ?"
		args = append(args, f.StudentID)
	}
	if f.Direction != "" {
		q += " AND direction = ?"
		args = append(args, f.Direction.String())
	}
	if !f.From.IsZero() {
		q += " AND occurred_at >= ?"
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		q += " AND occurred_at < ?"
		args = append(args, f.To)
	}
	q += " GROUP BY channel"

	rows, err := r.ch.QueryxContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var channel string
		var n int64
		if err := rows.Scan(&channel, &n); err != nil {
			return nil, err
		}
		out[channel] = n
	}
	return out, rows.Err()
}
