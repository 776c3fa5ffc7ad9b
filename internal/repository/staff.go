package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/linguaflow/followup-engine/internal/model"
)

type StaffRepository interface {
	GetByAPIKey(ctx context.Context, apiKey string) (*model.StaffKey, error)
}

type StaffRepositoryImpl struct {
	db *sqlx.DB
}

func NewStaffRepository(db *sqlx.DB) *StaffRepositoryImpl {
	return &StaffRepositoryImpl{db: db}
}

var _ StaffRepository = (*StaffRepositoryImpl)(nil)

func (r *StaffRepositoryImpl) GetByAPIKey(ctx context.Context, apiKey string) (*model.StaffKey, error) {
	var k model.StaffKey
	err := r.db.GetContext(ctx, &k, `
		SELECT id, name, api_key, status, rate_limit_rps, created_at, updated_at
		  FROM staff_keys
		 WHERE api_key = ? LIMIT 1
	`, apiKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}
