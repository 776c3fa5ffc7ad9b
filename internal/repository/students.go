package repository

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/linguaflow/followup-engine/internal/model"
)

// StudentsRepository resolves the contact references the engine needs; the
// admin application owns full student CRUD.
type StudentsRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Student, error)
	// FindByContact matches a normalized phone number or lowercased email.
	FindByContact(ctx context.Context, contact string) (*model.Student, error)
}

const studentColumns = `
	id, first_name, last_name, email, phone, status, cohort_ref, created_at, updated_at`

type StudentsRepositoryImpl struct {
	db *sqlx.DB
}

func NewStudentsRepository(db *sqlx.DB) *StudentsRepositoryImpl {
	return &StudentsRepositoryImpl{db: db}
}

var _ StudentsRepository = (*StudentsRepositoryImpl)(nil)

func (r *StudentsRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Student, error) {
	var s model.Student
	err := r.db.GetContext(ctx, &s,
		`SELECT `+studentColumns+` FROM students WHERE id = ? LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StudentsRepositoryImpl) FindByContact(ctx context.Context, contact string) (*model.Student, error) {
	var s model.Student
	err := r.db.GetContext(ctx, &s, `
		SELECT `+studentColumns+`
		  FROM students
		 WHERE phone = ? OR email = ?
		 LIMIT 1
	`, contact, contact)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}
