package model

import "time"

// Student is the contact reference the engine needs; full student CRUD lives
// in the admin application, not here.
type Student struct {
	ID        int64          `db:"id" json:"id"`
	FirstName string         `db:"first_name" json:"first_name"`
	LastName  string         `db:"last_name" json:"last_name"`
	Email     string         `db:"email" json:"email"`
	Phone     string         `db:"phone" json:"phone"` // E.164, also the WhatsApp address
	Status    string         `db:"status" json:"status"`
	CohortRef NullString `db:"cohort_ref" json:"cohort_ref"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// Destination returns the address a message on the given channel is sent to.
func (s Student) Destination(c Channel) string {
	if c == ChannelEmail {
		return s.Email
	}
	return s.Phone
}
