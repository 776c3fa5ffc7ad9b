package model

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"time"
)

var jsonNull = []byte("null")

// NullString is sql.NullString that marshals as a plain string or null.
type NullString struct{ sql.NullString }

// NewNullString treats the empty string as NULL.
func NewNullString(s string) NullString {
	return NullString{sql.NullString{String: s, Valid: s != ""}}
}

func (n NullString) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return jsonNull, nil
	}
	return json.Marshal(n.String)
}

func (n *NullString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, jsonNull) {
		n.String, n.Valid = "", false
		return nil
	}
	if err := json.Unmarshal(b, &n.String); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// NullTime is sql.NullTime that marshals as RFC3339 or null.
type NullTime struct{ sql.NullTime }

// NewNullTime treats the zero time as NULL.
func NewNullTime(t time.Time) NullTime {
	return NullTime{sql.NullTime{Time: t, Valid: !t.IsZero()}}
}

func (n NullTime) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return jsonNull, nil
	}
	return json.Marshal(n.Time)
}

func (n *NullTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, jsonNull) {
		n.Time, n.Valid = time.Time{}, false
		return nil
	}
	if err := json.Unmarshal(b, &n.Time); err != nil {
		return err
	}
	n.Valid = true
	return nil
}
