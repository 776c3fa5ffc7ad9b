package render

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/linguaflow/followup-engine/internal/model"
)

// Vars is the data a step template can reference, e.g.
// "Hi {{.FirstName}}, your {{.SequenceName}} class is waiting".
type Vars struct {
	FirstName    string
	LastName     string
	FullName     string
	Email        string
	Phone        string
	SequenceName string
}

// NewVars builds template data from student record and sequence name.
func NewVars(s model.Student, sequenceName string) Vars {
	full := strings.TrimSpace(s.FirstName + " " + s.LastName)
	return Vars{
		FirstName:    s.FirstName,
		LastName:     s.LastName,
		FullName:     full,
		Email:        s.Email,
		Phone:        s.Phone,
		SequenceName: sequenceName,
	}
}

// Step renders a step's subject and body against the student data. A
// template referencing unknown fields fails, so broken templates surface at
// dispatch time instead of sending garbage.
func Step(step model.RunStep, vars Vars) (subject, body string, err error) {
	subject, err = renderOne("subject", step.Subject, vars)
	if err != nil {
		return "", "", err
	}
	body, err = renderOne("body", step.Body, vars)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

// Validate checks that subject and body parse and render against a complete
// Vars value. Used at sequence-write time so authoring errors never reach the
// scheduler.
func Validate(subject, body string) error {
	probe := Vars{
		FirstName:    "x",
		LastName:     "x",
		FullName:     "x x",
		Email:        "x@example.com",
		Phone:        "+10000000000",
		SequenceName: "x",
	}
	if _, err := renderOne("subject", subject, probe); err != nil {
		return err
	}
	_, err := renderOne("body", body, probe)
	return err
}

func renderOne(name, text string, vars Vars) (string, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}
	var sb strings.Builder
	if err := t.Execute(&sb, vars); err != nil {
		return "", fmt.Errorf("render %s template: %w", name, err)
	}
	return sb.String(), nil
}
