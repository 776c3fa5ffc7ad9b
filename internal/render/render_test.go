package render

import (
	"strings"
	"testing"

	"github.com/linguaflow/followup-engine/internal/model"
)

func TestStep(t *testing.T) {
	student := model.Student{
		FirstName: "Maria",
		LastName:  "Lopez",
		Email:     "maria@example.com",
		Phone:     "+14155550134",
	}
	vars := NewVars(student, "Welcome")

	tests := []struct {
		name        string
		step        model.RunStep
		wantSubject string
		wantBody    string
		wantErr     bool
	}{
		{
			name: "plain variables",
			step: model.RunStep{
				Subject: "Hi {{.FirstName}}",
				Body:    "Hello {{.FullName}}, welcome to {{.SequenceName}}.",
			},
			wantSubject: "Hi Maria",
			wantBody:    "Hello Maria Lopez, welcome to Welcome.",
		},
		{
			name: "no variables",
			step: model.RunStep{Subject: "Reminder", Body: "See you in class!"},

			wantSubject: "Reminder",
			wantBody:    "See you in class!",
		},
		{
			name:    "unknown field fails",
			step:    model.RunStep{Body: "Hi {{.Nickname}}"},
			wantErr: true,
		},
		{
			name:    "broken template fails",
			step:    model.RunStep{Body: "Hi {{.FirstName"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body, err := Step(tt.step, vars)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Step() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if subject != tt.wantSubject {
				t.Errorf("subject = %q, want %q", subject, tt.wantSubject)
			}
			if body != tt.wantBody {
				t.Errorf("body = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestNewVarsFullName(t *testing.T) {
	vars := NewVars(model.Student{FirstName: "Maria"}, "")
	if strings.Contains(vars.FullName, " ") {
		t.Errorf("FullName %q should be trimmed", vars.FullName)
	}
}
