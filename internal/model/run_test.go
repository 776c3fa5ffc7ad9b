package model

import (
	"testing"
	"time"
)

func TestRunStatusTerminal(t *testing.T) {
	tests := []struct {
		status   RunStatus
		active   bool
		terminal bool
	}{
		{RunActivated, true, false},
		{RunOngoing, true, false},
		{RunAnswerReceived, false, true},
		{RunDisabled, false, true},
		{RunCompleted, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			if got := tt.status.Active(); got != tt.active {
				t.Errorf("Active() = %v, want %v", got, tt.active)
			}
			if got := tt.status.Terminal(); got != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestParseRunStatus(t *testing.T) {
	tests := []struct {
		in   string
		want RunStatus
		ok   bool
	}{
		{"activated", RunActivated, true},
		{" Ongoing ", RunOngoing, true},
		{"ANSWER_RECEIVED", RunAnswerReceived, true},
		{"paused", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseRunStatus(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseRunStatus(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRunStepDueAfter(t *testing.T) {
	ref := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	step := RunStep{DelayMinutes: 1440}
	if got := step.DueAfter(ref); !got.Equal(ref.Add(24 * time.Hour)) {
		t.Errorf("DueAfter() = %v, want %v", got, ref.Add(24*time.Hour))
	}

	immediate := RunStep{DelayMinutes: 0}
	if got := immediate.DueAfter(ref); !got.Equal(ref) {
		t.Errorf("DueAfter() with zero delay = %v, want %v", got, ref)
	}
}
