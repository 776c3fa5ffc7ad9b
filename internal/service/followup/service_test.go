package followup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linguaflow/followup-engine/internal/clock"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/repository"
)

type fakeRuns struct {
	runs       map[string]*model.AutomationRun
	steps      map[string][]model.RunStep
	activateFn func(run model.AutomationRun, steps []model.RunStep) error
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{
		runs:  make(map[string]*model.AutomationRun),
		steps: make(map[string][]model.RunStep),
	}
}

func (f *fakeRuns) ActivateRun(_ context.Context, run model.AutomationRun, steps []model.RunStep) error {
	if f.activateFn != nil {
		if err := f.activateFn(run, steps); err != nil {
			return err
		}
	}
	for _, existing := range f.runs {
		if existing.StudentID == run.StudentID && existing.SequenceID == run.SequenceID && existing.Status.Active() {
			return repository.ErrDuplicateActiveRun
		}
	}
	r := run
	f.runs[run.ID] = &r
	f.steps[run.ID] = steps
	return nil
}

func (f *fakeRuns) GetByID(_ context.Context, id string) (*model.AutomationRun, error) {
	if r, ok := f.runs[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRuns) FindActive(_ context.Context, studentID, sequenceID int64) (*model.AutomationRun, error) {
	for _, r := range f.runs {
		if r.StudentID == studentID && r.SequenceID == sequenceID && r.Status.Active() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeRuns) ActiveByStudent(_ context.Context, studentID int64) ([]model.AutomationRun, error) {
	var out []model.AutomationRun
	for _, r := range f.runs {
		if r.StudentID == studentID && r.Status.Active() {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeRuns) Steps(_ context.Context, runID string) ([]model.RunStep, error) {
	return f.steps[runID], nil
}

func (f *fakeRuns) TerminateRun(_ context.Context, runID string, status model.RunStatus, at time.Time) (bool, error) {
	r, ok := f.runs[runID]
	if !ok || r.Status.Terminal() {
		return false, nil
	}
	r.Status = status
	r.CompletedAt = model.NewNullTime(at)
	r.NextDueAt = model.NullTime{}
	return true, nil
}

func (f *fakeRuns) RearmDegraded(_ context.Context, runID string, at time.Time) (bool, error) {
	r, ok := f.runs[runID]
	if !ok || !r.Degraded || r.Status.Terminal() {
		return false, nil
	}
	r.Degraded = false
	r.Attempts = 0
	r.NextDueAt = model.NewNullTime(at)
	return true, nil
}

type fakeSequences struct {
	byID map[int64]*model.Sequence
}

func (f *fakeSequences) GetByID(_ context.Context, id int64) (*model.Sequence, error) {
	if s, ok := f.byID[id]; ok {
		return s, nil
	}
	return nil, nil
}
func (f *fakeSequences) List(context.Context) ([]model.Sequence, error) { return nil, nil }
func (f *fakeSequences) Create(context.Context, *model.Sequence) error  { return nil }

type fakeStudents struct {
	byID map[int64]*model.Student
}

func (f *fakeStudents) GetByID(_ context.Context, id int64) (*model.Student, error) {
	if s, ok := f.byID[id]; ok {
		return s, nil
	}
	return nil, nil
}

func (f *fakeStudents) FindByContact(_ context.Context, contact string) (*model.Student, error) {
	for _, s := range f.byID {
		if s.Phone == contact || s.Email == contact {
			return s, nil
		}
	}
	return nil, nil
}

type fakeTouchpoints struct {
	rows []model.Touchpoint
}

func (f *fakeTouchpoints) Insert(_ context.Context, tp model.Touchpoint) (*model.Touchpoint, bool, error) {
	if tp.ExternalID.Valid {
		for i := range f.rows {
			if f.rows[i].ExternalID.Valid && f.rows[i].ExternalID.String == tp.ExternalID.String {
				return &f.rows[i], true, nil
			}
		}
	}
	f.rows = append(f.rows, tp)
	return &tp, false, nil
}

func (f *fakeTouchpoints) GetByID(_ context.Context, id string) (*model.Touchpoint, error) {
	for i := range f.rows {
		if f.rows[i].ID == id {
			return &f.rows[i], nil
		}
	}
	return nil, nil
}

func (f *fakeTouchpoints) List(_ context.Context, _ model.TouchpointFilter, _, _ int) ([]model.Touchpoint, error) {
	return f.rows, nil
}

func (f *fakeTouchpoints) ListByRun(_ context.Context, runID string) ([]model.Touchpoint, error) {
	var out []model.Touchpoint
	for _, tp := range f.rows {
		if tp.RunID.Valid && tp.RunID.String == runID {
			out = append(out, tp)
		}
	}
	return out, nil
}

func (f *fakeTouchpoints) Correct(_ context.Context, id, content string, occurredAt *time.Time) (*model.Touchpoint, error) {
	for i := range f.rows {
		if f.rows[i].ID == id {
			if content != "" {
				f.rows[i].Content = content
			}
			if occurredAt != nil {
				f.rows[i].OccurredAt = *occurredAt
			}
			return &f.rows[i], nil
		}
	}
	return nil, nil
}

var (
	_ repository.RunsRepository        = (*fakeRuns)(nil)
	_ repository.SequencesRepository   = (*fakeSequences)(nil)
	_ repository.StudentsRepository    = (*fakeStudents)(nil)
	_ repository.TouchpointsRepository = (*fakeTouchpoints)(nil)
)

func testFixture() (*Service, *fakeRuns, *clock.Manual) {
	runs := newFakeRuns()
	students := &fakeStudents{byID: map[int64]*model.Student{
		1: {ID: 1, FirstName: "Sara", Email: "sara@example.com", Phone: "+31612000001"},
	}}
	sequences := &fakeSequences{byID: map[int64]*model.Sequence{
		10: {
			ID: 10, Name: "trial-welcome", Status: model.SequenceActive,
			Steps: []model.SequenceStep{
				{StepOrder: 0, Channel: model.ChannelEmail, DelayMinutes: 0, Body: "hi {{.FirstName}}"},
				{StepOrder: 1, Channel: model.ChannelSMS, DelayMinutes: 1440, Body: "checking in"},
			},
		},
		11: {ID: 11, Name: "archived", Status: model.SequenceArchived,
			Steps: []model.SequenceStep{{StepOrder: 0, Channel: model.ChannelSMS, Body: "x"}}},
		12: {ID: 12, Name: "empty", Status: model.SequenceActive},
	}}

	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := New(runs, sequences, students, &fakeTouchpoints{}, clk)
	return svc, runs, clk
}

func TestActivateCreatesRunWithSnapshot(t *testing.T) {
	svc, runs, clk := testFixture()

	run, created, err := svc.Activate(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if !created {
		t.Fatal("Activate() created = false on first activation")
	}
	if run.Status != model.RunActivated || run.TotalSteps != 2 || run.CurrentStep != 0 {
		t.Errorf("run = %+v", run)
	}
	// step 0 has zero delay, so it is due right away
	if !run.NextDueAt.Valid || !run.NextDueAt.Time.Equal(clk.Now()) {
		t.Errorf("NextDueAt = %v, want %v", run.NextDueAt, clk.Now())
	}

	steps, _ := runs.Steps(context.Background(), run.ID)
	if len(steps) != 2 || steps[1].DelayMinutes != 1440 {
		t.Errorf("snapshot steps = %+v", steps)
	}
}

func TestActivateIsIdempotentPerPair(t *testing.T) {
	svc, _, _ := testFixture()

	first, _, err := svc.Activate(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("first Activate() error = %v", err)
	}
	second, created, err := svc.Activate(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("second Activate() error = %v", err)
	}
	if created {
		t.Error("second activation must not create a new run")
	}
	if second.ID != first.ID {
		t.Errorf("second activation returned run %s, want existing %s", second.ID, first.ID)
	}
}

func TestActivateResolvesInsertRace(t *testing.T) {
	svc, runs, clk := testFixture()

	// simulate a concurrent activation that wins between FindActive and insert
	raced := false
	runs.activateFn = func(run model.AutomationRun, steps []model.RunStep) error {
		if !raced {
			raced = true
			winner := model.AutomationRun{
				ID: "01WINNER", StudentID: run.StudentID, SequenceID: run.SequenceID,
				Status: model.RunActivated, TotalSteps: run.TotalSteps, StartedAt: clk.Now(),
			}
			runs.runs[winner.ID] = &winner
		}
		return nil
	}

	run, created, err := svc.Activate(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if created || run.ID != "01WINNER" {
		t.Errorf("race should return the winner run, got created=%v id=%s", created, run.ID)
	}
}

func TestActivateValidation(t *testing.T) {
	svc, _, _ := testFixture()
	ctx := context.Background()

	tests := []struct {
		name       string
		studentID  int64
		sequenceID int64
		wantErr    error
	}{
		{"unknown student", 99, 10, ErrUnknownStudent},
		{"unknown sequence", 1, 99, ErrUnknownSequence},
		{"archived sequence", 1, 11, ErrSequenceArchived},
		{"empty sequence", 1, 12, ErrEmptySequence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Activate(ctx, tt.studentID, tt.sequenceID)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Activate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	svc, _, _ := testFixture()
	ctx := context.Background()

	run, _, err := svc.Activate(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	stopped, err := svc.Stop(ctx, run.ID)
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stopped.Status != model.RunDisabled {
		t.Errorf("status = %s, want disabled", stopped.Status)
	}
	if stopped.NextDueAt.Valid {
		t.Error("stopped run must have no pending dispatch")
	}

	again, err := svc.Stop(ctx, run.ID)
	if err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
	if again.Status != model.RunDisabled {
		t.Errorf("second stop status = %s, want disabled unchanged", again.Status)
	}
}

func TestStopUnknownRun(t *testing.T) {
	svc, _, _ := testFixture()
	if _, err := svc.Stop(context.Background(), "nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Stop() error = %v, want ErrRunNotFound", err)
	}
}

func TestRearmDegradedRun(t *testing.T) {
	svc, runs, clk := testFixture()
	ctx := context.Background()

	run, _, err := svc.Activate(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	// retries exhausted: timer stopped, degraded flag up
	r := runs.runs[run.ID]
	r.Degraded = true
	r.Attempts = 5
	r.NextDueAt = model.NullTime{}

	clk.Advance(2 * time.Hour)
	rearmed, err := svc.Rearm(ctx, run.ID)
	if err != nil {
		t.Fatalf("Rearm() error = %v", err)
	}
	if rearmed.Degraded || rearmed.Attempts != 0 {
		t.Errorf("rearmed run = %+v", rearmed)
	}
	if !rearmed.NextDueAt.Valid || !rearmed.NextDueAt.Time.Equal(clk.Now()) {
		t.Errorf("NextDueAt = %v, want due immediately at %v", rearmed.NextDueAt, clk.Now())
	}

	// activation is still blocked while the degraded run is active
	_, created, err := svc.Activate(ctx, 1, 10)
	if err != nil {
		t.Fatalf("Activate() error = %v", err)
	}
	if created {
		t.Error("a degraded (still active) run must block re-activation")
	}
}
