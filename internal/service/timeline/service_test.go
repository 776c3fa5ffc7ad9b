package timeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/linguaflow/followup-engine/internal/clock"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/repository"
)

type fakeRuns struct {
	runs       map[string]*model.AutomationRun
	terminated []string
}

func (f *fakeRuns) ActivateRun(context.Context, model.AutomationRun, []model.RunStep) error {
	return nil
}
func (f *fakeRuns) GetByID(_ context.Context, id string) (*model.AutomationRun, error) {
	return f.runs[id], nil
}
func (f *fakeRuns) FindActive(context.Context, int64, int64) (*model.AutomationRun, error) {
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

func (f *fakeRuns) Steps(context.Context, string) ([]model.RunStep, error) { return nil, nil }

func (f *fakeRuns) TerminateRun(_ context.Context, runID string, status model.RunStatus, _ time.Time) (bool, error) {
	r, ok := f.runs[runID]
	if !ok || r.Status.Terminal() {
		return false, nil
	}
	r.Status = status
	f.terminated = append(f.terminated, runID)
	return true, nil
}

func (f *fakeRuns) RearmDegraded(context.Context, string, time.Time) (bool, error) {
	return false, nil
}

type fakeStudents struct {
	byID map[int64]*model.Student
}

func (f *fakeStudents) GetByID(_ context.Context, id int64) (*model.Student, error) {
	return f.byID[id], nil
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

func (f *fakeTouchpoints) List(context.Context, model.TouchpointFilter, int, int) ([]model.Touchpoint, error) {
	return f.rows, nil
}

func (f *fakeTouchpoints) ListByRun(context.Context, string) ([]model.Touchpoint, error) {
	return nil, nil
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
	_ repository.StudentsRepository    = (*fakeStudents)(nil)
	_ repository.TouchpointsRepository = (*fakeTouchpoints)(nil)
)

func testFixture() (*Service, *fakeRuns, *fakeTouchpoints) {
	runs := &fakeRuns{runs: map[string]*model.AutomationRun{
		"RUN1": {ID: "RUN1", StudentID: 1, SequenceID: 10, Status: model.RunOngoing},
		"RUN2": {ID: "RUN2", StudentID: 1, SequenceID: 20, Status: model.RunActivated},
		"RUN3": {ID: "RUN3", StudentID: 2, SequenceID: 10, Status: model.RunOngoing},
	}}
	students := &fakeStudents{byID: map[int64]*model.Student{
		1: {ID: 1, FirstName: "Sara", Email: "sara@example.com", Phone: "+31612000001"},
		2: {ID: 2, FirstName: "Diego", Email: "diego@example.com", Phone: "+31612000002"},
	}}
	tps := &fakeTouchpoints{}

	clk := clock.NewManual(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := New(tps, runs, students, clk, zap.NewNop())
	return svc, runs, tps
}

func TestRecordInboundHaltsAllActiveRuns(t *testing.T) {
	svc, runs, tps := testFixture()

	// reply comes in on SMS; the student's email run must halt too
	tp, deduped, err := svc.RecordInbound(context.Background(), model.InboundEvent{
		Contact:    "+31612000001",
		Channel:    model.ChannelSMS,
		Content:    "yes, I'd like to book",
		ExternalID: "twilio-1",
		Source:     "twilio",
	})
	if err != nil || deduped {
		t.Fatalf("RecordInbound() = (%v, %v, %v)", tp, deduped, err)
	}
	if tp.StudentID != 1 || tp.Direction != model.DirectionInbound || tp.Source != "twilio" {
		t.Errorf("touchpoint = %+v", tp)
	}
	if len(tps.rows) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(tps.rows))
	}

	if len(runs.terminated) != 2 {
		t.Fatalf("terminated runs = %v, want RUN1 and RUN2", runs.terminated)
	}
	for _, id := range []string{"RUN1", "RUN2"} {
		if runs.runs[id].Status != model.RunAnswerReceived {
			t.Errorf("run %s status = %s, want answer_received", id, runs.runs[id].Status)
		}
	}
	// another student's run is untouched
	if runs.runs["RUN3"].Status != model.RunOngoing {
		t.Errorf("RUN3 status = %s, want ongoing", runs.runs["RUN3"].Status)
	}
}

func TestRecordInboundDedupByExternalID(t *testing.T) {
	svc, runs, tps := testFixture()
	ctx := context.Background()

	ev := model.InboundEvent{
		StudentID:  2,
		Channel:    model.ChannelWhatsApp,
		Content:    "hola",
		ExternalID: "meta-77",
	}
	if _, deduped, err := svc.RecordInbound(ctx, ev); err != nil || deduped {
		t.Fatalf("first RecordInbound() deduped=%v err=%v", deduped, err)
	}
	_, deduped, err := svc.RecordInbound(ctx, ev)
	if err != nil {
		t.Fatalf("replayed RecordInbound() error = %v", err)
	}
	if !deduped {
		t.Error("replayed event must be deduplicated")
	}
	if len(tps.rows) != 1 {
		t.Errorf("ledger rows = %d, want 1 after replay", len(tps.rows))
	}
	if len(runs.terminated) != 1 {
		t.Errorf("terminated = %v, replay must not re-trigger reply detection", runs.terminated)
	}
}

func TestRecordInboundUnknownContact(t *testing.T) {
	svc, _, tps := testFixture()

	_, _, err := svc.RecordInbound(context.Background(), model.InboundEvent{
		Contact: "+9999999",
		Channel: model.ChannelSMS,
		Content: "who dis",
	})
	if !errors.Is(err, ErrUnknownContact) {
		t.Fatalf("RecordInbound() error = %v, want ErrUnknownContact", err)
	}
	if len(tps.rows) != 0 {
		t.Error("unmatched events must not reach the ledger")
	}
}

func TestRecordManualInboundCountsAsReply(t *testing.T) {
	svc, runs, _ := testFixture()

	// staff logs an inbound phone call
	tp, err := svc.RecordManual(context.Background(), ManualEntry{
		StudentID: 1,
		Channel:   model.ChannelCall,
		Direction: model.DirectionInbound,
		Content:   "called to reschedule the trial",
	})
	if err != nil {
		t.Fatalf("RecordManual() error = %v", err)
	}
	if tp.Source != model.SourceManual {
		t.Errorf("source = %s, want manual", tp.Source)
	}
	if len(runs.terminated) != 2 {
		t.Errorf("terminated = %v, an inbound call is a reply", runs.terminated)
	}
}

func TestRecordManualOutboundDoesNotHalt(t *testing.T) {
	svc, runs, _ := testFixture()

	_, err := svc.RecordManual(context.Background(), ManualEntry{
		StudentID: 1,
		Channel:   model.ChannelEmail,
		Direction: model.DirectionOutbound,
		Content:   "sent the brochure",
	})
	if err != nil {
		t.Fatalf("RecordManual() error = %v", err)
	}
	if len(runs.terminated) != 0 {
		t.Errorf("terminated = %v, outbound log must not halt runs", runs.terminated)
	}
}

func TestCorrectTouchpoint(t *testing.T) {
	svc, _, _ := testFixture()
	ctx := context.Background()

	tp, err := svc.RecordManual(ctx, ManualEntry{
		StudentID: 1,
		Channel:   model.ChannelCall,
		Direction: model.DirectionOutbound,
		Content:   "left a voicemale",
	})
	if err != nil {
		t.Fatalf("RecordManual() error = %v", err)
	}

	when := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	fixed, err := svc.Correct(ctx, tp.ID, "left a voicemail", &when)
	if err != nil {
		t.Fatalf("Correct() error = %v", err)
	}
	if fixed.Content != "left a voicemail" || !fixed.OccurredAt.Equal(when) {
		t.Errorf("corrected = %+v", fixed)
	}

	if _, err := svc.Correct(ctx, "missing", "x", nil); !errors.Is(err, ErrTouchpointNotFound) {
		t.Errorf("Correct() error = %v, want ErrTouchpointNotFound", err)
	}
}
