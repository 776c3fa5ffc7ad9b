package timeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/linguaflow/followup-engine/internal/clock"
	"github.com/linguaflow/followup-engine/internal/metrics"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/repository"
	"github.com/linguaflow/followup-engine/internal/util"
)

var (
	ErrUnknownContact     = errors.New("no student matches the inbound contact")
	ErrUnknownStudent     = errors.New("unknown student")
	ErrTouchpointNotFound = errors.New("touchpoint not found")
)

// Service is the touchpoint ledger plus the reply detector. Every inbound
// path (webhooks, the Kafka topic, staff-logged inbound calls) funnels
// through here so reply detection never misses an entry point.
type Service struct {
	touchpoints repository.TouchpointsRepository
	runs        repository.RunsRepository
	students    repository.StudentsRepository
	clock       clock.Clock
	log         *zap.Logger
}

func New(
	touchpoints repository.TouchpointsRepository,
	runs repository.RunsRepository,
	students repository.StudentsRepository,
	clk clock.Clock,
	log *zap.Logger,
) *Service {
	return &Service{
		touchpoints: touchpoints,
		runs:        runs,
		students:    students,
		clock:       clk,
		log:         log,
	}
}

// ManualEntry is a staff-logged communication (typically a phone call, or a
// message sent outside the engine).
type ManualEntry struct {
	StudentID  int64
	Channel    model.Channel
	Direction  model.Direction
	Subject    string
	Content    string
	OccurredAt time.Time // zero = now
}

func (s *Service) RecordManual(ctx context.Context, e ManualEntry) (*model.Touchpoint, error) {
	student, err := s.students.GetByID(ctx, e.StudentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, ErrUnknownStudent
	}

	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock.Now()
	}

	tp := model.Touchpoint{
		ID:         util.NewID(),
		StudentID:  e.StudentID,
		Channel:    e.Channel,
		Direction:  e.Direction,
		Source:     model.SourceManual,
		Subject:    e.Subject,
		Content:    e.Content,
		OccurredAt: occurred,
	}

	stored, _, err := s.touchpoints.Insert(ctx, tp)
	if err != nil {
		return nil, err
	}
	metrics.TouchpointsTotal.WithLabelValues(tp.Channel.String(), tp.Direction.String()).Inc()

	// a staff-logged inbound contact counts as a reply too
	if e.Direction == model.DirectionInbound {
		s.detectReply(ctx, e.StudentID)
	}
	return stored, nil
}

// RecordInbound ingests a normalized provider event. Replayed events (same
// external_id) return the original row with deduped=true and trigger nothing.
func (s *Service) RecordInbound(ctx context.Context, ev model.InboundEvent) (*model.Touchpoint, bool, error) {
	studentID := ev.StudentID
	if studentID == 0 {
		student, err := s.students.FindByContact(ctx, util.NormalizeContact(ev.Contact))
		if err != nil {
			return nil, false, err
		}
		if student == nil {
			return nil, false, ErrUnknownContact
		}
		studentID = student.ID
	} else {
		student, err := s.students.GetByID(ctx, studentID)
		if err != nil {
			return nil, false, err
		}
		if student == nil {
			return nil, false, ErrUnknownStudent
		}
	}

	source := ev.Source
	if source == "" {
		source = model.SourceWebhook
	}
	occurred := ev.OccurredAt
	if occurred.IsZero() {
		occurred = s.clock.Now()
	}

	tp := model.Touchpoint{
		ID:         util.NewID(),
		StudentID:  studentID,
		Channel:    ev.Channel,
		Direction:  model.DirectionInbound,
		Source:     source,
		Content:    ev.Content,
		OccurredAt: occurred,
	}
	if ev.ExternalID != "" {
		tp.ExternalID = model.NewNullString(ev.ExternalID)
	}

	stored, deduped, err := s.touchpoints.Insert(ctx, tp)
	if err != nil {
		return nil, false, err
	}
	if deduped {
		metrics.InboundDedupedTotal.Inc()
		return stored, true, nil
	}

	metrics.TouchpointsTotal.WithLabelValues(tp.Channel.String(), tp.Direction.String()).Inc()
	s.detectReply(ctx, studentID)
	return stored, false, nil
}

// detectReply halts every active run of the student. Correlation is by
// student only: channels do not expose reliable thread ids, so any inbound
// activity is treated as an opt-out of further automation.
func (s *Service) detectReply(ctx context.Context, studentID int64) {
	runs, err := s.runs.ActiveByStudent(ctx, studentID)
	if err != nil {
		s.log.Error("reply detection: list active runs", zap.Int64("student_id", studentID), zap.Error(err))
		return
	}

	now := s.clock.Now()
	for _, run := range runs {
		halted, err := s.runs.TerminateRun(ctx, run.ID, model.RunAnswerReceived, now)
		if err != nil {
			s.log.Error("reply detection: terminate run", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		if halted {
			metrics.RunTransitionsTotal.WithLabelValues(model.RunAnswerReceived.String()).Inc()
			s.log.Info("run halted by reply",
				zap.String("run_id", run.ID),
				zap.Int64("student_id", studentID))
		}
	}
}

// List pages the ledger, newest first.
func (s *Service) List(ctx context.Context, f model.TouchpointFilter, limit, offset int) ([]model.Touchpoint, error) {
	return s.touchpoints.List(ctx, f, limit, offset)
}

// Correct applies the narrow staff edit (content/occurred_at); everything
// else about a touchpoint is immutable.
func (s *Service) Correct(ctx context.Context, id, content string, occurredAt *time.Time) (*model.Touchpoint, error) {
	existing, err := s.touchpoints.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrTouchpointNotFound
	}
	return s.touchpoints.Correct(ctx, id, content, occurredAt)
}
