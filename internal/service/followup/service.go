package followup

import (
	"context"
	"errors"

	"github.com/linguaflow/followup-engine/internal/clock"
	"github.com/linguaflow/followup-engine/internal/metrics"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/repository"
	"github.com/linguaflow/followup-engine/internal/util"
)

var (
	ErrUnknownStudent   = errors.New("unknown student")
	ErrUnknownSequence  = errors.New("unknown sequence")
	ErrSequenceArchived = errors.New("sequence is archived")
	ErrEmptySequence    = errors.New("sequence has no steps")
	ErrRunNotFound      = errors.New("run not found")
)

// Service owns the automation run lifecycle: activation (with the
// one-active-run-per-pair rule), manual stop, degraded-run re-arm, and run
// detail for the admin UI.
type Service struct {
	runs        repository.RunsRepository
	sequences   repository.SequencesRepository
	students    repository.StudentsRepository
	touchpoints repository.TouchpointsRepository
	clock       clock.Clock
}

func New(
	runs repository.RunsRepository,
	sequences repository.SequencesRepository,
	students repository.StudentsRepository,
	touchpoints repository.TouchpointsRepository,
	clk clock.Clock,
) *Service {
	return &Service{
		runs:        runs,
		sequences:   sequences,
		students:    students,
		touchpoints: touchpoints,
		clock:       clk,
	}
}

// Activate starts a run of the sequence against the student. When an active
// run already exists for the pair, that run is returned with created=false —
// activation is idempotent from the caller's perspective, never a duplicate
// row.
func (s *Service) Activate(ctx context.Context, studentID, sequenceID int64) (*model.AutomationRun, bool, error) {
	student, err := s.students.GetByID(ctx, studentID)
	if err != nil {
		return nil, false, err
	}
	if student == nil {
		return nil, false, ErrUnknownStudent
	}

	seq, err := s.sequences.GetByID(ctx, sequenceID)
	if err != nil {
		return nil, false, err
	}
	if seq == nil {
		return nil, false, ErrUnknownSequence
	}
	if seq.Status == model.SequenceArchived {
		return nil, false, ErrSequenceArchived
	}
	if len(seq.Steps) == 0 {
		return nil, false, ErrEmptySequence
	}

	if existing, err := s.runs.FindActive(ctx, studentID, sequenceID); err != nil {
		return nil, false, err
	} else if existing != nil {
		return existing, false, nil
	}

	now := s.clock.Now()
	runID := util.NewID()

	steps := make([]model.RunStep, 0, len(seq.Steps))
	for _, st := range seq.Steps {
		steps = append(steps, st.Snapshot(runID))
	}

	run := model.AutomationRun{
		ID:         runID,
		StudentID:  studentID,
		SequenceID: sequenceID,
		Status:     model.RunActivated,
		TotalSteps: len(steps),
		StartedAt:  now,
		// first delay is measured from activation, not from the next poll
		NextDueAt: model.NewNullTime(steps[0].DueAfter(now)),
	}

	if err := s.runs.ActivateRun(ctx, run, steps); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveRun) {
			// lost an activation race; hand back the winner
			existing, ferr := s.runs.FindActive(ctx, studentID, sequenceID)
			if ferr != nil {
				return nil, false, ferr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	metrics.RunTransitionsTotal.WithLabelValues(model.RunActivated.String()).Inc()
	return &run, true, nil
}

// Stop disables the run. Stopping an already-terminal run is a no-op, not an
// error; the terminal run is returned either way.
func (s *Service) Stop(ctx context.Context, runID string) (*model.AutomationRun, error) {
	stopped, err := s.runs.TerminateRun(ctx, runID, model.RunDisabled, s.clock.Now())
	if err != nil {
		return nil, err
	}
	if stopped {
		metrics.RunTransitionsTotal.WithLabelValues(model.RunDisabled.String()).Inc()
	}

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Rearm puts a degraded run back on the schedule (attempts reset, current
// step due immediately). No-op when the run is not degraded.
func (s *Service) Rearm(ctx context.Context, runID string) (*model.AutomationRun, error) {
	if _, err := s.runs.RearmDegraded(ctx, runID, s.clock.Now()); err != nil {
		return nil, err
	}

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// Detail is the run view the admin UI renders: the run, its frozen steps,
// and every touchpoint it produced.
type Detail struct {
	Run         model.AutomationRun `json:"run"`
	Steps       []model.RunStep     `json:"steps"`
	Touchpoints []model.Touchpoint  `json:"touchpoints"`
}

func (s *Service) Detail(ctx context.Context, runID string) (*Detail, error) {
	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, ErrRunNotFound
	}

	steps, err := s.runs.Steps(ctx, runID)
	if err != nil {
		return nil, err
	}
	tps, err := s.touchpoints.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	return &Detail{Run: *run, Steps: steps, Touchpoints: tps}, nil
}
