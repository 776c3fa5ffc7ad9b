package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/linguaflow/followup-engine/internal/clock"
	"github.com/linguaflow/followup-engine/internal/dispatcher"
	"github.com/linguaflow/followup-engine/internal/metrics"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/render"
	"github.com/linguaflow/followup-engine/internal/repository"
	"github.com/linguaflow/followup-engine/internal/util"
)

// Sender is the outbound capability the scheduler consumes
// (*dispatcher.Dispatcher in production).
type Sender interface {
	Send(ctx context.Context, channel model.Channel, msg dispatcher.OutboundMessage) (string, error)
}

// Scheduler polls for due steps, claims them exclusively, renders and sends
// the message, and completes the step (touchpoint + run advance) in one
// transaction. Waiting between steps is just a timestamp in the run row — no
// goroutine ever sleeps for a delay.
type Scheduler struct {
	// Dependencies
	Repo      repository.DispatchRepository
	Students  repository.StudentsRepository
	Sequences repository.SequencesRepository
	Sender    Sender
	Clock     clock.Clock
	Log       *zap.Logger

	// Behavior
	PollInterval    time.Duration // how often due runs are polled
	BatchSize       int           // max claims per poll
	Workers         int           // concurrent dispatchers
	ClaimLease      time.Duration // abandoned-claim recovery window
	MaxStepAttempts int           // failures before the run is flagged degraded
	RetryBackoff    time.Duration // base backoff, doubled per attempt
}

// New builds a scheduler with sane defaults.
func New(
	repo repository.DispatchRepository,
	students repository.StudentsRepository,
	sequences repository.SequencesRepository,
	sender Sender,
	clk clock.Clock,
	log *zap.Logger,
) *Scheduler {
	return &Scheduler{
		Repo:            repo,
		Students:        students,
		Sequences:       sequences,
		Sender:          sender,
		Clock:           clk,
		Log:             log,
		PollInterval:    15 * time.Second,
		BatchSize:       100,
		Workers:         8,
		ClaimLease:      2 * time.Minute,
		MaxStepAttempts: 5,
		RetryBackoff:    time.Minute,
	}
}

// Run starts the poll loop and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.PollInterval <= 0 {
		s.PollInterval = 15 * time.Second
	}
	if s.Workers <= 0 {
		s.Workers = 8
	}
	if s.BatchSize <= 0 {
		s.BatchSize = 100
	}
	if s.MaxStepAttempts <= 0 {
		s.MaxStepAttempts = 5
	}
	if s.RetryBackoff <= 0 {
		s.RetryBackoff = time.Minute
	}

	tick := time.NewTicker(s.PollInterval)
	defer tick.Stop()

	s.Log.Info("scheduler started",
		zap.Duration("poll_interval", s.PollInterval),
		zap.Int("workers", s.Workers),
		zap.Int("batch_size", s.BatchSize))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := s.DispatchDueSteps(ctx); err != nil {
				s.Log.Error("dispatch cycle failed", zap.Error(err))
			}
		}
	}
}

// DispatchDueSteps claims everything due at the current clock reading and
// dispatches it on the worker pool. Safe to invoke concurrently and to
// re-invoke after a crash: claims are exclusive and step completion is
// idempotent per (run, step).
func (s *Scheduler) DispatchDueSteps(ctx context.Context) error {
	now := s.Clock.Now()
	due, err := s.Repo.ClaimDue(ctx, now, s.ClaimLease, s.BatchSize)
	if err != nil {
		return fmt.Errorf("claim due steps: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	jobs := make(chan repository.DueStep)
	done := make(chan struct{})

	workers := s.Workers
	if workers > len(due) {
		workers = len(due)
	}
	for i := 0; i < workers; i++ {
		go func() {
			for d := range jobs {
				s.dispatchOne(ctx, d)
			}
			done <- struct{}{}
		}()
	}

	for _, d := range due {
		jobs <- d
	}
	close(jobs)
	for i := 0; i < workers; i++ {
		<-done
	}
	return nil
}

func (s *Scheduler) dispatchOne(ctx context.Context, due repository.DueStep) {
	log := s.Log.With(
		zap.String("run_id", due.Run.ID),
		zap.Int("step", due.Step.StepOrder),
		zap.String("channel", due.Step.Channel.String()))

	student, err := s.Students.GetByID(ctx, due.Run.StudentID)
	if err != nil || student == nil {
		if err == nil {
			err = fmt.Errorf("student %d not found", due.Run.StudentID)
		}
		log.Error("dispatch: load student", zap.Error(err))
		s.release(ctx, due, log)
		return
	}

	sequenceName := ""
	if seq, err := s.Sequences.GetByID(ctx, due.Run.SequenceID); err == nil && seq != nil {
		sequenceName = seq.Name
	}

	subject, body, err := render.Step(due.Step, render.NewVars(*student, sequenceName))
	if err != nil {
		// broken template: retrying won't fix it, but degrading via the
		// normal attempt counter keeps the failure visible to staff
		log.Error("dispatch: render step", zap.Error(err))
		s.release(ctx, due, log)
		return
	}

	providerID, err := s.Sender.Send(ctx, due.Step.Channel, dispatcher.OutboundMessage{
		Destination: student.Destination(due.Step.Channel),
		Subject:     subject,
		Content:     body,
	})
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(due.Step.Channel.String(), "failed").Inc()
		log.Warn("dispatch: send failed", zap.Error(err))
		s.release(ctx, due, log)
		return
	}

	sentAt := s.Clock.Now()
	tp := model.Touchpoint{
		ID:         util.NewID(),
		StudentID:  due.Run.StudentID,
		RunID:      model.NewNullString(due.Run.ID),
		Channel:    due.Step.Channel,
		Direction:  model.DirectionOutbound,
		Source:     model.SourceAutomated,
		Subject:    subject,
		Content:    body,
		OccurredAt: sentAt,
		// deterministic dedup key: a crash between send and completion must
		// not produce a second ledger row on re-dispatch
		ExternalID: model.NewNullString(stepDedupKey(due.Run.ID, due.Step.StepOrder)),
	}

	completed, err := s.Repo.CompleteStep(ctx, due, tp, sentAt)
	if err != nil {
		log.Error("dispatch: complete step", zap.Error(err))
		return
	}
	if !completed {
		// run terminated while the send was in flight; ledger stays clean
		metrics.DispatchTotal.WithLabelValues(due.Step.Channel.String(), "skipped").Inc()
		log.Info("dispatch: stale claim, step not recorded")
		return
	}

	metrics.DispatchTotal.WithLabelValues(due.Step.Channel.String(), "sent").Inc()
	metrics.TouchpointsTotal.WithLabelValues(tp.Channel.String(), tp.Direction.String()).Inc()
	log.Info("step dispatched", zap.String("provider_id", providerID))
}

func (s *Scheduler) release(ctx context.Context, due repository.DueStep, log *zap.Logger) {
	err := s.Repo.ReleaseFailed(ctx, due.Run.ID, s.Clock.Now(), s.RetryBackoff, s.MaxStepAttempts)
	if err != nil {
		log.Error("dispatch: release failed step", zap.Error(err))
	}
}

func stepDedupKey(runID string, step int) string {
	return fmt.Sprintf("run:%s:step:%d", runID, step)
}
