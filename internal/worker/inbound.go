package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/linguaflow/followup-engine/internal/kafka"
	"github.com/linguaflow/followup-engine/internal/model"
	"github.com/linguaflow/followup-engine/internal/service/timeline"
)

// InboundConsumer drains the normalized inbound-event topic into the
// touchpoint ledger. Providers that push through the bus instead of the HTTP
// webhook land here; both paths end in timeline.RecordInbound, so reply
// detection and dedup behave identically.
type InboundConsumer struct {
	Consumer *kafka.Consumer
	Timeline *timeline.Service
	Log      *zap.Logger

	Workers int // goroutines processing events
}

func NewInboundConsumer(consumer *kafka.Consumer, tl *timeline.Service, log *zap.Logger) *InboundConsumer {
	return &InboundConsumer{
		Consumer: consumer,
		Timeline: tl,
		Log:      log,
		Workers:  16,
	}
}

// Run starts the consumer and blocks until ctx is cancelled. Delivery is
// at-least-once; replays are absorbed by the external_id dedup in the ledger.
func (w *InboundConsumer) Run(ctx context.Context) error {
	if w.Workers <= 0 {
		w.Workers = 16
	}

	msgCh := make(chan kafka.Message, w.Workers*2)

	// Fetcher goroutine
	go func() {
		defer close(msgCh)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				m, err := w.Consumer.Fetch(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					w.Log.Error("kafka fetch", zap.Error(err))
					time.Sleep(200 * time.Millisecond)
					continue
				}
				msgCh <- m
			}
		}
	}()

	done := make(chan struct{})
	for i := 0; i < w.Workers; i++ {
		go func() {
			for m := range msgCh {
				w.processOne(ctx, m)
			}
			done <- struct{}{}
		}()
	}

	for i := 0; i < w.Workers; i++ {
		<-done
	}
	return ctx.Err()
}

func (w *InboundConsumer) processOne(ctx context.Context, m kafka.Message) {
	var ev model.InboundEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil || !ev.Channel.Valid() {
		// poison message: commit and skip
		if err != nil {
			w.Log.Warn("bad inbound event json", zap.Error(err))
		} else {
			w.Log.Warn("inbound event with invalid channel", zap.String("channel", string(ev.Channel)))
		}
		_ = w.Consumer.Commit(ctx, m)
		return
	}

	_, deduped, err := w.Timeline.RecordInbound(ctx, ev)
	switch {
	case errors.Is(err, timeline.ErrUnknownContact), errors.Is(err, timeline.ErrUnknownStudent):
		// nothing to correlate; drop it
		w.Log.Warn("inbound event for unknown contact",
			zap.String("contact", ev.Contact), zap.Int64("student_id", ev.StudentID))
	case err != nil:
		// transient (DB down etc.): leave uncommitted so Kafka redelivers
		w.Log.Error("record inbound event", zap.Error(err))
		return
	case deduped:
		w.Log.Debug("inbound event deduped", zap.String("external_id", ev.ExternalID))
	}

	if err := w.Consumer.Commit(ctx, m); err != nil {
		w.Log.Error("kafka commit", zap.Error(err))
	}
}
