package dispatcher

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/linguaflow/followup-engine/internal/model"
)

var (
	ErrNoProviders = fmt.Errorf("no providers for channel")
	ErrNoHealthy   = fmt.Errorf("no healthy providers")
	ErrNoAcquire   = fmt.Errorf("provider not acquired")
)

// Dispatcher routes outbound messages to channel providers, round-robin over
// healthy ones, with a bounded number of attempts per dispatch. Retrying
// beyond these attempts is the scheduler's job (backoff via the run's due
// timer).
type Dispatcher struct {
	byChannel         map[model.Channel][]Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
}

func NewDispatcher(provs []Provider, maxAttempts int) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}

	byChannel := make(map[model.Channel][]Provider)
	for _, p := range provs {
		byChannel[p.Channel()] = append(byChannel[p.Channel()], p)
	}

	return &Dispatcher{byChannel: byChannel, maxAttempts: maxAttempts}
}

// Channels lists the channels at least one provider is configured for.
func (d *Dispatcher) Channels() []model.Channel {
	out := make([]model.Channel, 0, len(d.byChannel))
	for c := range d.byChannel {
		out = append(out, c)
	}
	return out
}

func (d *Dispatcher) selectProvider(channel model.Channel) (Provider, error) {
	provs, ok := d.byChannel[channel]
	if !ok || len(provs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoProviders, channel)
	}

	healthy := make([]Provider, 0, len(provs))
	for _, p := range provs {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

func (d *Dispatcher) tryOnce(ctx context.Context, channel model.Channel, msg OutboundMessage) (string, error) {
	p, err := d.selectProvider(channel)
	if err != nil {
		return "", err
	}

	if !p.Acquire() {
		return "", ErrNoAcquire
	}

	return p.Send(ctx, msg)
}

// Send attempts delivery on the channel and returns the provider message id.
func (d *Dispatcher) Send(ctx context.Context, channel model.Channel, msg OutboundMessage) (string, error) {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		id, err := d.tryOnce(ctx, channel, msg)
		if err == nil {
			return id, nil
		}
		last = err
	}

	if last == nil {
		last = fmt.Errorf("send on %s failed", channel)
	}

	return "", last
}
