package dispatcher

import (
	"sync"
	"time"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker is a per-provider circuit breaker: after failThreshold consecutive
// failures the provider is taken out of rotation for openFor, then a single
// probe request decides whether it closes again.
type Breaker struct {
	mu sync.Mutex

	state         breakerState
	fails         int
	failThreshold int
	openFor       time.Duration
	reopenAt      time.Time
	probing       bool
}

func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	return &Breaker{failThreshold: threshold, openFor: openFor}
}

// Ready reports whether the provider may be offered work right now.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateClosed {
		return true
	}
	if b.probing {
		return false
	}
	return b.state == stateHalfOpen || time.Now().After(b.reopenAt)
}

// TryAcquire reserves the right to send. In open/half-open state only one
// probe is allowed in flight.
func (b *Breaker) TryAcquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.probing || !time.Now().After(b.reopenAt) {
			return false
		}
		b.state = stateHalfOpen
		b.probing = true
		return true
	default: // half-open
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
}

func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	b.fails = 0
	b.state = stateClosed
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		// failed probe: back to open for another window
		b.state = stateOpen
		b.reopenAt = time.Now().Add(b.openFor)
		b.probing = false
		return
	}

	b.fails++
	if b.fails >= b.failThreshold {
		b.state = stateOpen
		b.reopenAt = time.Now().Add(b.openFor)
	}
}
