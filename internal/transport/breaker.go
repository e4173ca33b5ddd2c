package transport

import (
	"sync"
	"time"
)

// ── Breaker state ────────────────────────────────────────────────────

type breakerState int

const (
	// breakerClosed lets every session attempt through.
	breakerClosed breakerState = iota
	// breakerOpen rejects attempts until the cooldown has passed.
	breakerOpen
	// breakerHalfOpen lets one probe through; its outcome decides.
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker stops an SSHDialer from handshaking with a jump host that
// keeps failing.  Callers serialize allow/record pairs.
type breaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	maxFailures int
	cooldown    time.Duration
	openedAt    time.Time

	now      func() time.Time
	onChange func(from, to breakerState)
}

func newBreaker(maxFailures int, cooldown time.Duration) *breaker {
	return &breaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// allow reports whether a session attempt may start.  When it may not,
// wait is the time left until the next probe.
func (b *breaker) allow() (wait time.Duration, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != breakerOpen {
		return 0, true
	}
	if left := b.cooldown - b.now().Sub(b.openedAt); left > 0 {
		return left, false
	}
	b.transition(breakerHalfOpen)
	return 0, true
}

// record feeds back the outcome of an attempt that allow let through.
func (b *breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.transition(breakerClosed)
		return
	}
	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.maxFailures {
		b.openedAt = b.now()
		b.transition(breakerOpen)
	}
}

func (b *breaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *breaker) consecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

func (b *breaker) transition(to breakerState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
