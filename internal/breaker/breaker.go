// Package breaker - circuit breaker для вызовов удалённого CMS.
//
// Состояние вычисляется лениво из счётчика неудач и времени последней неудачи:
// closed пока неудач меньше порога, open до истечения RecoveryTimeout,
// затем half-open (пробные вызовы разрешены). Успех сбрасывает всё.
package breaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker is open")

type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half-open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

type Options struct {
	FailureThreshold int           // default 5
	RecoveryTimeout  time.Duration // default 30s
	Now              func() time.Time

	// OnStateChange вызывается вне блокировки при наблюдаемой смене состояния.
	OnStateChange func(from, to State)
}

type Breaker struct {
	opts Options

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	observed    State
}

// Snapshot: состояние для /health и логов.
type Snapshot struct {
	State       string     `json:"state"`
	Failures    int        `json:"failures"`
	LastFailure *time.Time `json:"lastFailure,omitempty"` // nil, пока отказов не было
}

func New(opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.RecoveryTimeout <= 0 {
		opts.RecoveryTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Breaker{opts: opts}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	s, notify := b.observeLocked()
	b.mu.Unlock()
	notify()
	return s
}

// CanAttempt: false только в open.
func (b *Breaker) CanAttempt() bool {
	return b.State() != Open
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	b.failures++
	b.lastFailure = b.opts.Now()
	_, notify := b.observeLocked()
	b.mu.Unlock()
	notify()
}

func (b *Breaker) RecordSuccess() {
	b.Reset()
}

func (b *Breaker) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.lastFailure = time.Time{}
	_, notify := b.observeLocked()
	b.mu.Unlock()
	notify()
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	s, notify := b.observeLocked()
	snap := Snapshot{State: s.String(), Failures: b.failures}
	if !b.lastFailure.IsZero() {
		at := b.lastFailure
		snap.LastFailure = &at
	}
	b.mu.Unlock()
	notify()
	return snap
}

func (b *Breaker) stateLocked() State {
	if b.failures < b.opts.FailureThreshold {
		return Closed
	}
	if b.opts.Now().Sub(b.lastFailure) < b.opts.RecoveryTimeout {
		return Open
	}
	return HalfOpen
}

func (b *Breaker) observeLocked() (State, func()) {
	s := b.stateLocked()
	prev := b.observed
	if s == prev || b.opts.OnStateChange == nil {
		b.observed = s
		return s, func() {}
	}
	b.observed = s
	cb := b.opts.OnStateChange
	return s, func() { cb(prev, s) }
}
