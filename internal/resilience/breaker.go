// Package resilience protects the gateway from a misbehaving speech
// backend. [Breaker] is a three-state circuit breaker (closed, open,
// half-open); [ASR] wraps an [asr.Provider] with one so that a backend
// outage fails fast instead of queueing requests against a dead upstream.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] while the breaker is open and
// the reset timeout has not yet elapsed.
var ErrOpen = errors.New("resilience: circuit open")

// State is a breaker's operating mode.
type State int

const (
	// StateClosed forwards all calls.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrOpen] until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through. Probes
	// that succeed close the breaker; any probe failure re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero-value fields get defaults.
type BreakerConfig struct {
	// Name labels the breaker in log output.
	Name string

	// MaxFailures is the consecutive-failure count that trips the breaker.
	// Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the probe budget in the half-open state. Default: 3.
	HalfOpenMax int

	// Logger receives state-transition events. Default: [slog.Default].
	Logger *slog.Logger
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	logger       *slog.Logger

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	halfOpenCalls int
	halfOpenFails int
}

// NewBreaker creates a [Breaker] from cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		logger:       cfg.Logger,
	}
}

// Execute runs fn unless the breaker is open. fn's error feeds the failure
// accounting and is returned unchanged.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if time.Since(b.lastFailure) < b.resetTimeout {
			b.mu.Unlock()
			return ErrOpen
		}
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenFails = 0
		b.logger.Info("circuit half-open", slog.String("breaker", b.name))
	case StateHalfOpen:
		if b.halfOpenCalls >= b.halfOpenMax {
			b.mu.Unlock()
			return ErrOpen
		}
	}
	probing := b.state == StateHalfOpen
	if probing {
		b.halfOpenCalls++
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.fail(probing)
	} else {
		b.succeed(probing)
	}
	return err
}

// fail must be called with b.mu held.
func (b *Breaker) fail(probing bool) {
	b.lastFailure = time.Now()
	if probing {
		b.halfOpenFails++
		b.state = StateOpen
		b.failures = b.maxFailures
		b.logger.Warn("circuit re-opened", slog.String("breaker", b.name))
		return
	}
	b.failures++
	if b.failures >= b.maxFailures {
		b.state = StateOpen
		b.logger.Warn("circuit opened",
			slog.String("breaker", b.name),
			slog.Int("failures", b.failures),
		)
	}
}

// succeed must be called with b.mu held.
func (b *Breaker) succeed(probing bool) {
	if !probing {
		b.failures = 0
		return
	}
	if b.halfOpenCalls-b.halfOpenFails >= b.halfOpenMax {
		b.state = StateClosed
		b.failures = 0
		b.halfOpenCalls = 0
		b.halfOpenFails = 0
		b.logger.Info("circuit closed", slog.String("breaker", b.name))
	}
}

// State reports the breaker's mode. An open breaker whose reset timeout
// has elapsed reports half-open; the transition itself happens on the next
// [Breaker.Execute].
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.lastFailure) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}
