// Package circuitbreaker keeps a failing delivery provider from
// dragging down the whole dispatch path. Each channel type gets its
// own breaker, so a dead SMS gateway never blocks email.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/channel"
)

// ErrCircuitOpen is returned when deliveries are being rejected to
// give the provider time to recover.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed   State = iota // deliveries pass through
	StateOpen                  // deliveries fail fast
	StateHalfOpen              // a probe delivery is in flight
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

// Config tunes every breaker in a Set the same way.
type Config struct {
	// MaxFailures is the consecutive-failure count that opens a breaker.
	MaxFailures int

	// RecoveryTimeout is how long an open breaker waits before
	// letting a probe delivery through.
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests caps in-flight deliveries while probing.
	HalfOpenMaxRequests int
}

func DefaultConfig() Config {
	return Config{
		MaxFailures:         5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	return c
}

// Breaker tracks one provider's health.
//
//	closed -> open       after MaxFailures consecutive failures
//	open -> half-open    once RecoveryTimeout has passed
//	half-open -> closed  when the probe succeeds
//	half-open -> open    when the probe fails
type Breaker struct {
	name   string
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	state       State
	failures    int
	inFlight    int
	lastFailure time.Time
	changedAt   time.Time

	requests  int64
	successes int64
	rejected  int64
	tripped   int64
}

func New(name string, cfg Config, logger *zap.Logger) *Breaker {
	return &Breaker{
		name:      name,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		state:     StateClosed,
		changedAt: time.Now(),
	}
}

// Allow reports whether a delivery may proceed right now.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) < b.cfg.RecoveryTimeout {
			b.rejected++
			return false
		}
		b.setState(StateHalfOpen)
		b.inFlight = 1
		b.logger.Info("sending probe delivery", zap.String("breaker", b.name))
		return true
	case StateHalfOpen:
		if b.inFlight >= b.cfg.HalfOpenMaxRequests {
			b.rejected++
			return false
		}
		b.inFlight++
		return true
	}
	return false
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.successes++
	b.failures = 0

	if b.state == StateHalfOpen {
		b.setState(StateClosed)
		b.logger.Info("provider recovered", zap.String("breaker", b.name))
	}
}

func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.cfg.MaxFailures {
			b.setState(StateOpen)
			b.tripped++
			b.logger.Warn("circuit opened",
				zap.String("breaker", b.name),
				zap.Int("consecutive_failures", b.failures),
			)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
		b.logger.Warn("probe failed, circuit re-opened", zap.String("breaker", b.name))
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState must be called with the lock held.
func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	b.changedAt = time.Now()
	b.inFlight = 0
}

// Stats is a point-in-time snapshot for /metrics and dashboards.
type Stats struct {
	Name           string `json:"name"`
	State          string `json:"state"`
	Failures       int    `json:"consecutive_failures"`
	TotalRequests  int64  `json:"total_requests"`
	TotalSuccesses int64  `json:"total_successes"`
	TotalRejected  int64  `json:"total_rejected"`
	TimesTripped   int64  `json:"times_tripped"`
	ChangedAt      string `json:"changed_at"`
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Name:           b.name,
		State:          b.state.String(),
		Failures:       b.failures,
		TotalRequests:  b.requests,
		TotalSuccesses: b.successes,
		TotalRejected:  b.rejected,
		TimesTripped:   b.tripped,
		ChangedAt:      b.changedAt.Format(time.RFC3339),
	}
}

// Set holds one breaker per channel type, created on first use.
type Set struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[channel.Type]*Breaker
}

func NewSet(cfg Config, logger *zap.Logger) *Set {
	return &Set{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		breakers: make(map[channel.Type]*Breaker),
	}
}

// For returns the breaker guarding the given channel type.
func (s *Set) For(t channel.Type) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[t]
	if !ok {
		b = New(string(t), s.cfg, s.logger)
		s.breakers[t] = b
	}
	return b
}

// Stats reports every breaker that has seen traffic.
func (s *Set) Stats() []Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Stats, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b.Stats())
	}
	return out
}
