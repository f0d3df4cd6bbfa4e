// Package health tracks per-model failure pressure for the fallback
// dispatcher's circuit breaking.
package health

import (
	"sync"
	"time"

	"log/slog"

	"estiguard/internal/logger"
	"estiguard/internal/metrics"
)

// ModelHealth is a snapshot of one model's circuit state.
type ModelHealth struct {
	FailureCount     int        `json:"failure_count"`
	CircuitOpen      bool       `json:"circuit_breaker_open"`
	CircuitOpenUntil *time.Time `json:"circuit_open_until,omitempty"`
}

// Config tunes the circuit breaker.
type Config struct {
	// FailureThreshold is the number of exhausted retry sequences before
	// the circuit opens. Individual retry attempts do not count.
	FailureThreshold int
	// Cooldown is how long an open circuit blocks calls before the next
	// trial is allowed.
	Cooldown time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         time.Minute,
	}
}

type state struct {
	failures  int
	open      bool
	openUntil time.Time
}

// Tracker holds circuit state per model identifier. There is no stored
// half-open state: eligibility after cooldown is derived from the time
// comparison in Eligible, and the open flag is cleared lazily there.
type Tracker struct {
	mu     sync.Mutex
	models map[string]*state
	config Config
	now    func() time.Time
	log    *slog.Logger
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

func NewTracker(config Config, opts ...Option) *Tracker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	t := &Tracker{
		models: make(map[string]*state),
		config: config,
		now:    time.Now,
		log:    logger.WithComponent("health"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Eligible reports whether the model may be called now. An open circuit
// whose cooldown has passed is cleared here and the call is allowed as
// the trial: success closes it for good, failure re-opens it with a
// fresh cooldown.
func (t *Tracker) Eligible(model string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.models[model]
	if !ok || !s.open {
		return true
	}
	if t.now().Before(s.openUntil) {
		return false
	}
	s.open = false
	t.log.Info("circuit cooldown elapsed, allowing trial call", "model", model)
	return true
}

// RecordFailure counts one exhausted retry sequence against the model and
// opens its circuit at the threshold.
func (t *Tracker) RecordFailure(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.models[model]
	if !ok {
		s = &state{}
		t.models[model] = s
	}

	s.failures++
	if s.failures >= t.config.FailureThreshold {
		s.open = true
		s.openUntil = t.now().Add(t.config.Cooldown)
		metrics.CircuitOpensTotal.WithLabelValues(model).Inc()
		t.log.Warn("circuit opened",
			"model", model,
			"failures", s.failures,
			"open_until", s.openUntil,
		)
	}
}

// RecordSuccess resets the model's failure count and closes its circuit.
func (t *Tracker) RecordSuccess(model string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.models[model]
	if !ok {
		return
	}
	s.failures = 0
	s.open = false
	s.openUntil = time.Time{}
}

// Status returns a snapshot of all tracked models.
func (t *Tracker) Status() map[string]ModelHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]ModelHealth, len(t.models))
	for model, s := range t.models {
		h := ModelHealth{
			FailureCount: s.failures,
			CircuitOpen:  s.open,
		}
		if s.open {
			until := s.openUntil
			h.CircuitOpenUntil = &until
		}
		out[model] = h
	}
	return out
}

// Reset clears all tracked state (test/ops hook).
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.models = make(map[string]*state)
}
