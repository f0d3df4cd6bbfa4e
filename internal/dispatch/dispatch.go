// Package dispatch routes a logical completion request across an ordered
// list of interchangeable models, with per-model retry and circuit
// breaking. The provider itself is an injected opaque operation.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/cenkalti/backoff/v5"

	"estiguard/internal/health"
	"estiguard/internal/logger"
	"estiguard/internal/metrics"
	"estiguard/internal/models"
)

// Operation performs the actual provider call for one model.
type Operation func(ctx context.Context, model string) (*models.CompletionResponse, error)

// RetryConfig tunes the per-model retry loop.
type RetryConfig struct {
	// MaxRetries is the attempt budget per model, not per request.
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

// DefaultRetryConfig returns the production defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// DefaultCandidates is the fixed model priority list, most capable first,
// cheapest and most available last.
var DefaultCandidates = []string{
	"gpt-4o",
	"claude-3-5-sonnet",
	"gpt-4o-mini",
	"gemini-1.5-flash",
}

// Attempt records the outcome for one candidate model, for observability.
type Attempt struct {
	Model  string     `json:"model"`
	Status string     `json:"status"` // success, failed, skipped
	Class  ErrorClass `json:"class,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Dispatcher walks the candidate list, consulting the health tracker and
// applying per-model retry with exponential backoff.
type Dispatcher struct {
	health     *health.Tracker
	retry      RetryConfig
	candidates []string
	log        *slog.Logger
}

// Option configures the Dispatcher.
type Option func(*Dispatcher)

// WithCandidates replaces the default model priority list.
func WithCandidates(candidates []string) Option {
	return func(d *Dispatcher) {
		d.candidates = candidates
	}
}

// WithRetryConfig replaces the retry defaults.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(d *Dispatcher) {
		d.retry = cfg
	}
}

func New(tracker *health.Tracker, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		health:     tracker,
		retry:      DefaultRetryConfig(),
		candidates: DefaultCandidates,
		log:        logger.WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ExecuteOption adjusts a single Execute call.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	preferredModel string
}

// WithPreferredModel pins the request to a single model with no fallback
// chain.
func WithPreferredModel(model string) ExecuteOption {
	return func(o *executeOptions) {
		o.preferredModel = model
	}
}

// Execute runs the operation against the first healthy candidate model,
// returning the first success. A model's failure count moves once per
// exhausted retry sequence; a non-retryable error aborts everything
// immediately since it is not specific to model availability.
func (d *Dispatcher) Execute(ctx context.Context, op Operation, opts ...ExecuteOption) (*models.CompletionResponse, []Attempt, error) {
	var eo executeOptions
	for _, opt := range opts {
		opt(&eo)
	}

	candidates := d.candidates
	if eo.preferredModel != "" {
		candidates = []string{eo.preferredModel}
	}

	attempts := make([]Attempt, 0, len(candidates))
	var lastErr error

	for _, model := range candidates {
		if !d.health.Eligible(model) {
			attempts = append(attempts, Attempt{Model: model, Status: "skipped"})
			metrics.DispatchAttemptsTotal.WithLabelValues(model, "skipped").Inc()
			d.log.Debug("skipping model, circuit open", "model", model)
			continue
		}

		resp, err := d.tryModel(ctx, op, model)
		if err == nil {
			d.health.RecordSuccess(model)
			attempts = append(attempts, Attempt{Model: model, Status: "success"})
			metrics.DispatchAttemptsTotal.WithLabelValues(model, "success").Inc()
			return resp, attempts, nil
		}

		if ctx.Err() != nil {
			// Caller abandoned the request mid-retry; the attempt never
			// resolved, so no health state moves.
			return nil, attempts, fmt.Errorf("dispatch canceled: %w", ctx.Err())
		}

		class := Classify(err)
		attempts = append(attempts, Attempt{Model: model, Status: "failed", Class: class, Error: err.Error()})
		metrics.DispatchAttemptsTotal.WithLabelValues(model, "failed").Inc()

		if class == ClassNonRetryable {
			d.log.Error("non-retryable provider error", "model", model, "error", err.Error())
			return nil, attempts, err
		}

		d.health.RecordFailure(model)
		lastErr = err
		d.log.Warn("model exhausted retries, trying next candidate",
			"model", model, "error", err.Error())
	}

	if lastErr == nil {
		return nil, attempts, ErrNoModelsAvailable
	}
	return nil, attempts, fmt.Errorf("all candidate models failed: %w", lastErr)
}

// tryModel runs the per-model retry loop: up to MaxRetries attempts with
// exponential backoff between them. A non-retryable error stops the loop
// through backoff.Permanent.
func (d *Dispatcher) tryModel(ctx context.Context, op Operation, model string) (*models.CompletionResponse, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.retry.InitialDelay
	b.Multiplier = d.retry.BackoffMultiplier
	if !d.retry.Jitter {
		b.RandomizationFactor = 0
	}

	return backoff.Retry(ctx, func() (*models.CompletionResponse, error) {
		resp, err := op(ctx, model)
		if err != nil {
			if !IsRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if resp == nil {
			return nil, ErrNilResponse
		}
		return resp, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(d.retry.MaxRetries)))
}

// HealthStatus returns the health tracker snapshot.
func (d *Dispatcher) HealthStatus() map[string]health.ModelHealth {
	return d.health.Status()
}

// ResetHealth clears all tracked model health (test/ops hook).
func (d *Dispatcher) ResetHealth() {
	d.health.Reset()
}
