// Package core wires admission control, graceful degradation, the
// fallback dispatcher, and usage tracking into the single call-site
// contract API handlers use around every AI provider call.
package core

import (
	"context"
	"strings"

	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"estiguard/internal/cost"
	"estiguard/internal/degrade"
	"estiguard/internal/dispatch"
	"estiguard/internal/health"
	"estiguard/internal/ledger"
	"estiguard/internal/logger"
	"estiguard/internal/models"
	"estiguard/internal/observability"
	"estiguard/internal/ratelimit"
)

// ProviderFunc is the opaque completion provider. The service never knows
// its transport.
type ProviderFunc func(ctx context.Context, model string, req models.CompletionRequest) (*models.CompletionResponse, error)

// Input identifies one logical completion request.
type Input struct {
	Class   string // endpoint class for admission control
	UserID  string
	OrgID   string // optional secondary identity
	Request models.CompletionRequest
}

// Output carries everything a handler needs: the response (live, cached,
// or canned), the admission decision for header passthrough, the
// degradation view, and the tracking result.
type Output struct {
	Response  *models.CompletionResponse
	RateLimit ratelimit.Decision
	Level     degrade.Level
	Features  degrade.Features
	Attempts  []dispatch.Attempt
	Tracking  ledger.TrackResult
}

// Service owns the resilience pipeline state. Construct a fresh instance
// per process (or per test); there is no package-level state to reset.
type Service struct {
	limiter    *ratelimit.Limiter
	dispatcher *dispatch.Dispatcher
	degrade    *degrade.Controller
	ledger     *ledger.Ledger
	cost       *cost.Calculator
	provider   ProviderFunc
	tracer     trace.Tracer
	log        *slog.Logger
}

func New(
	limiter *ratelimit.Limiter,
	dispatcher *dispatch.Dispatcher,
	controller *degrade.Controller,
	usageLedger *ledger.Ledger,
	calculator *cost.Calculator,
	provider ProviderFunc,
) *Service {
	return &Service{
		limiter:    limiter,
		dispatcher: dispatcher,
		degrade:    controller,
		ledger:     usageLedger,
		cost:       calculator,
		provider:   provider,
		tracer:     observability.Tracer(),
		log:        logger.WithComponent("core"),
	}
}

// Complete runs one request through the pipeline: admission, degradation
// gate, dispatch, usage tracking. An admission rejection or a degraded
// canned answer is a normal outcome with a nil error.
func (s *Service) Complete(ctx context.Context, in Input) (Output, error) {
	var out Output

	decision, err := s.limiter.Check(ctx, in.Class, in.UserID, in.OrgID)
	if err != nil {
		// A broken window store must not take the product down: admit,
		// loudly.
		s.log.Warn("admission check failed, admitting", "class", in.Class, "error", err)
		decision = ratelimit.Decision{Allowed: true}
	}
	out.RateLimit = decision
	out.Level, out.Features = s.degrade.Status()
	if !decision.Allowed {
		return out, nil
	}

	if out.Level == degrade.LevelOffline {
		out.Response = s.fallback(in.Request.Prompt())
		return out, nil
	}

	req := s.degrade.DegradedRequest(in.Request)
	if req.Model == degrade.OfflineModel {
		out.Response = s.fallback(in.Request.Prompt())
		return out, nil
	}

	ctx, span := s.tracer.Start(ctx, "resilience.complete")
	defer span.End()

	var opts []dispatch.ExecuteOption
	if req.Model != "" {
		opts = append(opts, dispatch.WithPreferredModel(req.Model))
	}

	resp, attempts, dispatchErr := s.dispatcher.Execute(ctx, func(ctx context.Context, model string) (*models.CompletionResponse, error) {
		return s.provider(ctx, model, req)
	}, opts...)
	out.Attempts = attempts

	s.degrade.Update(deltaFromAttempts(attempts))

	if dispatchErr != nil {
		span.SetStatus(codes.Error, dispatchErr.Error())
		out.Tracking = s.ledger.Track(ctx, ledger.Record{
			UserID:       in.UserID,
			Endpoint:     in.Class,
			Model:        lastAttemptedModel(attempts, req.Model),
			Success:      false,
			ErrorMessage: dispatchErr.Error(),
		})
		return out, dispatchErr
	}

	breakdown := s.cost.Calculate(resp.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	resp.Usage.CostTotal = breakdown.TotalCost
	span.SetAttributes(observability.CompletionAttributes(
		in.Class, in.UserID, resp.Model,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)...)

	// Warm the degraded-mode cache; it is only read back while degraded.
	if prompt := in.Request.Prompt(); prompt != "" {
		s.degrade.CacheResponse(prompt, resp.Content, resp.Model)
	}

	out.Tracking = s.ledger.Track(ctx, ledger.Record{
		UserID:           in.UserID,
		Endpoint:         in.Class,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Cost:             breakdown.TotalCost,
		Success:          true,
	})
	out.Response = resp
	return out, nil
}

// fallback builds the degraded answer, marking whether it came from the
// response cache or the canned set.
func (s *Service) fallback(query string) *models.CompletionResponse {
	text := s.degrade.FallbackResponse(query)
	resp := &models.CompletionResponse{
		ID:    "fallback_" + uuid.NewString(),
		Model: degrade.OfflineModel,
	}
	if strings.HasPrefix(text, "[cached] ") {
		resp.Cached = true
		resp.Content = strings.TrimPrefix(text, "[cached] ")
	} else {
		resp.Canned = true
		resp.Content = text
	}
	return resp
}

// deltaFromAttempts folds dispatch outcomes into degradation pressure.
// Each exhausted candidate counts as one model failure, bucketed further
// as timeout or api error. Non-retryable failures are configuration
// problems and add no pressure.
func deltaFromAttempts(attempts []dispatch.Attempt) degrade.Delta {
	var d degrade.Delta
	for _, a := range attempts {
		if a.Status != "failed" {
			continue
		}
		switch a.Class {
		case dispatch.ClassTimeout:
			d.Timeouts++
			d.ModelFailures++
		case dispatch.ClassAPIError:
			d.APIErrors++
			d.ModelFailures++
		}
	}
	return d
}

func lastAttemptedModel(attempts []dispatch.Attempt, fallback string) string {
	for i := len(attempts) - 1; i >= 0; i-- {
		if attempts[i].Status == "failed" {
			return attempts[i].Model
		}
	}
	return fallback
}

// Quota returns the user's derived quota state.
func (s *Service) Quota(userID string) ledger.QuotaState {
	return s.ledger.Quota(userID)
}

// Usage returns the user's aggregate usage view.
func (s *Service) Usage(userID string) ledger.Summary {
	return s.ledger.Usage(userID)
}

// ResetQuota clears one quota window for a user.
func (s *Service) ResetQuota(userID string, g ledger.Granularity) {
	s.ledger.ResetQuota(userID, g)
}

// ModelHealth returns the dispatcher's health snapshot.
func (s *Service) ModelHealth() map[string]health.ModelHealth {
	return s.dispatcher.HealthStatus()
}

// DegradationStatus returns the current level and feature flags.
func (s *Service) DegradationStatus() (degrade.Level, degrade.Features) {
	return s.degrade.Status()
}

// CacheStats returns the fallback cache statistics.
func (s *Service) CacheStats() degrade.CacheStats {
	return s.degrade.CacheStats()
}
