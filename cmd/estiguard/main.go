package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"estiguard/internal/config"
	"estiguard/internal/core"
	"estiguard/internal/cost"
	"estiguard/internal/degrade"
	"estiguard/internal/dispatch"
	"estiguard/internal/events"
	"estiguard/internal/health"
	"estiguard/internal/ledger"
	"estiguard/internal/logger"
	"estiguard/internal/models"
	"estiguard/internal/observability"
	"estiguard/internal/provider"
	"estiguard/internal/ratelimit"
)

func main() {
	_ = godotenv.Load()
	logger.Init(logger.DefaultConfig())
	log := logger.WithComponent("main")

	cfg := config.Load()

	var windowStore ratelimit.Store
	if cfg.RedisAddr != "" {
		rs, err := ratelimit.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Error("redis unavailable, falling back to in-process windows", "error", err.Error())
			windowStore = ratelimit.NewMemoryStore()
		} else {
			windowStore = rs
		}
	} else {
		windowStore = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewLimiter(windowStore)

	ledgerOpts := []ledger.Option{}
	if cfg.LedgerDriver != "" {
		store, err := ledger.NewStore(ledger.StoreConfig{Driver: cfg.LedgerDriver, DSN: cfg.LedgerDSN})
		if err != nil {
			log.Error("usage store unavailable, running in-memory only", "error", err.Error())
		} else {
			defer store.Close()
			ledgerOpts = append(ledgerOpts, ledger.WithStore(store))
		}
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewProducer(cfg.KafkaBrokers)
		if err != nil {
			log.Error("kafka unavailable, usage events disabled", "error", err.Error())
		} else {
			defer producer.Close()
			ledgerOpts = append(ledgerOpts, ledger.WithPublisher(producer))
		}
	}
	usageLedger := ledger.New(ledger.QuotaLimits{
		DailyTokens:   cfg.DailyTokenLimit,
		MonthlyTokens: cfg.MonthlyTokenLimit,
	}, ledgerOpts...)
	if err := usageLedger.WarmStart(context.Background()); err != nil {
		log.Warn("ledger warm start failed", "error", err.Error())
	}

	if cfg.OTLPEndpoint != "" {
		tp, err := observability.InitTracer("estiguard", cfg.OTLPEndpoint)
		if err != nil {
			log.Warn("tracing disabled", "error", err.Error())
		} else {
			defer tp.Shutdown(context.Background())
		}
	}

	tracker := health.NewTracker(health.Config{
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         cfg.BreakerCooldown,
	})
	dispatcher := dispatch.New(tracker, dispatch.WithRetryConfig(dispatch.RetryConfig{
		MaxRetries:        cfg.MaxRetries,
		InitialDelay:      cfg.InitialDelay,
		BackoffMultiplier: cfg.BackoffMultiplier,
		Jitter:            cfg.Jitter,
	}))
	controller := degrade.NewController(degrade.DefaultConfig())

	calculator := cost.NewCalculator()
	mock := provider.NewMock()
	service := core.New(limiter, dispatcher, controller, usageLedger, calculator,
		func(ctx context.Context, model string, req models.CompletionRequest) (*models.CompletionResponse, error) {
			return mock.Complete(ctx, model, req)
		})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", completionHandler(service, "chat"))
	mux.HandleFunc("POST /v1/vision", completionHandler(service, "vision"))
	mux.HandleFunc("POST /v1/estimate", completionHandler(service, "estimate"))
	mux.HandleFunc("GET /v1/quota", quotaHandler(service))
	mux.HandleFunc("POST /v1/quota/reset", quotaResetHandler(service))
	mux.HandleFunc("GET /v1/pricing", pricingHandler(calculator))
	mux.HandleFunc("GET /v1/status", statusHandler(service, cfg))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	log.Info("estiguard starting", "addr", cfg.ListenAddr)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		log.Error("server failed", "error", err.Error())
	}
}

func completionHandler(service *core.Service, class string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)
		log := logger.WithRequestID(requestID)

		var req models.CompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			userID = "anonymous"
		}

		out, err := service.Complete(r.Context(), core.Input{
			Class:   class,
			UserID:  userID,
			OrgID:   r.Header.Get("X-Org-ID"),
			Request: req,
		})

		for k, v := range out.RateLimit.Headers() {
			w.Header().Set(k, v)
		}
		if !out.RateLimit.Allowed {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate limit exceeded",
				"retry_after": int64(out.RateLimit.RetryAfter / time.Second),
			})
			return
		}
		if err != nil {
			log.Warn("completion failed", "class", class, "user", userID, "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"response": out.Response,
			"level":    out.Level,
			"features": out.Features,
		})
	}
}

// pricingHandler shows expected spend for a planned request, or the
// priced model list when no model is named.
func pricingHandler(calc *cost.Calculator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := r.URL.Query().Get("model")
		if model == "" {
			writeJSON(w, http.StatusOK, map[string]any{"models": calc.KnownModels()})
			return
		}
		promptTokens := queryInt64(r, "prompt_tokens")
		maxTokens := queryInt64(r, "max_tokens")
		writeJSON(w, http.StatusOK, map[string]any{
			"model":    model,
			"estimate": calc.Estimate(model, promptTokens, maxTokens),
		})
	}
}

func queryInt64(r *http.Request, key string) int64 {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func quotaHandler(service *core.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		if userID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user parameter required"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"quota": service.Quota(userID),
			"usage": service.Usage(userID),
		})
	}
}

func quotaResetHandler(service *core.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user")
		granularity := ledger.Granularity(r.URL.Query().Get("granularity"))
		if userID == "" || (granularity != ledger.GranularityDaily && granularity != ledger.GranularityMonthly) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user and granularity (daily|monthly) required"})
			return
		}
		service.ResetQuota(userID, granularity)
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func statusHandler(service *core.Service, cfg config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		level, features := service.DegradationStatus()
		writeJSON(w, http.StatusOK, map[string]any{
			"degradation": map[string]any{"level": level, "features": features},
			"models":      service.ModelHealth(),
			"cache":       service.CacheStats(),
			"config":      cfg.Snapshot(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
