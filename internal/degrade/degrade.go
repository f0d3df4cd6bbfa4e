// Package degrade tracks aggregate failure pressure and progressively
// turns features off, serving cached or canned answers instead of
// failing outright.
package degrade

import (
	"sync"
	"time"

	"log/slog"

	"estiguard/internal/logger"
	"estiguard/internal/metrics"
	"estiguard/internal/models"
)

// Level is the system-wide degradation level.
type Level string

const (
	LevelFull    Level = "full"
	LevelPartial Level = "partial"
	LevelOffline Level = "offline"
)

// OfflineModel is the sentinel model name signaling callers to attempt no
// live call at all.
const OfflineModel = "offline"

// Delta carries new failure counts observed since the last update.
type Delta struct {
	APIErrors     int `json:"apiErrors"`
	Timeouts      int `json:"timeouts"`
	ModelFailures int `json:"modelFailures"`
}

// Features is the flag set derived from the current level.
type Features struct {
	Streaming      bool `json:"streaming"`
	ContextMemory  bool `json:"contextMemory"`
	AdvancedModels bool `json:"advancedModels"`
	Tools          bool `json:"tools"`
}

// Thresholds define the level transitions over the rolling counters.
// Offline conditions are a strict superset of partial conditions on the
// same counters.
type Thresholds struct {
	PartialCombined      int // api errors + timeouts
	OfflineCombined      int
	OfflineModelFailures int
}

// Config tunes the controller.
type Config struct {
	Thresholds         Thresholds
	Window             time.Duration // rolling window for failure counts
	CacheCapacity      int
	CheapModel         string
	PartialMaxTokens   int
	PartialTemperature float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			PartialCombined:      3,
			OfflineCombined:      10,
			OfflineModelFailures: 5,
		},
		Window:             5 * time.Minute,
		CacheCapacity:      1000,
		CheapModel:         "gpt-4o-mini",
		PartialMaxTokens:   512,
		PartialTemperature: 0.3,
	}
}

type bucket struct {
	ts    time.Time
	delta Delta
}

// Controller owns the degradation state for one process instance. It is
// fed by the same failure signals the dispatcher emits and consulted by
// the caller before every request.
type Controller struct {
	mu          sync.Mutex
	cfg         Config
	buckets     []bucket
	level       Level
	lastUpdated time.Time
	cache       *fifoCache
	now         func() time.Time
	log         *slog.Logger
}

// Option configures the Controller.
type Option func(*Controller)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

func NewController(cfg Config, opts ...Option) *Controller {
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = DefaultConfig().CacheCapacity
	}
	if cfg.CheapModel == "" {
		cfg.CheapModel = DefaultConfig().CheapModel
	}
	c := &Controller{
		cfg:   cfg,
		level: LevelFull,
		cache: newFIFOCache(cfg.CacheCapacity),
		now:   time.Now,
		log:   logger.WithComponent("degrade"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update folds new failure counts into the rolling window and recomputes
// the level. Transitions are absorbed silently; they surface only through
// the features and config handed back to callers.
func (c *Controller) Update(delta Delta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.buckets = append(c.buckets, bucket{ts: now, delta: delta})
	c.prune(now)

	var counts Delta
	for _, b := range c.buckets {
		counts.APIErrors += b.delta.APIErrors
		counts.Timeouts += b.delta.Timeouts
		counts.ModelFailures += b.delta.ModelFailures
	}

	prev := c.level
	c.level = c.levelFor(counts)
	c.lastUpdated = now
	metrics.DegradationLevel.Set(levelGaugeValue(c.level))

	if c.level != prev {
		c.log.Warn("degradation level changed",
			"from", string(prev),
			"to", string(c.level),
			"api_errors", counts.APIErrors,
			"timeouts", counts.Timeouts,
			"model_failures", counts.ModelFailures,
		)
	}
}

func (c *Controller) prune(now time.Time) {
	cutoff := now.Add(-c.cfg.Window)
	kept := c.buckets[:0]
	for _, b := range c.buckets {
		if b.ts.After(cutoff) {
			kept = append(kept, b)
		}
	}
	c.buckets = kept
}

func (c *Controller) levelFor(counts Delta) Level {
	combined := counts.APIErrors + counts.Timeouts
	if combined >= c.cfg.Thresholds.OfflineCombined ||
		counts.ModelFailures >= c.cfg.Thresholds.OfflineModelFailures {
		return LevelOffline
	}
	if combined >= c.cfg.Thresholds.PartialCombined {
		return LevelPartial
	}
	return LevelFull
}

// Status returns the current level and its feature flags.
func (c *Controller) Status() (Level, Features) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level, featuresFor(c.level)
}

// Level returns the current level.
func (c *Controller) Level() Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// DegradedRequest transforms a request for the current level. Partial mode
// forces the cheap model, truncates tokens, disables streaming, and
// lowers temperature so simplified answers stay predictable. Offline mode
// returns the sentinel config telling the caller not to dispatch.
func (c *Controller) DegradedRequest(req models.CompletionRequest) models.CompletionRequest {
	c.mu.Lock()
	level := c.level
	c.mu.Unlock()

	switch level {
	case LevelPartial:
		req.Model = c.cfg.CheapModel
		if req.MaxTokens == 0 || req.MaxTokens > c.cfg.PartialMaxTokens {
			req.MaxTokens = c.cfg.PartialMaxTokens
		}
		req.Stream = false
		if req.Temperature > c.cfg.PartialTemperature {
			req.Temperature = c.cfg.PartialTemperature
		}
	case LevelOffline:
		req.Model = OfflineModel
		req.MaxTokens = 0
		req.Stream = false
		req.Tools = nil
	}
	return req
}

// Reset restores a fresh full-service state (test hook).
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buckets = nil
	c.level = LevelFull
	c.cache = newFIFOCache(c.cfg.CacheCapacity)
	metrics.DegradationLevel.Set(0)
}

func featuresFor(level Level) Features {
	switch level {
	case LevelPartial:
		return Features{Tools: true}
	case LevelOffline:
		return Features{}
	default:
		return Features{Streaming: true, ContextMemory: true, AdvancedModels: true, Tools: true}
	}
}

func levelGaugeValue(level Level) float64 {
	switch level {
	case LevelPartial:
		return 1
	case LevelOffline:
		return 2
	default:
		return 0
	}
}
