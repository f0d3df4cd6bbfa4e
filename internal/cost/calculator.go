package cost

import (
	"math"
	"strings"
	"sync"

	"log/slog"

	"estiguard/internal/logger"
)

// Calculator computes request costs from token usage and model pricing.
// Unknown models fall back to a conservative default rate rather than
// failing the calculation.
type Calculator struct {
	mu           sync.RWMutex
	pricing      map[string]Rate
	fallbackRate Rate
	log          *slog.Logger
}

// CalculatorOption configures the Calculator.
type CalculatorOption func(*Calculator)

// WithFallbackRate sets the rate applied to unknown models.
func WithFallbackRate(rate Rate) CalculatorOption {
	return func(c *Calculator) {
		c.fallbackRate = rate
	}
}

// WithPricingOverrides replaces or adds pricing for specific models.
func WithPricingOverrides(pricing map[string]Rate) CalculatorOption {
	return func(c *Calculator) {
		for model, rate := range pricing {
			c.pricing[normalize(model)] = rate
		}
	}
}

// NewCalculator creates a calculator seeded with the default price table.
func NewCalculator(opts ...CalculatorOption) *Calculator {
	pricing := make(map[string]Rate, len(DefaultPricing))
	for k, v := range DefaultPricing {
		pricing[k] = v
	}

	c := &Calculator{
		pricing: pricing,
		// Conservative: bills unknown models above every known rate so a
		// pricing gap never under-counts quota usage.
		fallbackRate: Rate{Per1KPromptTokens: 0.01, Per1KCompletionTokens: 0.03},
		log:          logger.WithComponent("cost"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Calculate computes the cost of a request. It is deterministic and
// monotonically non-decreasing in both token counts.
func (c *Calculator) Calculate(model string, promptTokens, completionTokens int64) Breakdown {
	rate := c.rate(model)

	promptCost := round(float64(promptTokens)/1000.0*rate.Per1KPromptTokens, 6)
	completionCost := round(float64(completionTokens)/1000.0*rate.Per1KCompletionTokens, 6)

	return Breakdown{
		PromptCost:     promptCost,
		CompletionCost: completionCost,
		TotalCost:      round(promptCost+completionCost, 6),
		Currency:       DefaultCurrency,
	}
}

// Estimate prices a planned request at its token ceiling, for showing
// expected spend before a call is made.
func (c *Calculator) Estimate(model string, promptTokens, maxCompletionTokens int64) Breakdown {
	return c.Calculate(model, promptTokens, maxCompletionTokens)
}

// SetRate updates or adds pricing for a model.
func (c *Calculator) SetRate(model string, rate Rate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing[normalize(model)] = rate
}

// KnownModels lists models with explicit pricing.
func (c *Calculator) KnownModels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	models := make([]string, 0, len(c.pricing))
	for m := range c.pricing {
		models = append(models, m)
	}
	return models
}

func (c *Calculator) rate(model string) Rate {
	normalized := normalize(model)

	c.mu.RLock()
	rate, ok := c.pricing[normalized]
	c.mu.RUnlock()
	if ok {
		return rate
	}

	c.log.Warn("pricing not found for model, using fallback rate",
		"model", model, "normalized", normalized)
	return c.fallbackRate
}

// normalize lowercases and strips provider prefixes and trailing version
// dates so "openai/gpt-4o-2024-08-06" prices as "gpt-4o".
func normalize(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	for _, prefix := range []string{"openai/", "anthropic/", "google/", "azure/"} {
		model = strings.TrimPrefix(model, prefix)
	}
	for _, suffix := range []string{"-latest", "-preview", "-stable"} {
		model = strings.TrimSuffix(model, suffix)
	}
	if i := strings.Index(model, "-20"); i > 0 && len(model) >= i+5 {
		model = model[:i]
	}
	return model
}

func round(val float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(val*factor) / factor
}
