package degrade

import (
	"strings"
	"unicode"

	"estiguard/internal/metrics"
)

// CacheResponse stores a successful answer under the normalized query,
// evicting the oldest entry once the cache is at capacity.
func (c *Controller) CacheResponse(query, response, model string) {
	key := normalizeQuery(query)
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.put(key, CachedResponse{
		Response: response,
		Model:    model,
		CachedAt: c.now(),
	})
}

// FallbackResponse answers a query without a live model call: a cached
// answer when one matches the normalized query, otherwise canned guidance
// keyed off domain keywords. Cached answers are tagged so callers can
// tell them apart from canned ones.
func (c *Controller) FallbackResponse(query string) string {
	key := normalizeQuery(query)

	c.mu.Lock()
	cached, ok := c.cache.get(key)
	c.mu.Unlock()

	if ok {
		metrics.FallbackCacheHitsTotal.WithLabelValues("cache").Inc()
		return "[cached] " + cached.Response
	}

	metrics.FallbackCacheHitsTotal.WithLabelValues("canned").Inc()
	return cannedResponse(key)
}

// CacheStats returns the fallback cache statistics.
func (c *Controller) CacheStats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.stats()
}

// normalizeQuery case-folds, strips punctuation, and collapses whitespace
// runs so trivially different phrasings share one cache key.
func normalizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	lastSpace := true
	for _, r := range strings.ToLower(query) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
		// Punctuation and symbols are dropped.
	}
	return strings.TrimSpace(b.String())
}

// cannedResponse pattern-matches the normalized query against domain
// keyword buckets for the estimating product.
func cannedResponse(normalized string) string {
	switch {
	case containsAny(normalized, "calculator", "calculate", "estimate", "quote", "takeoff"):
		return "The AI assistant is temporarily limited. You can still build estimates " +
			"manually: open the estimate calculator, pick a service template, and enter " +
			"your measurements. Saved pricing tables are applied automatically."
	case containsAny(normalized, "price", "pricing", "cost", "rate", "margin"):
		return "The AI assistant is temporarily limited. Your configured pricing tables " +
			"and margin settings remain available under Settings > Pricing and are used " +
			"for all manual estimates."
	case containsAny(normalized, "schedule", "booking", "appointment", "calendar", "job"):
		return "The AI assistant is temporarily limited. Scheduling still works: open the " +
			"job calendar to create or move appointments."
	case containsAny(normalized, "photo", "image", "pdf", "document", "plan"):
		return "Photo and document analysis is temporarily unavailable. Please try again " +
			"shortly, or enter measurements manually in the meantime."
	default:
		return "The service is operating in reduced mode due to high load. Core estimating " +
			"features remain available; AI-assisted answers will return shortly."
	}
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
