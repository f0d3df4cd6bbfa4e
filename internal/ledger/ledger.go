// Package ledger keeps the append-only record of every attempted AI call
// and the quota and usage views derived from it. Tracking never fails the
// caller: persistence problems are reported out-of-band.
package ledger

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"estiguard/internal/logger"
	"estiguard/internal/metrics"
)

// Record is one attempted call, written once and never mutated.
type Record struct {
	UserID           string    `json:"user_id"`
	Timestamp        time.Time `json:"timestamp"`
	Endpoint         string    `json:"endpoint"`
	Model            string    `json:"model"`
	PromptTokens     int64     `json:"prompt_tokens"`
	CompletionTokens int64     `json:"completion_tokens"`
	TokensUsed       int64     `json:"tokens_used"`
	Cost             float64   `json:"cost"`
	Success          bool      `json:"success"`
	ErrorMessage     string    `json:"error_message,omitempty"`
}

// TrackResult distinguishes "call succeeded, tracking failed" from call
// failure; the call outcome itself is never affected by it.
type TrackResult struct {
	Persisted bool
	Published bool
	Err       error
}

// Granularity selects which quota window a reset applies to.
type Granularity string

const (
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// QuotaLimits are the per-user token budgets.
type QuotaLimits struct {
	DailyTokens   int64
	MonthlyTokens int64
}

// QuotaState is the derived quota view for one user.
type QuotaState struct {
	DailyUsed        int64 `json:"daily_used"`
	DailyLimit       int64 `json:"daily_limit"`
	DailyRemaining   int64 `json:"daily_remaining"`
	MonthlyUsed      int64 `json:"monthly_used"`
	MonthlyLimit     int64 `json:"monthly_limit"`
	MonthlyRemaining int64 `json:"monthly_remaining"`
}

// ModelStats aggregates usage for one model.
type ModelStats struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// DayBucket aggregates usage for one calendar day.
type DayBucket struct {
	Requests int64   `json:"requests"`
	Tokens   int64   `json:"tokens"`
	Cost     float64 `json:"cost"`
}

// Summary is the derived usage view for one user, recomputed on read.
type Summary struct {
	TotalRequests int64                 `json:"total_requests"`
	SuccessCount  int64                 `json:"success_count"`
	TotalTokens   int64                 `json:"total_tokens"`
	TotalCost     float64               `json:"total_cost"`
	ByEndpoint    map[string]int64      `json:"by_endpoint"`
	ByModel       map[string]ModelStats `json:"by_model"`
	ByDay         map[string]DayBucket  `json:"by_day"`
}

// Publisher streams records to an external sink (e.g. Kafka). Publish
// failures are swallowed like persistence failures.
type Publisher interface {
	Publish(ctx context.Context, r Record) error
}

// Ledger is the in-process usage ledger. In-memory records are the
// authority for same-process reads; the optional Store is write-behind
// shared persistence, the optional Publisher an analytics stream.
type Ledger struct {
	mu      sync.Mutex
	records []Record
	anchors map[string]map[Granularity]time.Time
	limits  QuotaLimits
	store   Store
	pub     Publisher
	now     func() time.Time
	log     *slog.Logger
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithStore attaches shared persistence.
func WithStore(store Store) Option {
	return func(l *Ledger) {
		l.store = store
	}
}

// WithPublisher attaches an analytics event stream.
func WithPublisher(pub Publisher) Option {
	return func(l *Ledger) {
		l.pub = pub
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

func New(limits QuotaLimits, opts ...Option) *Ledger {
	l := &Ledger{
		anchors: make(map[string]map[Granularity]time.Time),
		limits:  limits,
		now:     time.Now,
		log:     logger.WithComponent("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WarmStart loads this month's records from the attached store so quota
// views survive a process restart. No-op without a store.
func (l *Ledger) WarmStart(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	records, err := l.store.Since(ctx, "", monthStart(l.now()))
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(records, l.records...)
	l.log.Info("ledger warm-started", "records", len(records))
	return nil
}

// Track appends the record and fans it out to persistence and the event
// stream. It never returns a functional error: failures land in the
// TrackResult and a warning log, so a successful AI call is never
// reported as failed because analytics hiccuped.
func (l *Ledger) Track(ctx context.Context, r Record) TrackResult {
	if r.Timestamp.IsZero() {
		r.Timestamp = l.now()
	}
	if r.TokensUsed == 0 {
		r.TokensUsed = r.PromptTokens + r.CompletionTokens
	}

	l.mu.Lock()
	l.records = append(l.records, r)
	l.mu.Unlock()

	metrics.CompletionTokens.WithLabelValues(r.Model).Observe(float64(r.TokensUsed))

	result := TrackResult{Persisted: l.store == nil, Published: l.pub == nil}
	if l.store != nil {
		if err := l.store.Insert(ctx, r); err != nil {
			result.Err = err
			l.log.Warn("usage record persist failed", "user", r.UserID, "error", err)
		} else {
			result.Persisted = true
		}
	}
	if l.pub != nil {
		if err := l.pub.Publish(ctx, r); err != nil {
			if result.Err == nil {
				result.Err = err
			}
			l.log.Warn("usage event publish failed", "user", r.UserID, "error", err)
		} else {
			result.Published = true
		}
	}
	return result
}

// Quota returns the derived quota state for a user, consistent with all
// prior Track calls from this process.
func (l *Ledger) Quota(userID string) QuotaState {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dailySince := l.windowStart(userID, GranularityDaily, dayStart(now))
	monthlySince := l.windowStart(userID, GranularityMonthly, monthStart(now))

	var daily, monthly int64
	for _, r := range l.records {
		if r.UserID != userID {
			continue
		}
		if !r.Timestamp.Before(dailySince) {
			daily += r.TokensUsed
		}
		if !r.Timestamp.Before(monthlySince) {
			monthly += r.TokensUsed
		}
	}

	return QuotaState{
		DailyUsed:        daily,
		DailyLimit:       l.limits.DailyTokens,
		DailyRemaining:   remaining(l.limits.DailyTokens, daily),
		MonthlyUsed:      monthly,
		MonthlyLimit:     l.limits.MonthlyTokens,
		MonthlyRemaining: remaining(l.limits.MonthlyTokens, monthly),
	}
}

// ResetQuota moves the user's counting anchor for one granularity so only
// records after the reset count against that window.
func (l *Ledger) ResetQuota(userID string, g Granularity) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.anchors[userID] == nil {
		l.anchors[userID] = make(map[Granularity]time.Time)
	}
	l.anchors[userID][g] = l.now()
	l.log.Info("quota reset", "user", userID, "granularity", string(g))
}

// Usage recomputes the aggregate usage view for a user from the stored
// records.
func (l *Ledger) Usage(userID string) Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{
		ByEndpoint: make(map[string]int64),
		ByModel:    make(map[string]ModelStats),
		ByDay:      make(map[string]DayBucket),
	}
	for _, r := range l.records {
		if r.UserID != userID {
			continue
		}
		s.TotalRequests++
		if r.Success {
			s.SuccessCount++
		}
		s.TotalTokens += r.TokensUsed
		s.TotalCost += r.Cost
		s.ByEndpoint[r.Endpoint]++

		ms := s.ByModel[r.Model]
		ms.Requests++
		ms.Tokens += r.TokensUsed
		ms.Cost += r.Cost
		s.ByModel[r.Model] = ms

		day := r.Timestamp.Format("2006-01-02")
		db := s.ByDay[day]
		db.Requests++
		db.Tokens += r.TokensUsed
		db.Cost += r.Cost
		s.ByDay[day] = db
	}
	return s
}

func (l *Ledger) windowStart(userID string, g Granularity, natural time.Time) time.Time {
	if anchors, ok := l.anchors[userID]; ok {
		if anchor, ok := anchors[g]; ok && anchor.After(natural) {
			return anchor
		}
	}
	return natural
}

func remaining(limit, used int64) int64 {
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}
