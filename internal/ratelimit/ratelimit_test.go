package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, opts ...Option) (*Limiter, *time.Time) {
	t.Helper()

	store := NewMemoryStore()
	t.Cleanup(store.Stop)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opts = append(opts, WithClock(func() time.Time { return now }))
	return NewLimiter(store, opts...), &now
}

func TestLimiter_EnforcesClassLimit(t *testing.T) {
	lim, _ := newTestLimiter(t, WithClasses(map[string]ClassLimit{
		"vision": {Limit: 5, Window: time.Minute},
	}))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := lim.Check(ctx, "vision", "user-1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d within limit should be admitted", i)
		assert.Equal(t, 5-i-1, d.Remaining)
	}

	d, err := lim.Check(ctx, "vision", "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "request over limit should be rejected")
	assert.Equal(t, 0, d.Remaining)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestLimiter_WindowSlides(t *testing.T) {
	lim, now := newTestLimiter(t, WithClasses(map[string]ClassLimit{
		"chat": {Limit: 2, Window: time.Minute},
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := lim.Check(ctx, "chat", "user-1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// The oldest entry leaves the window, so one slot opens up.
	*now = now.Add(61 * time.Second)
	d, err = lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "request after window slides should be admitted")
}

func TestLimiter_RetryAfterDecreases(t *testing.T) {
	lim, now := newTestLimiter(t, WithClasses(map[string]ClassLimit{
		"chat": {Limit: 2, Window: time.Minute},
	}))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := lim.Check(ctx, "chat", "user-1")
		require.NoError(t, err)
	}

	d1, err := lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	require.False(t, d1.Allowed)

	*now = now.Add(10 * time.Second)
	d2, err := lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	require.False(t, d2.Allowed)

	assert.Less(t, d2.RetryAfter, d1.RetryAfter, "retry hint should shrink as the window advances")
	assert.Greater(t, d2.RetryAfter, time.Duration(0))
}

func TestLimiter_IdentitiesAreIndependent(t *testing.T) {
	lim, _ := newTestLimiter(t, WithClasses(map[string]ClassLimit{
		"chat": {Limit: 1, Window: time.Minute},
	}))
	ctx := context.Background()

	d, err := lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	require.True(t, d.Allowed)

	d, err = lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = lim.Check(ctx, "chat", "user-2")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "another identity keeps its own window")

	d, err = lim.Check(ctx, "chat", "user-1", "org-7")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "secondary identity scopes a separate key")
}

func TestLimiter_UnknownClassUsesFallback(t *testing.T) {
	lim, _ := newTestLimiter(t, WithFallbackLimit(ClassLimit{Limit: 1, Window: time.Minute}))
	ctx := context.Background()

	d, err := lim.Check(ctx, "no-such-class", "user-1")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, 1, d.Limit)

	d, err = lim.Check(ctx, "no-such-class", "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestLimiter_Reset(t *testing.T) {
	lim, _ := newTestLimiter(t, WithClasses(map[string]ClassLimit{
		"chat": {Limit: 1, Window: time.Minute},
	}))
	ctx := context.Background()

	_, err := lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	d, err := lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.NoError(t, lim.Reset(ctx, "chat", "user-1"))

	d, err = lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "reset should clear the window")
}

func TestDecision_Headers(t *testing.T) {
	reset := time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC)

	tests := []struct {
		name           string
		decision       Decision
		wantRetryAfter string
	}{
		{
			name: "allowed has no retry-after",
			decision: Decision{
				Allowed:   true,
				Limit:     30,
				Remaining: 12,
				Reset:     reset,
			},
		},
		{
			name: "rejected carries retry-after",
			decision: Decision{
				Allowed:    false,
				Limit:      30,
				Remaining:  0,
				Reset:      reset,
				RetryAfter: 42 * time.Second,
			},
			wantRetryAfter: "42",
		},
		{
			name: "sub-second retry-after rounds up to one",
			decision: Decision{
				Allowed:    false,
				Limit:      5,
				Reset:      reset,
				RetryAfter: 200 * time.Millisecond,
			},
			wantRetryAfter: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.decision.Headers()
			assert.Equal(t, strconv.Itoa(tt.decision.Limit), h["X-RateLimit-Limit"])
			assert.Equal(t, strconv.FormatInt(reset.Unix(), 10), h["X-RateLimit-Reset"])

			if tt.wantRetryAfter == "" {
				_, ok := h["Retry-After"]
				assert.False(t, ok)
			} else {
				assert.Equal(t, tt.wantRetryAfter, h["Retry-After"])
			}
		})
	}
}

// admitStore is a Store that also supports the one-step Admit path.
type admitStore struct {
	admits  int
	appends int
	result  AdmitResult
}

func (s *admitStore) Admit(_ context.Context, _ string, _, _ time.Time, _ int, _ time.Duration) (AdmitResult, error) {
	s.admits++
	return s.result, nil
}

func (s *admitStore) Append(_ context.Context, _ string, _ time.Time) error {
	s.appends++
	return nil
}

func (s *admitStore) RangeSince(_ context.Context, _ string, _ time.Time) ([]time.Time, error) {
	return nil, nil
}

func (s *admitStore) Expire(_ context.Context, _ string, _ time.Duration) error { return nil }
func (s *admitStore) Delete(_ context.Context, _ string) error                  { return nil }

func TestLimiter_PrefersAtomicAdmit(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := &admitStore{result: AdmitResult{Admitted: true, Count: 1}}
	lim := NewLimiter(store, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	d, err := lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 29, d.Remaining, "remaining derives from the admit count")
	assert.Equal(t, 1, store.admits)
	assert.Zero(t, store.appends, "no separate append roundtrip when the store admits atomically")

	oldest := now.Add(-30 * time.Second)
	store.result = AdmitResult{Admitted: false, Count: 30, Oldest: oldest}
	d, err = lim.Check(ctx, "chat", "user-1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30*time.Second, d.RetryAfter)
	assert.Equal(t, oldest.Add(time.Minute), d.Reset)
	assert.Zero(t, store.appends)
}

func TestMemoryStore_PrunesOnRead(t *testing.T) {
	store := NewMemoryStore()
	defer store.Stop()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, store.Append(ctx, "chat:u", base.Add(time.Duration(i)*10*time.Second)))
	}

	entries, err := store.RangeSince(ctx, "chat:u", base.Add(15*time.Second))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "entries before the cutoff should be pruned")

	entries, err = store.RangeSince(ctx, "chat:u", base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
