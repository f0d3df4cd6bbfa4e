package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(cfg Config) (*Tracker, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(cfg, WithClock(func() time.Time { return now }))
	return tr, &now
}

func TestTracker_OpensAtThreshold(t *testing.T) {
	tr, _ := newTestTracker(Config{FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		tr.RecordFailure("gpt-4o")
		assert.True(t, tr.Eligible("gpt-4o"), "model below threshold stays eligible")
	}

	tr.RecordFailure("gpt-4o")
	assert.False(t, tr.Eligible("gpt-4o"), "model at threshold is blocked")

	status := tr.Status()
	require.Contains(t, status, "gpt-4o")
	assert.Equal(t, 3, status["gpt-4o"].FailureCount)
	assert.True(t, status["gpt-4o"].CircuitOpen)
	require.NotNil(t, status["gpt-4o"].CircuitOpenUntil)
}

func TestTracker_TrialAfterCooldown(t *testing.T) {
	tr, now := newTestTracker(Config{FailureThreshold: 1, Cooldown: time.Minute})

	tr.RecordFailure("claude-3-5-sonnet")
	require.False(t, tr.Eligible("claude-3-5-sonnet"))

	*now = now.Add(30 * time.Second)
	assert.False(t, tr.Eligible("claude-3-5-sonnet"), "still within cooldown")

	*now = now.Add(31 * time.Second)
	assert.True(t, tr.Eligible("claude-3-5-sonnet"), "cooldown elapsed, trial allowed")

	// A failed trial re-opens the circuit with a fresh cooldown.
	tr.RecordFailure("claude-3-5-sonnet")
	assert.False(t, tr.Eligible("claude-3-5-sonnet"))
}

func TestTracker_SuccessResets(t *testing.T) {
	tr, now := newTestTracker(Config{FailureThreshold: 2, Cooldown: time.Minute})

	tr.RecordFailure("gpt-4o")
	tr.RecordFailure("gpt-4o")
	require.False(t, tr.Eligible("gpt-4o"))

	*now = now.Add(2 * time.Minute)
	require.True(t, tr.Eligible("gpt-4o"))
	tr.RecordSuccess("gpt-4o")

	status := tr.Status()
	assert.Equal(t, 0, status["gpt-4o"].FailureCount)
	assert.False(t, status["gpt-4o"].CircuitOpen)

	// One more failure starts counting from zero again.
	tr.RecordFailure("gpt-4o")
	assert.True(t, tr.Eligible("gpt-4o"))
}

func TestTracker_ModelsIndependent(t *testing.T) {
	tr, _ := newTestTracker(Config{FailureThreshold: 1, Cooldown: time.Minute})

	tr.RecordFailure("gpt-4o")
	assert.False(t, tr.Eligible("gpt-4o"))
	assert.True(t, tr.Eligible("gpt-4o-mini"), "untouched model keeps a closed circuit")
}

func TestTracker_ConfigDefaults(t *testing.T) {
	tr := NewTracker(Config{})
	assert.Equal(t, DefaultConfig().FailureThreshold, tr.config.FailureThreshold)
	assert.Equal(t, DefaultConfig().Cooldown, tr.config.Cooldown)
}

func TestTracker_Reset(t *testing.T) {
	tr, _ := newTestTracker(Config{FailureThreshold: 1, Cooldown: time.Minute})

	tr.RecordFailure("gpt-4o")
	require.False(t, tr.Eligible("gpt-4o"))

	tr.Reset()
	assert.True(t, tr.Eligible("gpt-4o"))
	assert.Empty(t, tr.Status())
}
