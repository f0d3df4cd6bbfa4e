package cost

import (
	"math"
	"testing"
)

func TestCalculator_Calculate(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name             string
		model            string
		promptTokens     int64
		completionTokens int64
		wantPromptCost   float64
		wantOutputCost   float64
		wantTotalCost    float64
	}{
		{
			name:             "gpt-4o-mini simple request",
			model:            "gpt-4o-mini",
			promptTokens:     1000,
			completionTokens: 500,
			wantPromptCost:   0.00015,
			wantOutputCost:   0.0003,
			wantTotalCost:    0.00045,
		},
		{
			name:             "gpt-4o standard request",
			model:            "gpt-4o",
			promptTokens:     1000,
			completionTokens: 1000,
			wantPromptCost:   0.005,
			wantOutputCost:   0.015,
			wantTotalCost:    0.02,
		},
		{
			name:             "claude 3.5 sonnet",
			model:            "claude-3-5-sonnet",
			promptTokens:     10000,
			completionTokens: 5000,
			wantPromptCost:   0.03,
			wantOutputCost:   0.075,
			wantTotalCost:    0.105,
		},
		{
			name:             "provider prefix and date suffix normalized",
			model:            "openai/gpt-4o-2024-08-06",
			promptTokens:     1000,
			completionTokens: 1000,
			wantPromptCost:   0.005,
			wantOutputCost:   0.015,
			wantTotalCost:    0.02,
		},
		{
			name:             "zero tokens",
			model:            "gpt-4o",
			promptTokens:     0,
			completionTokens: 0,
			wantPromptCost:   0,
			wantOutputCost:   0,
			wantTotalCost:    0,
		},
		{
			name:             "unknown model uses fallback",
			model:            "mystery-model-v9",
			promptTokens:     1000,
			completionTokens: 500,
			wantPromptCost:   0.01,
			wantOutputCost:   0.015,
			wantTotalCost:    0.025,
		},
		{
			name:             "empty model uses fallback",
			model:            "",
			promptTokens:     1000,
			completionTokens: 500,
			wantPromptCost:   0.01,
			wantOutputCost:   0.015,
			wantTotalCost:    0.025,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Calculate(tt.model, tt.promptTokens, tt.completionTokens)

			const epsilon = 0.0000001
			if math.Abs(got.PromptCost-tt.wantPromptCost) > epsilon {
				t.Errorf("PromptCost = %.8f, want %.8f", got.PromptCost, tt.wantPromptCost)
			}
			if math.Abs(got.CompletionCost-tt.wantOutputCost) > epsilon {
				t.Errorf("CompletionCost = %.8f, want %.8f", got.CompletionCost, tt.wantOutputCost)
			}
			if math.Abs(got.TotalCost-tt.wantTotalCost) > epsilon {
				t.Errorf("TotalCost = %.8f, want %.8f", got.TotalCost, tt.wantTotalCost)
			}
			if got.Currency != "USD" {
				t.Errorf("Currency = %s, want USD", got.Currency)
			}
		})
	}
}

func TestCalculator_Monotonic(t *testing.T) {
	calc := NewCalculator()

	prev := 0.0
	for tokens := int64(0); tokens <= 100000; tokens += 1000 {
		got := calc.Calculate("gpt-4o", tokens, tokens/2)
		if got.TotalCost < prev {
			t.Fatalf("cost decreased at %d tokens: %.8f < %.8f", tokens, got.TotalCost, prev)
		}
		prev = got.TotalCost
	}
}

func TestCalculator_Deterministic(t *testing.T) {
	calc := NewCalculator()

	a := calc.Calculate("claude-3-haiku", 1234, 567)
	b := calc.Calculate("claude-3-haiku", 1234, 567)
	if a != b {
		t.Errorf("same inputs gave different costs: %+v vs %+v", a, b)
	}
}

func TestCalculator_Overrides(t *testing.T) {
	calc := NewCalculator(WithPricingOverrides(map[string]Rate{
		"house-model":             {Per1KPromptTokens: 0.002, Per1KCompletionTokens: 0.004},
		"openai/gpt-x-2025-01-01": {Per1KPromptTokens: 0.001, Per1KCompletionTokens: 0.002},
	}))

	got := calc.Calculate("house-model", 1000, 1000)
	if got.TotalCost != 0.006 {
		t.Errorf("TotalCost = %.6f, want 0.006", got.TotalCost)
	}

	// Override keys pass through the same normalization as lookups, so a
	// prefixed or dated key still matches the bare model name.
	got = calc.Calculate("gpt-x", 1000, 1000)
	if got.TotalCost != 0.003 {
		t.Errorf("TotalCost for normalized override = %.6f, want 0.003", got.TotalCost)
	}
}

func TestCalculator_SetRate(t *testing.T) {
	calc := NewCalculator()

	before := calc.Calculate("gpt-4o", 1000, 0)
	calc.SetRate("gpt-4o", Rate{Per1KPromptTokens: 0.001, Per1KCompletionTokens: 0.002})
	after := calc.Calculate("gpt-4o", 1000, 0)

	if before.PromptCost == after.PromptCost {
		t.Error("SetRate did not change the applied rate")
	}
	if after.PromptCost != 0.001 {
		t.Errorf("PromptCost = %.6f, want 0.001", after.PromptCost)
	}
}
