// Package cost provides token-based cost calculation for AI completion
// calls, priced per 1K tokens from a static per-model table.
package cost

// Rate is the price per 1K tokens for a model.
type Rate struct {
	Per1KPromptTokens     float64 `json:"per_1k_prompt_tokens"`
	Per1KCompletionTokens float64 `json:"per_1k_completion_tokens"`
}

// Breakdown is the calculated cost of a single request.
type Breakdown struct {
	PromptCost     float64 `json:"prompt_cost"`
	CompletionCost float64 `json:"completion_cost"`
	TotalCost      float64 `json:"total_cost"`
	Currency       string  `json:"currency"`
}

const DefaultCurrency = "USD"

// DefaultPricing holds the published per-1K-token rates for the models the
// dispatcher routes across. Rates in USD.
var DefaultPricing = map[string]Rate{
	"gpt-4o":            {Per1KPromptTokens: 0.005, Per1KCompletionTokens: 0.015},
	"gpt-4o-mini":       {Per1KPromptTokens: 0.00015, Per1KCompletionTokens: 0.0006},
	"gpt-4-turbo":       {Per1KPromptTokens: 0.01, Per1KCompletionTokens: 0.03},
	"gpt-3.5-turbo":     {Per1KPromptTokens: 0.0005, Per1KCompletionTokens: 0.0015},
	"claude-3-5-sonnet": {Per1KPromptTokens: 0.003, Per1KCompletionTokens: 0.015},
	"claude-3-haiku":    {Per1KPromptTokens: 0.00025, Per1KCompletionTokens: 0.00125},
	"gemini-1.5-pro":    {Per1KPromptTokens: 0.0035, Per1KCompletionTokens: 0.0105},
	"gemini-1.5-flash":  {Per1KPromptTokens: 0.000075, Per1KCompletionTokens: 0.0003},
}
