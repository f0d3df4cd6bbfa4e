// Package models defines the shared request and response types that flow
// through the resilience pipeline.
package models

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a logical completion request before any model has
// been selected. The resolved model is chosen by the dispatcher.
type CompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
	Tools       []string  `json:"tools,omitempty"`
	User        string    `json:"user,omitempty"`
}

// Prompt returns the content of the last user message, or empty.
func (r CompletionRequest) Prompt() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == "user" {
			return r.Messages[i].Content
		}
	}
	return ""
}

type Usage struct {
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CostTotal        float64 `json:"cost_total"`
}

// CompletionResponse is the result of a completion call. Cached and Canned
// mark answers served by the degradation controller instead of a live model.
type CompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
	Cached  bool   `json:"cached,omitempty"`
	Canned  bool   `json:"canned,omitempty"`
}
