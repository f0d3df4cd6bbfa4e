// Package provider supplies completion operations for the dispatcher.
// The real provider transport is injected by the embedding application;
// the mock serves the demo binary and tests.
package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"estiguard/internal/models"
)

// Mock is a completion operation that echoes the prompt back. Usable as a
// dispatch.Operation.
type Mock struct{}

func NewMock() *Mock {
	return &Mock{}
}

// Complete echoes the last user message with synthetic usage numbers.
func (m *Mock) Complete(_ context.Context, model string, req models.CompletionRequest) (*models.CompletionResponse, error) {
	content := "No prompt"
	if p := req.Prompt(); p != "" {
		content = "Echo: " + p
	}
	prompt := int64(len(req.Messages) * 12)
	completion := int64(len(content) / 4)
	return &models.CompletionResponse{
		ID:      "cmpl_" + randID(),
		Model:   model,
		Content: content,
		Usage: models.Usage{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		},
	}, nil
}

func randID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}
