package response

import (
	"context"
	"errors"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of prior conversation passed to a generator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Prompt is a bounded generation request.
type Prompt struct {
	System   []string
	Messages []Message
}

// Constraints bound the generated text.
type Constraints struct {
	MaxChars    int
	MaxTokens   int32
	Temperature float32
}

// Generator produces a draft reply.
type Generator interface {
	Generate(ctx context.Context, prompt Prompt, c Constraints) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt Prompt, c Constraints) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt Prompt, c Constraints) (string, error) {
	return f(ctx, prompt, c)
}

// ErrEmptyCompletion is returned when a provider answers without text.
var ErrEmptyCompletion = errors.New("response: empty completion")
