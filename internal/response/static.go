package response

import (
	"context"
	"strings"
)

// StaticGenerator answers every prompt with the same text. It is the
// development provider and a test double.
type StaticGenerator struct {
	Text string
}

func (g StaticGenerator) Generate(ctx context.Context, prompt Prompt, _ Constraints) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(g.Text) != "" {
		return g.Text, nil
	}
	return "Thanks for getting back to me! How can I help with your home search?", nil
}
