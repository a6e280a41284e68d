package response

import (
	"context"

	"github.com/wolfman30/lead-reengage/pkg/logging"
)

// FallbackGenerator wraps a primary generator with a secondary provider.
// If the primary fails and time remains, the secondary is tried.
type FallbackGenerator struct {
	primary   Generator
	secondary Generator
	logger    *logging.Logger
}

// NewFallbackGenerator creates a fallback-enabled generator. A nil secondary
// makes it a passthrough.
func NewFallbackGenerator(primary, secondary Generator, logger *logging.Logger) *FallbackGenerator {
	if primary == nil {
		panic("response: primary generator required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackGenerator{primary: primary, secondary: secondary, logger: logger}
}

func (g *FallbackGenerator) Generate(ctx context.Context, prompt Prompt, c Constraints) (string, error) {
	text, err := g.primary.Generate(ctx, prompt, c)
	if err == nil {
		return text, nil
	}

	g.logger.Warn("primary generator failed, attempting fallback",
		"error", err.Error(),
		"fallback_available", g.secondary != nil,
	)
	if g.secondary == nil || ctx.Err() != nil {
		return "", err
	}

	text, fallbackErr := g.secondary.Generate(ctx, prompt, c)
	if fallbackErr != nil {
		g.logger.Error("fallback generator also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return "", fallbackErr
	}
	g.logger.Info("fallback generator succeeded after primary failure")
	return text, nil
}
