// Package llm abstracts the external model providers behind a single
// stateless chat interface. Every call receives the full reconstructed
// context; no provider keeps conversation state between calls.
package llm

import (
	"context"
	"time"

	"chesscoach/internal/types"
)

// Client is the provider-neutral model interface. Generate sends the ordered
// turn sequence and returns the raw reply text. Failures come back wrapped as
// upstream errors so callers can map them without provider knowledge.
type Client interface {
	Generate(ctx context.Context, turns []types.Turn) (string, error)
	Model() string
}

// Config carries the provider-independent client settings.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}
