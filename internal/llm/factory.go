package llm

import (
	"fmt"
	"strings"

	"chesscoach/internal/config"
)

// NewClient builds a Client from configuration. Unknown providers are a
// startup error, not a runtime fallback.
func NewClient(cfg *config.Config) (Client, error) {
	clientCfg := Config{
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.GetLLMTimeout(),
	}

	switch strings.ToLower(cfg.LLM.Provider) {
	case "openai", "":
		return NewOpenAIClient(clientCfg), nil
	case "gemini":
		return NewGeminiClient(clientCfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
