package ai

import (
	"context"
	"fmt"

	"github.com/kozaktomas/album-curator/internal/config"
	"github.com/kozaktomas/album-curator/internal/styles"
)

// Usage tracks token usage across naming calls.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// NameResult is the JSON object every backend is asked to return.
type NameResult struct {
	Name string `json:"name"`
}

// Namer is a styles.Namer that reports what it spent.
type Namer interface {
	styles.Namer
	Name() string
	GetUsage() *Usage
}

// NewNamer builds the backend selected by cfg.Namer. An empty selection
// returns a nil Namer and no error.
func NewNamer(ctx context.Context, cfg *config.LLMConfig) (Namer, error) {
	switch cfg.Namer {
	case "":
		return nil, nil
	case "openai":
		if cfg.OpenAIToken == "" {
			return nil, fmt.Errorf("OPENAI_TOKEN is required for the openai namer")
		}
		return NewOpenAINamer(cfg.OpenAIToken, cfg.OpenAIModel), nil
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini namer")
		}
		n, err := NewGeminiNamer(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return n, nil
	case "ollama":
		return NewOllamaNamer(cfg.OllamaURL, cfg.OllamaModel), nil
	default:
		return nil, fmt.Errorf("unknown cluster namer %q (use openai, gemini or ollama)", cfg.Namer)
	}
}
