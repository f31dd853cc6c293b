package ai

import (
	"context"
	"strings"
)

// Settings configures the built-in providers.
type Settings struct {
	OpenAIBaseURL string
	OpenAIAPIKey  string
	OllamaBaseURL string
	GeminiAPIKey  string
	DefaultModel  string
}

// RegisterDefaults registers openai and ollama, and gemini when a key is
// set. The returned close func releases the gemini client.
func RegisterDefaults(ctx context.Context, reg *Registry, s Settings) (func() error, error) {
	pick := func(model string) string {
		if m := strings.TrimSpace(model); m != "" {
			return m
		}
		return s.DefaultModel
	}

	reg.Register("openai", func(_ context.Context, model string) (Provider, error) {
		return NewOpenAIProvider(s.OpenAIBaseURL, s.OpenAIAPIKey, pick(model)), nil
	})
	reg.Register("ollama", func(_ context.Context, model string) (Provider, error) {
		return NewOllamaProvider(s.OllamaBaseURL, pick(model)), nil
	})

	if strings.TrimSpace(s.GeminiAPIKey) == "" {
		return func() error { return nil }, nil
	}
	gp, err := NewGeminiProvider(ctx, s.GeminiAPIKey, "")
	if err != nil {
		return nil, err
	}
	reg.Register("gemini", func(context.Context, string) (Provider, error) { return gp, nil })
	return gp.Close, nil
}
