package llm

import (
	"context"
	"strings"
)

// OllamaProvider talks to Ollama's OpenAI-compatible endpoint.
type OllamaProvider struct {
	openai *OpenAIProvider
}

func NewOllamaProvider(cfg Config) *OllamaProvider {
	if strings.TrimSpace(cfg.APIURL) == "" {
		cfg.APIURL = "http://localhost:11434/v1"
	}
	p := NewOpenAIProvider(cfg)
	p.name = "ollama"
	p.http = newHTTPClient("ollama")
	return &OllamaProvider{openai: p}
}

func (p *OllamaProvider) Complete(ctx context.Context, messages []Message, tools []Tool) (Stream, error) {
	return p.openai.Complete(ctx, messages, tools)
}
