package provider

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"ink2md/internal/config"
)

const (
	defaultOllamaNumPredict = 2048

	// ollamaProbeTTL caches a successful model listing so per-page calls
	// do not each hit the tags endpoint.
	ollamaProbeTTL = 30 * time.Second
)

// newOllamaBackend uses the OpenAI compatible endpoint Ollama serves under /v1.
func newOllamaBackend(cfg config.ProviderConfig) *chatBackend {
	clientConfig := openai.DefaultConfig("ollama")
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/") + "/v1"

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultOllamaNumPredict
	}

	client := openai.NewClientWithConfig(clientConfig)
	b := newChatBackend(client, cfg)
	probe := &modelProbe{client: client, model: cfg.Model}
	b.probe = probe.check
	return b
}

type modelProbe struct {
	client *openai.Client
	model  string

	mu      sync.Mutex
	okUntil time.Time
}

// check reports whether the server lists the configured model.
func (p *modelProbe) check(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Now().Before(p.okUntil) {
		return true
	}

	models, err := p.client.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models.Models {
		if m.ID == p.model || strings.TrimSuffix(m.ID, ":latest") == p.model {
			p.okUntil = time.Now().Add(ollamaProbeTTL)
			return true
		}
	}
	return false
}
