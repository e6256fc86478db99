package provider

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"ink2md/internal/config"
)

// Provider types understood by New.
const (
	TypeAnthropic    = "anthropic"
	TypeOpenAI       = "openai"
	TypeOllama       = "ollama"
	TypeVertex       = "vertex"
	TypeGoogleVision = "google_vision"
	TypeDocumentAI   = "document_ai"
	TypeMock         = "mock"
)

// New validates cfg for its type and builds the provider. Validation
// failures wrap ErrInvalidConfiguration.
func New(ctx context.Context, id string, cfg config.ProviderConfig) (Provider, error) {
	const op = "New"

	if strings.TrimSpace(id) == "" {
		return nil, NewProviderError(op, id, ErrInvalidConfiguration, "provider id is required")
	}

	caps, err := ParseCapabilities(cfg.Capabilities)
	if err != nil {
		return nil, NewProviderError(op, id, ErrInvalidConfiguration, err.Error())
	}
	if caps.Empty() {
		return nil, NewProviderError(op, id, ErrInvalidConfiguration, "at least one capability is required")
	}

	desc := Descriptor{
		ID:           id,
		DisplayName:  cfg.Name,
		Type:         strings.ToLower(cfg.Type),
		Capabilities: caps,
		Enabled:      cfg.IsEnabled(),
		Endpoint:     cfg.BaseURL,
		Model:        cfg.Model,
		HasAPIKey:    cfg.APIKey != "",
	}
	if desc.DisplayName == "" {
		desc.DisplayName = id
	}

	if err := validate(desc.Type, cfg); err != nil {
		return nil, NewProviderError(op, id, ErrInvalidConfiguration, err.Error())
	}

	var b backend
	switch desc.Type {
	case TypeAnthropic:
		desc.Timeout = timeoutOr(cfg, DefaultHostedTimeout)
		b = newAnthropicBackend(cfg)
	case TypeOpenAI:
		desc.Timeout = timeoutOr(cfg, DefaultHostedTimeout)
		b = newOpenAIBackend(cfg)
	case TypeOllama:
		desc.Timeout = timeoutOr(cfg, DefaultLocalTimeout)
		b = newOllamaBackend(cfg)
	case TypeVertex:
		desc.Timeout = timeoutOr(cfg, DefaultHostedTimeout)
		b, err = newVertexBackend(ctx, cfg)
	case TypeGoogleVision:
		desc.Timeout = timeoutOr(cfg, DefaultHostedTimeout)
		b, err = newVisionBackend(ctx, cfg)
	case TypeDocumentAI:
		desc.Timeout = timeoutOr(cfg, DefaultHostedTimeout)
		b, err = newDocumentAIBackend(ctx, cfg)
	case TypeMock:
		desc.Timeout = timeoutOr(cfg, DefaultHostedTimeout)
		b = NewMockBackend()
	default:
		return nil, NewProviderError(op, id, ErrUnknownType, cfg.Type)
	}
	if err != nil {
		return nil, WrapProviderError(op, id, err, "failed to create client")
	}

	if !caps.Subset(b.supports()) {
		return nil, NewProviderError(op, id, ErrInvalidConfiguration,
			fmt.Sprintf("type %s cannot serve %s", desc.Type, caps))
	}

	return newProvider(desc, b, cfg.RequestsPerMinute), nil
}

// NewWithBackend builds a provider around an already constructed backend.
// The mock backend is the only exported one.
func NewWithBackend(desc Descriptor, b *MockBackend) (Provider, error) {
	if desc.Capabilities.Empty() {
		return nil, NewProviderError("NewWithBackend", desc.ID, ErrInvalidConfiguration, "at least one capability is required")
	}
	if desc.Timeout <= 0 {
		desc.Timeout = DefaultHostedTimeout
	}
	if desc.Type == "" {
		desc.Type = TypeMock
	}
	return newProvider(desc, b, 0), nil
}

func validate(kind string, cfg config.ProviderConfig) error {
	switch kind {
	case TypeAnthropic:
		if cfg.APIKey == "" {
			return fmt.Errorf("api_key is required")
		}
		if cfg.Model == "" {
			return fmt.Errorf("model is required")
		}
		if cfg.MaxTokens < 0 || cfg.MaxTokens > 8192 {
			return fmt.Errorf("max_tokens must be between 1 and 8192")
		}
	case TypeOpenAI:
		if cfg.APIKey == "" {
			return fmt.Errorf("api_key is required")
		}
		if cfg.Model == "" {
			return fmt.Errorf("model is required")
		}
	case TypeOllama:
		if cfg.BaseURL == "" {
			return fmt.Errorf("base_url is required")
		}
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("base_url must be an http(s) URL")
		}
		if cfg.Model == "" {
			return fmt.Errorf("model is required")
		}
	case TypeVertex:
		if cfg.Project == "" || cfg.Location == "" {
			return fmt.Errorf("project and location are required")
		}
		if cfg.Model == "" {
			return fmt.Errorf("model is required")
		}
	case TypeDocumentAI:
		if cfg.Project == "" || cfg.ProcessorID == "" {
			return fmt.Errorf("project and processor_id are required")
		}
	}
	if cfg.TimeoutSeconds < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

func timeoutOr(cfg config.ProviderConfig, def time.Duration) time.Duration {
	if cfg.TimeoutSeconds > 0 {
		return time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return def
}
