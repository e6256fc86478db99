package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"ink2md/internal/logger"
)

const (
	// DefaultLocalTimeout bounds calls to self-hosted models.
	DefaultLocalTimeout = 120 * time.Second

	// DefaultHostedTimeout bounds calls to hosted APIs.
	DefaultHostedTimeout = 60 * time.Second

	// AvailabilityTimeout bounds a single connectivity check.
	AvailabilityTimeout = 5 * time.Second
)

// Descriptor describes a registered provider. It never carries secrets.
type Descriptor struct {
	ID           string        `json:"provider_id"`
	DisplayName  string        `json:"display_name"`
	Type         string        `json:"type"`
	Capabilities CapabilitySet `json:"capabilities"`
	Enabled      bool          `json:"enabled"`
	Endpoint     string        `json:"endpoint,omitempty"`
	Model        string        `json:"model,omitempty"`
	Timeout      time.Duration `json:"timeout"`
	HasAPIKey    bool          `json:"has_api_key"`
}

// Provider is a configured AI backend. Every operation first checks that the
// capability is advertised and that the provider is available.
type Provider interface {
	Descriptor() Descriptor

	// IsAvailable reports whether the provider is enabled and reachable.
	IsAvailable(ctx context.Context) bool

	// HTRText transcribes handwriting and print from a page image.
	HTRText(ctx context.Context, image []byte, prompt string) (string, error)

	// FormatMarkdown rewrites extracted text as clean markdown.
	FormatMarkdown(ctx context.Context, text, prompt string) (string, error)

	// ProcessWithVLM turns a page image directly into markdown.
	ProcessWithVLM(ctx context.Context, image []byte, prompt string) (string, error)

	// ExtractDocument recovers the text of a whole PDF.
	ExtractDocument(ctx context.Context, pdf []byte) (string, error)
}

// request is what a backend receives for a single call.
type request struct {
	Capability Capability
	Prompt     string
	Text       string
	Image      []byte // PNG
	Document   []byte // PDF
}

// backend is the vendor specific part of a provider.
type backend interface {
	// supports lists the capabilities the backend can serve.
	supports() CapabilitySet
	available(ctx context.Context) bool
	complete(ctx context.Context, req request) (string, error)
}

// provider applies the shared guards around a backend.
type provider struct {
	desc    Descriptor
	backend backend
	limiter *rate.Limiter
	log     zerolog.Logger
}

func newProvider(desc Descriptor, b backend, requestsPerMinute int) *provider {
	p := &provider{
		desc:    desc,
		backend: b,
		log:     logger.WithProvider("provider", desc.ID),
	}
	if requestsPerMinute > 0 {
		p.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
	}
	return p
}

func (p *provider) Descriptor() Descriptor {
	return p.desc
}

func (p *provider) IsAvailable(ctx context.Context) bool {
	if !p.desc.Enabled {
		return false
	}
	return p.backend.available(ctx)
}

func (p *provider) HTRText(ctx context.Context, image []byte, prompt string) (string, error) {
	if len(image) == 0 {
		return "", NewProviderError("HTRText", p.desc.ID, ErrProviderCallFailed, "empty image")
	}
	return p.invoke(ctx, "HTRText", request{Capability: HTR, Prompt: prompt, Image: image})
}

func (p *provider) FormatMarkdown(ctx context.Context, text, prompt string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", NewProviderError("FormatMarkdown", p.desc.ID, ErrProviderCallFailed, "empty text")
	}
	if !strings.Contains(prompt, text) {
		prompt = strings.TrimRight(prompt, "\n") + "\n\n" + text
	}
	return p.invoke(ctx, "FormatMarkdown", request{Capability: Formatting, Prompt: prompt, Text: text})
}

func (p *provider) ProcessWithVLM(ctx context.Context, image []byte, prompt string) (string, error) {
	if len(image) == 0 {
		return "", NewProviderError("ProcessWithVLM", p.desc.ID, ErrProviderCallFailed, "empty image")
	}
	return p.invoke(ctx, "ProcessWithVLM", request{Capability: VLMDirect, Prompt: prompt, Image: image})
}

func (p *provider) ExtractDocument(ctx context.Context, pdf []byte) (string, error) {
	if len(pdf) == 0 {
		return "", NewProviderError("ExtractDocument", p.desc.ID, ErrProviderCallFailed, "empty document")
	}
	return p.invoke(ctx, "ExtractDocument", request{Capability: DocumentIntelligence, Document: pdf})
}

func (p *provider) invoke(ctx context.Context, op string, req request) (string, error) {
	if !p.desc.Capabilities.Has(req.Capability) {
		return "", NewProviderError(op, p.desc.ID, ErrUnsupportedCapability, req.Capability.String())
	}

	probeCtx, cancelProbe := context.WithTimeout(ctx, AvailabilityTimeout)
	available := p.IsAvailable(probeCtx)
	cancelProbe()
	if !available {
		return "", NewProviderError(op, p.desc.ID, ErrProviderUnavailable, "")
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", NewProviderError(op, p.desc.ID, fmt.Errorf("%w: %w", ErrProviderCallFailed, err), "rate limiter")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.desc.Timeout)
	defer cancel()

	start := time.Now()
	out, err := p.backend.complete(callCtx, req)
	if err != nil {
		p.log.Warn().
			Err(err).
			Str("op", op).
			Dur("duration", time.Since(start)).
			Msg("Provider call failed")
		return "", NewProviderError(op, p.desc.ID, fmt.Errorf("%w: %w", ErrProviderCallFailed, err), "")
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", NewProviderError(op, p.desc.ID, ErrProviderCallFailed, "empty response")
	}

	p.log.Debug().
		Str("op", op).
		Int("chars", len(out)).
		Dur("duration", time.Since(start)).
		Msg("Provider call completed")

	return out, nil
}
