package provider

import (
	"context"
	"encoding/base64"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ink2md/internal/config"
)

const (
	defaultAnthropicMaxTokens   = 4096
	defaultAnthropicTemperature = 0.1
)

type anthropicBackend struct {
	client      sdk.Client
	model       string
	maxTokens   int64
	temperature float64
}

func newAnthropicBackend(cfg config.ProviderConfig) *anthropicBackend {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	b := &anthropicBackend{
		client:      sdk.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   defaultAnthropicMaxTokens,
		temperature: defaultAnthropicTemperature,
	}
	if cfg.MaxTokens > 0 {
		b.maxTokens = int64(cfg.MaxTokens)
	}
	if cfg.Temperature != nil {
		b.temperature = *cfg.Temperature
	}
	return b
}

func (b *anthropicBackend) supports() CapabilitySet {
	return NewCapabilitySet(HTR, Formatting, LayoutAnalysis, VLMDirect)
}

// available only depends on configuration; the API has no cheap probe.
func (b *anthropicBackend) available(context.Context) bool {
	return b.model != ""
}

func (b *anthropicBackend) complete(ctx context.Context, req request) (string, error) {
	var blocks []sdk.ContentBlockParamUnion
	if len(req.Image) > 0 {
		blocks = append(blocks, sdk.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(req.Image)))
	}
	blocks = append(blocks, sdk.NewTextBlock(req.Prompt))

	msg, err := b.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(b.model),
		MaxTokens:   b.maxTokens,
		Temperature: sdk.Float(b.temperature),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
	})
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
