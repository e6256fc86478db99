package provider

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"ink2md/internal/config"
)

const defaultChatTemperature = 0.1

// chatBackend talks to any OpenAI compatible chat completions API.
type chatBackend struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	probe       func(ctx context.Context) bool
}

func newOpenAIBackend(cfg config.ProviderConfig) *chatBackend {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	b := newChatBackend(openai.NewClientWithConfig(clientConfig), cfg)
	b.probe = func(context.Context) bool { return cfg.APIKey != "" }
	return b
}

func newChatBackend(client *openai.Client, cfg config.ProviderConfig) *chatBackend {
	b := &chatBackend{
		client:      client,
		model:       cfg.Model,
		temperature: defaultChatTemperature,
		maxTokens:   cfg.MaxTokens,
	}
	if cfg.Temperature != nil {
		b.temperature = float32(*cfg.Temperature)
	}
	return b
}

func (b *chatBackend) supports() CapabilitySet {
	return NewCapabilitySet(HTR, Formatting, LayoutAnalysis, VLMDirect)
}

func (b *chatBackend) available(ctx context.Context) bool {
	return b.probe(ctx)
}

func (b *chatBackend) complete(ctx context.Context, req request) (string, error) {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Image) > 0 {
		msg.MultiContent = []openai.ChatMessagePart{
			{
				Type: openai.ChatMessagePartTypeText,
				Text: req.Prompt,
			},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Image),
					Detail: openai.ImageURLDetailHigh,
				},
			},
		}
	} else {
		msg.Content = req.Prompt
	}

	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
		Messages:    []openai.ChatCompletionMessage{msg},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return resp.Choices[0].Message.Content, nil
}
