package provider

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"ink2md/internal/config"
)

const vertexDocumentPrompt = "Transcribe the full content of this PDF document as markdown. Preserve headings, lists and tables. Return only the markdown."

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// vertexBackend calls a Gemini model on Vertex AI.
type vertexBackend struct {
	model contentGenerator
}

func newVertexBackend(ctx context.Context, cfg config.ProviderConfig) (*vertexBackend, error) {
	client, err := genai.NewClient(ctx, cfg.Project, cfg.Location, googleClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := client.GenerativeModel(cfg.Model)
	temperature := float32(defaultChatTemperature)
	if cfg.Temperature != nil {
		temperature = float32(*cfg.Temperature)
	}
	model.GenerationConfig.Temperature = genai.Ptr(temperature)
	if cfg.MaxTokens > 0 {
		model.GenerationConfig.MaxOutputTokens = genai.Ptr(int32(cfg.MaxTokens))
	}

	return &vertexBackend{model: model}, nil
}

func (b *vertexBackend) supports() CapabilitySet {
	return NewCapabilitySet(HTR, Formatting, LayoutAnalysis, VLMDirect, DocumentIntelligence)
}

func (b *vertexBackend) available(context.Context) bool {
	return b.model != nil
}

func (b *vertexBackend) complete(ctx context.Context, req request) (string, error) {
	var parts []genai.Part
	prompt := req.Prompt
	switch {
	case len(req.Image) > 0:
		parts = append(parts, genai.ImageData("png", req.Image))
	case len(req.Document) > 0:
		parts = append(parts, genai.Blob{MIMEType: "application/pdf", Data: req.Document})
		if prompt == "" {
			prompt = vertexDocumentPrompt
		}
	}
	parts = append(parts, genai.Text(prompt))

	resp, err := b.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}
