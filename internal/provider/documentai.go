package provider

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"

	"ink2md/internal/config"
)

// MaxDocumentAISizeBytes is the maximum document size for online processing (20MB)
const MaxDocumentAISizeBytes = 20 * 1024 * 1024

type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
}

// documentAIBackend runs an OCR processor over whole documents or page images.
type documentAIBackend struct {
	client        documentProcessor
	processorName string
}

func newDocumentAIBackend(ctx context.Context, cfg config.ProviderConfig) (*documentAIBackend, error) {
	const op = "newDocumentAIBackend"

	location := cfg.Location
	if location == "" {
		location = "us"
	}

	clientOptions := googleClientOptions()
	if location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		return nil, NewProviderError(op, "", err, fmt.Sprintf("failed to create Document AI client for location: %s", location))
	}

	return &documentAIBackend{
		client:        client,
		processorName: processorName(cfg.Project, location, cfg.ProcessorID),
	}, nil
}

func processorName(project, location, processorID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
}

func (b *documentAIBackend) supports() CapabilitySet {
	return NewCapabilitySet(HTR, DocumentIntelligence)
}

func (b *documentAIBackend) available(context.Context) bool {
	return b.client != nil
}

func (b *documentAIBackend) complete(ctx context.Context, req request) (string, error) {
	var raw *documentaipb.RawDocument
	switch req.Capability {
	case HTR:
		raw = &documentaipb.RawDocument{Content: req.Image, MimeType: "image/png"}
	case DocumentIntelligence:
		raw = &documentaipb.RawDocument{Content: req.Document, MimeType: "application/pdf"}
	default:
		return "", ErrUnsupportedCapability
	}
	if len(raw.Content) > MaxDocumentAISizeBytes {
		return "", fmt.Errorf("document too large: %d bytes", len(raw.Content))
	}

	resp, err := b.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name:   b.processorName,
		Source: &documentaipb.ProcessRequest_RawDocument{RawDocument: raw},
	})
	if err != nil {
		return "", describeDocumentAIError(err)
	}
	if resp.Document == nil {
		return "", fmt.Errorf("no document in response")
	}
	return resp.Document.Text, nil
}

// describeDocumentAIError adds a hint for the common gRPC failure codes.
func describeDocumentAIError(err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return fmt.Errorf("insufficient permissions for Document AI: %w", err)
	case strings.Contains(errStr, "QUOTA_EXCEEDED"):
		return fmt.Errorf("Document AI API quota exceeded: %w", err)
	case strings.Contains(errStr, "NOT_FOUND"):
		return fmt.Errorf("Document AI processor not found: %w", err)
	case strings.Contains(errStr, "INVALID_ARGUMENT"):
		return fmt.Errorf("document format not supported or corrupted: %w", err)
	default:
		return fmt.Errorf("Document AI error: %w", err)
	}
}
