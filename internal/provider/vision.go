package provider

import (
	"context"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"

	"ink2md/internal/config"
)

const (
	// MaxVisionFileSizeBytes is the maximum PDF size for synchronous processing (20MB)
	MaxVisionFileSizeBytes = 20 * 1024 * 1024

	// MaxVisionPagesSync is the maximum number of PDF pages for synchronous processing
	MaxVisionPagesSync = 5
)

// imageAnnotator is the subset of the Vision client the backend uses.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	BatchAnnotateFiles(ctx context.Context, req *visionpb.BatchAnnotateFilesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateFilesResponse, error)
}

// visionBackend recognizes text with Cloud Vision document text detection.
// Prompts are ignored.
type visionBackend struct {
	client imageAnnotator
}

func newVisionBackend(ctx context.Context, _ config.ProviderConfig) (*visionBackend, error) {
	const op = "newVisionBackend"

	opts := googleClientOptions()
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		if len(opts) == 0 {
			return nil, NewProviderError(op, "", ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, NewProviderError(op, "", err, "failed to create Vision client")
	}
	return &visionBackend{client: client}, nil
}

func (b *visionBackend) supports() CapabilitySet {
	return NewCapabilitySet(HTR, DocumentIntelligence)
}

func (b *visionBackend) available(context.Context) bool {
	return b.client != nil
}

func (b *visionBackend) complete(ctx context.Context, req request) (string, error) {
	switch req.Capability {
	case HTR:
		return b.annotateImage(ctx, req.Image)
	case DocumentIntelligence:
		return b.annotatePDF(ctx, req.Document)
	default:
		return "", ErrUnsupportedCapability
	}
}

func (b *visionBackend) annotateImage(ctx context.Context, image []byte) (string, error) {
	resp, err := b.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: image},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("Vision API call failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", fmt.Errorf("no response from Vision API")
	}

	page := resp.Responses[0]
	if page.Error != nil {
		return "", fmt.Errorf("Vision API error: %s", page.Error.Message)
	}
	if page.FullTextAnnotation == nil {
		return "", nil
	}
	return page.FullTextAnnotation.Text, nil
}

func (b *visionBackend) annotatePDF(ctx context.Context, pdf []byte) (string, error) {
	if len(pdf) > MaxVisionFileSizeBytes {
		return "", fmt.Errorf("PDF too large for synchronous processing: %d bytes", len(pdf))
	}

	resp, err := b.client.BatchAnnotateFiles(ctx, &visionpb.BatchAnnotateFilesRequest{
		Requests: []*visionpb.AnnotateFileRequest{
			{
				InputConfig: &visionpb.InputConfig{
					Content:  pdf,
					MimeType: "application/pdf",
				},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("Vision API call failed: %w", err)
	}
	if len(resp.Responses) == 0 {
		return "", fmt.Errorf("no response from Vision API")
	}

	fileResp := resp.Responses[0]
	if fileResp.Error != nil {
		return "", fmt.Errorf("Vision API error: %s", fileResp.Error.Message)
	}
	if len(fileResp.Responses) > MaxVisionPagesSync {
		return "", fmt.Errorf("document has %d pages, synchronous limit is %d", len(fileResp.Responses), MaxVisionPagesSync)
	}

	pages := make([]string, 0, len(fileResp.Responses))
	for i, page := range fileResp.Responses {
		if page.Error != nil {
			return "", fmt.Errorf("error processing page %d: %s", i+1, page.Error.Message)
		}
		if page.FullTextAnnotation == nil {
			continue
		}
		if text := strings.TrimSpace(page.FullTextAnnotation.Text); text != "" {
			pages = append(pages, text)
		}
	}
	return strings.Join(pages, "\n\n"), nil
}
