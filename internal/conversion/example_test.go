package conversion_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"ink2md/internal/config"
	"ink2md/internal/conversion"
	"ink2md/internal/document"
	"ink2md/internal/progress"
	"ink2md/internal/prompt"
	"ink2md/internal/provider"
	"ink2md/internal/store"
	"ink2md/pkg/models"
)

// Example wires a conversion service from the environment and converts a PDF.
func Example() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	st, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open history database: %v", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate history database: %v", err)
	}

	resolver, err := prompt.NewResolver(cfg.PromptTemplatesFile)
	if err != nil {
		log.Fatalf("Failed to load prompt templates: %v", err)
	}

	registry := provider.NewRegistry()
	registry.LoadFromConfig(ctx, cfg.Providers)

	service := conversion.NewService(
		conversion.OptionsFromConfig(cfg),
		registry,
		resolver,
		st,
		progress.NewTracker(cfg.ProgressRetention),
		document.NewFitzOpener(),
	)

	data, err := os.ReadFile("meeting_notes.pdf")
	if err != nil {
		log.Fatalf("Failed to read PDF: %v", err)
	}

	result, err := service.Convert(ctx, conversion.NewConversionID(), "meeting_notes.pdf", data)
	if err != nil {
		log.Fatalf("Conversion failed: %v", err)
	}

	fmt.Printf("Wrote %s using %s (%d pages)\n", result.OutputFilename, result.ProcessingMethod, result.PageCount)
}

// ExampleService_Submit converts in the background and polls for progress.
func ExampleService_Submit() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	st, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open history database: %v", err)
	}
	defer st.Close()
	if err := st.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate history database: %v", err)
	}
	resolver, err := prompt.NewResolver(cfg.PromptTemplatesFile)
	if err != nil {
		log.Fatalf("Failed to load prompt templates: %v", err)
	}
	registry := provider.NewRegistry()
	registry.LoadFromConfig(ctx, cfg.Providers)

	service := conversion.NewService(conversion.OptionsFromConfig(cfg), registry, resolver, st,
		progress.NewTracker(cfg.ProgressRetention), document.NewFitzOpener())

	data, err := os.ReadFile("scan001.pdf")
	if err != nil {
		log.Fatalf("Failed to read PDF: %v", err)
	}

	id := conversion.NewConversionID()
	if err := service.Submit(ctx, id, "scan001.pdf", data); err != nil {
		log.Fatalf("Submit failed: %v", err)
	}

	for {
		entry, ok := service.Progress(id)
		if !ok {
			break
		}
		fmt.Printf("%3d%% %s\n", entry.Progress, entry.Stage)
		if entry.Status != models.ProgressProcessing {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	service.Wait()
}

// ExampleOutputFilename expands the default output pattern.
func ExampleOutputFilename() {
	now := time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)

	fmt.Println(conversion.OutputFilename("YYYY-MM-DD-[OriginalFileName].md", "report.pdf", now))
	fmt.Println(conversion.OutputFilename("[OriginalFileName]_converted.md", "scans/lecture 3.pdf", now))
	// Output:
	// 2024-03-05-report.md
	// lecture 3_converted.md
}

// ExampleDocumentType shows how filenames select the prompt family.
func ExampleDocumentType() {
	for _, name := range []string{"Research_Paper_Final.pdf", "meeting_notes.pdf", "Visa_Application.pdf", "scan001.pdf"} {
		fmt.Printf("%s: %s\n", name, conversion.DocumentType(name))
	}
	// Output:
	// Research_Paper_Final.pdf: academic
	// meeting_notes.pdf: notes
	// Visa_Application.pdf: forms
	// scan001.pdf: clean
}
