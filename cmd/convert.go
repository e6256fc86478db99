package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ink2md/internal/conversion"
	"ink2md/internal/document"
	"ink2md/internal/logger"
	"ink2md/internal/store"
	"ink2md/pkg/models"
)

// MaxInputBytes caps the size of a single input PDF.
const MaxInputBytes = 100 << 20

var convertCmd = &cobra.Command{
	Use:   "convert [pdf-file]",
	Short: "Convert a PDF document to Markdown",
	Long: `Convert a PDF file to Markdown.

When a VLM provider is configured and reachable, each page is rendered and
transcribed by the vision model. Otherwise the PDF text layer is extracted
and, if a formatting provider is configured, cleaned up by it. Image-only
scans are transcribed by the HTR provider when one is configured.

The markdown is written to OUTPUT_DIR using OUTPUT_PATTERN and to stdout or
the file given with --output. Progress is reported on stderr.`,
	Example: `  # Convert a document and print markdown to stdout
  ink2md convert meeting_notes.pdf

  # Save the markdown to a file
  ink2md convert paper.pdf -o paper.md

  # Print the full conversion result as JSON
  ink2md convert scan.pdf --json`,
	Args: cobra.ExactArgs(1),
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	convertCmd.Flags().Bool("json", false, "Output the conversion result as JSON")
	convertCmd.Flags().Bool("quiet", false, "Do not report progress on stderr")
	convertCmd.Flags().String("id", "", "Conversion id (default: random UUID)")
	convertCmd.Flags().Int("timeout", 1800, "Processing timeout in seconds")
}

func runConvert(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("convert")

	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	quiet, _ := cmd.Flags().GetBool("quiet")
	conversionID, _ := cmd.Flags().GetString("id")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	pdfPath := args[0]
	if conversionID == "" {
		conversionID = conversion.NewConversionID()
	}

	log.Info().
		Str("file", pdfPath).
		Str("conversion_id", conversionID).
		Str("output", outputPath).
		Bool("json", jsonOutput).
		Msg("Starting conversion")

	if _, err := validatePDFFile(pdfPath, log); err != nil {
		return err
	}
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return fmt.Errorf("failed to read PDF file: %w", err)
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	a, err := newApp(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := convertWithProgress(ctx, a, conversionID, filepath.Base(pdfPath), data, quiet)
	if err != nil {
		return handleConversionError(err, conversionID, log)
	}

	log.Info().
		Str("conversion_id", conversionID).
		Str("output_filename", result.OutputFilename).
		Str("method", string(result.ProcessingMethod)).
		Int("markdown_length", len(result.Markdown)).
		Msg("Conversion completed successfully")

	return outputResults(result, outputPath, jsonOutput, log)
}

// convertWithProgress runs the conversion and prints stage changes to stderr
// while it is in flight.
func convertWithProgress(ctx context.Context, a *app, conversionID, filename string, data []byte, quiet bool) (*models.Result, error) {
	type outcome struct {
		result *models.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := a.service.Convert(ctx, conversionID, filename, data)
		done <- outcome{res, err}
	}()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	lastStage := ""
	for {
		select {
		case out := <-done:
			if !quiet && out.err == nil {
				fmt.Fprintf(os.Stderr, "[100%%] Conversion complete\n")
			}
			return out.result, out.err
		case <-ticker.C:
			if quiet {
				continue
			}
			entry, ok := a.service.Progress(conversionID)
			if !ok || entry.Stage == lastStage {
				continue
			}
			lastStage = entry.Stage
			fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", entry.Progress, entry.Stage)
		}
	}
}

// validatePDFFile checks if the file exists, is readable, and appears to be a PDF
func validatePDFFile(pdfPath string, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(pdfPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().
				Str("file", pdfPath).
				Msg("PDF file not found")
			return nil, fmt.Errorf("PDF file not found: %s", pdfPath)
		}
		if os.IsPermission(err) {
			log.Error().
				Str("file", pdfPath).
				Msg("Permission denied accessing PDF file")
			return nil, fmt.Errorf("permission denied accessing PDF file: %s", pdfPath)
		}
		return nil, fmt.Errorf("error accessing PDF file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().
			Str("file", pdfPath).
			Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", pdfPath)
	}

	if !strings.HasSuffix(strings.ToLower(pdfPath), ".pdf") {
		log.Warn().
			Str("file", pdfPath).
			Msg("File does not have .pdf extension")
	}

	if fileInfo.Size() == 0 {
		log.Error().
			Str("file", pdfPath).
			Msg("PDF file is empty")
		return nil, fmt.Errorf("PDF file is empty: %s", pdfPath)
	}

	if fileInfo.Size() > MaxInputBytes {
		log.Error().
			Str("file", pdfPath).
			Int64("size", fileInfo.Size()).
			Int64("max_size", MaxInputBytes).
			Msg("PDF file exceeds maximum size limit")
		return nil, fmt.Errorf("PDF file too large (%s). Maximum size is %s",
			models.FormatFileSize(fileInfo.Size()), models.FormatFileSize(MaxInputBytes))
	}

	return fileInfo, nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling conversion")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// handleConversionError provides user-friendly error messages for conversion failures
func handleConversionError(err error, conversionID string, log zerolog.Logger) error {
	log.Error().Err(err).Str("conversion_id", conversionID).Msg("Conversion failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("conversion timed out. Try increasing --timeout or check provider availability")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("conversion was canceled")
	case errors.Is(err, document.ErrNotPDF):
		return fmt.Errorf("the file is not a PDF document")
	case errors.Is(err, conversion.ErrDocumentOpenFailed):
		return fmt.Errorf("invalid or corrupted PDF file. Please check the file integrity. Retry with: ink2md retry %s", conversionID)
	case errors.Is(err, conversion.ErrEmptyOutput):
		return fmt.Errorf("no text could be extracted. The PDF may contain only images; configure an HTR or VLM provider and retry with: ink2md retry %s", conversionID)
	case errors.Is(err, conversion.ErrOutputWriteFailed):
		return fmt.Errorf("could not write the markdown file. Check OUTPUT_DIR permissions: %w", err)
	case errors.Is(err, conversion.ErrInvalidConversionID):
		return fmt.Errorf("invalid conversion id %q: use letters, digits, dots, dashes and underscores", conversionID)
	case errors.Is(err, store.ErrDurabilityWriteFailed):
		return fmt.Errorf("history database write failed: %w", err)
	default:
		return fmt.Errorf("conversion failed: %w", err)
	}
}

// outputResults writes the markdown, or the full result as JSON, to a file or stdout
func outputResults(result *models.Result, outputPath string, jsonOutput bool, log zerolog.Logger) error {
	var outputData []byte
	var err error

	if jsonOutput {
		outputData, err = json.MarshalIndent(result, "", "  ")
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal JSON output")
			return fmt.Errorf("failed to create JSON output: %w", err)
		}
	} else {
		outputData = []byte(result.Markdown)
	}

	if outputPath != "" {
		err = os.WriteFile(outputPath, outputData, 0644)
		if err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}

		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(outputData)).
			Msg("Conversion results written to file")
		return nil
	}

	if _, err = os.Stdout.Write(outputData); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Println()
	return nil
}
