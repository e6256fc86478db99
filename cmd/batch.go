package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ink2md/internal/conversion"
	"ink2md/internal/logger"
	"ink2md/internal/sheets"
	"ink2md/internal/store"
	"ink2md/pkg/models"
)

var batchCmd = &cobra.Command{
	Use:   "batch [folder-path]",
	Short: "Convert every PDF in a folder",
	Long: `Convert all PDF files in a folder to Markdown.

Files are converted in parallel by a bounded number of workers. Each
conversion is recorded in the history database; failed conversions can be
retried with 'ink2md retry <conversion-id>'.

Optional environment variables:
  BATCH_WORKERS - Number of parallel workers (default: 4)
  GOOGLE_SHEET_URL - Google Sheets URL used by --sheet`,
	Example: `  # Convert every PDF in ./scans
  ink2md batch ./scans

  # Use eight workers and export the outcome to Google Sheets
  ink2md batch ./scans --workers 8 --sheet`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

// BatchResult is the outcome of converting one file.
type BatchResult struct {
	Filename     string
	ConversionID string
	Result       *models.Result
	Error        error
	Index        int
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("workers", 0, "Number of parallel workers (default: BATCH_WORKERS)")
	batchCmd.Flags().Bool("sheet", false, "Export the batch history rows to GOOGLE_SHEET_URL")
	batchCmd.Flags().Bool("verbose", false, "Show detailed processing information")
	batchCmd.Flags().Int("timeout", 7200, "Processing timeout in seconds")
}

func runBatch(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("batch")

	folderPath := args[0]
	workers, _ := cmd.Flags().GetInt("workers")
	exportSheet, _ := cmd.Flags().GetBool("sheet")
	verbose, _ := cmd.Flags().GetBool("verbose")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	folderInfo, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("folder not found: %s", folderPath)
	}
	if !folderInfo.IsDir() {
		return fmt.Errorf("path is not a directory: %s", folderPath)
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	a, err := newApp(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if workers <= 0 {
		workers = a.cfg.BatchWorkers
	}

	pdfFiles, err := findPDFFiles(folderPath)
	if err != nil {
		return fmt.Errorf("failed to find PDF files: %w", err)
	}
	if len(pdfFiles) == 0 {
		fmt.Println("No PDF files found in folder.")
		return nil
	}

	log.Info().
		Str("folder", folderPath).
		Int("files", len(pdfFiles)).
		Int("workers", workers).
		Msg("Starting batch conversion")

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("                           BATCH CONVERSION")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Folder: %s\n", folderPath)
	fmt.Printf("Converting %d PDFs with %d parallel workers...\n\n", len(pdfFiles), workers)

	results := convertInParallel(ctx, a.service, pdfFiles, workers, log, verbose)

	successCount, errorCount := 0, 0
	for _, r := range results {
		if r.Error != nil {
			errorCount++
		} else {
			successCount++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println("                 SUMMARY")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Succeeded: %d\n", successCount)
	if errorCount > 0 {
		fmt.Printf("Failed: %d\n", errorCount)
		fmt.Println("Retry failed conversions with: ink2md retry <conversion-id>")
	}
	fmt.Println()

	if exportSheet {
		if err := exportBatchToSheet(ctx, a, results); err != nil {
			return err
		}
	}

	log.Info().
		Int("total", len(pdfFiles)).
		Int("success", successCount).
		Int("errors", errorCount).
		Msg("Batch conversion completed")

	return nil
}

// findPDFFiles finds all PDF files in the specified folder
func findPDFFiles(folderPath string) ([]string, error) {
	var pdfFiles []string

	err := filepath.Walk(folderPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && strings.HasSuffix(strings.ToLower(info.Name()), ".pdf") {
			pdfFiles = append(pdfFiles, path)
		}
		return nil
	})

	return pdfFiles, err
}

// convertInParallel converts files with at most workers conversions in flight.
// Results keep the order of pdfFiles.
func convertInParallel(ctx context.Context, svc *conversion.Service, pdfFiles []string, workers int, log zerolog.Logger, verbose bool) []BatchResult {
	results := make([]BatchResult, len(pdfFiles))

	var processedCount int
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range pdfFiles {
		g.Go(func() error {
			start := time.Now()
			result := convertSingleFile(ctx, svc, path)
			result.Index = i
			results[i] = result

			mu.Lock()
			defer mu.Unlock()
			processedCount++

			fmt.Printf("[%d/%d] %s - %s", processedCount, len(pdfFiles), result.Filename, statusLabel(result))
			if result.Error != nil {
				fmt.Printf(" (%s: %s)", result.ConversionID, result.Error.Error())
			} else {
				fmt.Printf(" (%s, %s)", result.Result.OutputFilename, result.Result.ProcessingMethod)
			}
			fmt.Println()

			if verbose {
				log.Info().
					Str("file", result.Filename).
					Str("conversion_id", result.ConversionID).
					Dur("duration", time.Since(start)).
					Msg("PDF processed")
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func convertSingleFile(ctx context.Context, svc *conversion.Service, pdfPath string) BatchResult {
	result := BatchResult{
		Filename:     filepath.Base(pdfPath),
		ConversionID: conversion.NewConversionID(),
	}

	data, err := os.ReadFile(pdfPath)
	if err != nil {
		result.Error = fmt.Errorf("failed to read PDF file: %w", err)
		return result
	}

	res, err := svc.Convert(ctx, result.ConversionID, result.Filename, data)
	if err != nil {
		result.Error = err
		return result
	}
	result.Result = res
	return result
}

func statusLabel(r BatchResult) string {
	switch {
	case r.Error != nil:
		return "FAILED"
	case r.Result.AIEnhanced:
		return "OK (AI)"
	default:
		return "OK"
	}
}

func exportBatchToSheet(ctx context.Context, a *app, results []BatchResult) error {
	if a.cfg.GoogleSheetURL == "" {
		return fmt.Errorf("GOOGLE_SHEET_URL environment variable is required for --sheet")
	}

	fmt.Println("Writing history to Google Sheet...")

	var records []models.ConversionRecord
	for _, r := range results {
		rec, err := a.store.Get(ctx, r.ConversionID)
		if err != nil {
			if !errors.Is(err, store.ErrRecordNotFound) {
				return fmt.Errorf("failed to read conversion history: %w", err)
			}
			continue
		}
		records = append(records, *rec)
	}

	sheetsService, err := sheets.NewSheetsService(ctx, a.cfg.GoogleSheetURL)
	if err != nil {
		return fmt.Errorf("failed to create Google Sheets service: %w", err)
	}
	if err := sheetsService.ExportHistory(ctx, records, a.cfg.GoogleSheetWorksheet); err != nil {
		return fmt.Errorf("failed to write to Google Sheet: %w", err)
	}

	fmt.Printf("Sheet: %s\n", a.cfg.GoogleSheetWorksheet)
	fmt.Printf("Rows added: %d\n", len(records))
	fmt.Printf("URL: %s\n", a.cfg.GoogleSheetURL)
	return nil
}
