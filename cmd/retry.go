package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ink2md/internal/conversion"
	"ink2md/internal/logger"
	"ink2md/pkg/models"
)

var retryCmd = &cobra.Command{
	Use:   "retry [conversion-id]",
	Short: "Retry a failed conversion",
	Long: `Retry a failed conversion using its original input.

The retry is rejected when the conversion is unknown, not in the failed
state, has used all MAX_RETRIES attempts, or its spooled input in INPUT_DIR
is gone. Accepted retries wait min(2^retry_count, RETRY_BACKOFF_CAP) units of
RETRY_BACKOFF_UNIT before running.

--timeout bounds loading and scheduling the retry. Once accepted, the retry
runs to completion and the command waits for it.`,
	Example: `  # Retry a failed conversion and wait for the outcome
  ink2md retry 2f6c1b9e-9a55-4a0e-8c58-1f7f0a1c2d3e`,
	Args: cobra.ExactArgs(1),
	RunE: runRetry,
}

func init() {
	rootCmd.AddCommand(retryCmd)

	retryCmd.Flags().Int("timeout", 60, "Timeout in seconds for scheduling the retry")
}

func runRetry(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("retry")
	conversionID := args[0]
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	a, err := newApp(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ticket, err := a.service.Retry(ctx, conversionID)
	if err != nil {
		return handleRetryError(err, conversionID)
	}

	fmt.Printf("Retry %d of %d accepted for %s, starting in %s\n",
		ticket.Attempt, a.cfg.MaxRetries, conversionID, ticket.Delay)

	a.service.Wait()

	rec, err := a.store.Get(ctx, conversionID)
	if err != nil {
		return fmt.Errorf("failed to read conversion record: %w", err)
	}

	log.Info().
		Str("conversion_id", conversionID).
		Str("status", string(rec.Status)).
		Int("retry_count", rec.RetryCount).
		Msg("Retry finished")

	if rec.Status != models.StatusCompleted {
		return fmt.Errorf("retry failed: %s", models.Deref(rec.ErrorMessage))
	}
	fmt.Printf("Conversion completed: %s\n", models.Deref(rec.OutputFilename))
	return nil
}

func handleRetryError(err error, conversionID string) error {
	switch {
	case errors.Is(err, conversion.ErrConversionNotFound):
		return fmt.Errorf("conversion %s not found", conversionID)
	case errors.Is(err, conversion.ErrNotRetryable):
		return fmt.Errorf("only failed conversions can be retried: %w", err)
	case errors.Is(err, conversion.ErrRetryLimitExceeded):
		return fmt.Errorf("conversion %s has no retries left: %w", conversionID, err)
	case errors.Is(err, conversion.ErrInputUnavailable):
		return fmt.Errorf("the original PDF for %s is no longer available; convert it again instead", conversionID)
	default:
		return fmt.Errorf("retry failed: %w", err)
	}
}
