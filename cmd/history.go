package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ink2md/internal/config"
	"ink2md/internal/logger"
	"ink2md/internal/sheets"
	"ink2md/internal/store"
	"ink2md/pkg/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the conversion history",
	Long: `List conversions recorded in the history database, newest first.

Use the subcommands to show statistics, delete a record or export the
history to Google Sheets.`,
	Example: `  # Show the 20 most recent conversions
  ink2md history --limit 20

  # Show only failed conversions as JSON
  ink2md history --status failed --json`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show conversion statistics",
	Args:  cobra.NoArgs,
	RunE:  runHistoryStats,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete [conversion-id]",
	Short: "Delete a conversion record",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the conversion history to Google Sheets",
	Long: `Append conversion history rows to a Google Sheet.

Required environment variables:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_SHEET_URL - Google Sheets URL (or pass --sheet)`,
	Args: cobra.NoArgs,
	RunE: runHistoryExport,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyStatsCmd, historyDeleteCmd, historyExportCmd)

	historyCmd.Flags().String("status", "", "Only show conversions with this status (queued, processing, completed, failed, retrying)")
	historyCmd.Flags().Int("limit", store.DefaultHistoryLimit, "Maximum number of records")
	historyCmd.Flags().Int("offset", 0, "Number of records to skip")
	historyCmd.Flags().Bool("json", false, "Output as JSON")

	historyStatsCmd.Flags().Bool("json", false, "Output as JSON")

	historyExportCmd.Flags().String("sheet", "", "Google Sheets URL (default: GOOGLE_SHEET_URL)")
	historyExportCmd.Flags().String("worksheet", "", "Worksheet name (default: GOOGLE_SHEET_WORKSHEET)")
	historyExportCmd.Flags().String("status", "", "Only export conversions with this status")
	historyExportCmd.Flags().Int("limit", 1000, "Maximum number of records")
}

func runHistory(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")

	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	filter, err := historyFilter(status, limit, offset)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(cmd.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list conversion history")
		return fmt.Errorf("failed to list conversion history: %w", err)
	}

	if jsonOutput {
		return printJSON(historyJSON(records))
	}

	if len(records) == 0 {
		fmt.Println("No conversions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CONVERSION ID\tFILE\tSTATUS\tRETRIES\tPAGES\tSIZE\tOUTPUT\tCREATED")
	for _, rec := range records {
		output := models.Deref(rec.OutputFilename)
		if rec.Status == models.StatusFailed {
			output = "error: " + truncate(models.Deref(rec.ErrorMessage), 48)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			rec.ConversionID,
			rec.OriginalFilename,
			rec.Status,
			rec.RetryCount,
			rec.PageCount,
			models.FormatFileSize(rec.FileSize),
			output,
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.Statistics(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to compute statistics: %w", err)
	}

	if jsonOutput {
		return printJSON(stats)
	}

	fmt.Printf("Total conversions: %d\n", stats.Total)
	fmt.Printf("Last 24 hours:     %d\n", stats.Last24Hours)
	fmt.Printf("Total retries:     %d\n", stats.TotalRetries)

	statuses := make([]string, 0, len(stats.ByStatus))
	for s := range stats.ByStatus {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		fmt.Printf("  %-11s %d\n", s+":", stats.ByStatus[models.Status(s)])
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")
	conversionID := args[0]

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Delete(cmd.Context(), conversionID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return fmt.Errorf("conversion %s not found", conversionID)
		}
		return fmt.Errorf("failed to delete conversion: %w", err)
	}

	log.Info().Str("conversion_id", conversionID).Msg("Conversion record deleted")
	fmt.Printf("Deleted conversion %s\n", conversionID)
	return nil
}

func runHistoryExport(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("history")

	sheetURL, _ := cmd.Flags().GetString("sheet")
	worksheet, _ := cmd.Flags().GetString("worksheet")
	status, _ := cmd.Flags().GetString("status")
	limit, _ := cmd.Flags().GetInt("limit")

	filter, err := historyFilter(status, limit, 0)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if sheetURL == "" {
		sheetURL = cfg.GoogleSheetURL
	}
	if sheetURL == "" {
		return fmt.Errorf("GOOGLE_SHEET_URL environment variable or --sheet is required")
	}
	if worksheet == "" {
		worksheet = cfg.GoogleSheetWorksheet
	}

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.List(cmd.Context(), filter)
	if err != nil {
		return fmt.Errorf("failed to list conversion history: %w", err)
	}

	sheetsService, err := sheets.NewSheetsService(cmd.Context(), sheetURL)
	if err != nil {
		return fmt.Errorf("failed to create Google Sheets service: %w", err)
	}
	if err := sheetsService.ExportHistory(cmd.Context(), records, worksheet); err != nil {
		log.Error().Err(err).Msg("History export failed")
		return fmt.Errorf("failed to write to Google Sheet: %w", err)
	}

	fmt.Printf("Sheet: %s\n", worksheet)
	fmt.Printf("Rows added: %d\n", len(records))
	fmt.Printf("URL: %s\n", sheetURL)
	return nil
}

func historyFilter(status string, limit, offset int) (store.HistoryFilter, error) {
	filter := store.HistoryFilter{Limit: limit, Offset: offset}
	if status != "" {
		s := models.Status(status)
		if !s.Valid() {
			return filter, fmt.Errorf("invalid status %q", status)
		}
		filter.Status = s
	}
	return filter, nil
}

// historyRecord is the JSON form of a conversion record.
type historyRecord struct {
	ConversionID       string `json:"conversion_id"`
	OriginalFilename   string `json:"original_filename"`
	OutputFilename     string `json:"output_filename,omitempty"`
	Status             string `json:"status"`
	HTRProvider        string `json:"htr_provider,omitempty"`
	FormattingProvider string `json:"formatting_provider,omitempty"`
	ErrorMessage       string `json:"error_message,omitempty"`
	RetryCount         int    `json:"retry_count"`
	FileSize           int64  `json:"file_size"`
	PageCount          int    `json:"page_count"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

func historyJSON(records []models.ConversionRecord) []historyRecord {
	out := make([]historyRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, historyRecord{
			ConversionID:       rec.ConversionID,
			OriginalFilename:   rec.OriginalFilename,
			OutputFilename:     models.Deref(rec.OutputFilename),
			Status:             string(rec.Status),
			HTRProvider:        models.Deref(rec.HTRProvider),
			FormattingProvider: models.Deref(rec.FormattingProvider),
			ErrorMessage:       models.Deref(rec.ErrorMessage),
			RetryCount:         rec.RetryCount,
			FileSize:           rec.FileSize,
			PageCount:          rec.PageCount,
			CreatedAt:          rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:          rec.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return out
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
