package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ink2md/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "ink2md",
	Short: "ink2md - Convert PDF documents to Markdown",
	Long: `ink2md converts PDF documents, including scans and handwritten notes,
into Markdown.

Pages are transcribed with a vision language model when one is configured.
Otherwise the text layer is extracted and optionally cleaned up by a
formatting model. Every conversion is recorded in a local history database
and failed conversions can be retried.

Providers are configured in config/providers.yaml (see PROVIDERS_FILE).`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("ink2md executed")

		fmt.Println("Welcome to ink2md!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information")
}
