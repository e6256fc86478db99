package cmd

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ink2md/internal/config"
	"ink2md/internal/logger"
	"ink2md/internal/provider"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect configured AI providers",
	Long: `Inspect the AI providers defined in the providers file (PROVIDERS_FILE).

Providers that fail validation are not registered and are not listed.`,
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered providers and their capabilities",
	Args:  cobra.NoArgs,
	RunE:  runProvidersList,
}

var providersTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check connectivity of every registered provider",
	Args:  cobra.NoArgs,
	RunE:  runProvidersTest,
}

func init() {
	rootCmd.AddCommand(providersCmd)
	providersCmd.AddCommand(providersListCmd, providersTestCmd)

	providersListCmd.Flags().String("capability", "", "Only list enabled providers with this capability")
	providersListCmd.Flags().Bool("json", false, "Output as JSON")
	providersTestCmd.Flags().Bool("json", false, "Output as JSON")
}

func runProvidersList(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("providers")

	capability, _ := cmd.Flags().GetString("capability")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	registry := newRegistry(cmd.Context(), cfg, log)

	var descs []provider.Descriptor
	if capability != "" {
		c, err := provider.ParseCapability(capability)
		if err != nil {
			return err
		}
		descs = registry.ByCapability(c)
	} else {
		descs = registry.List()
	}

	if jsonOutput {
		return printJSON(struct {
			Providers []provider.Descriptor `json:"providers"`
			Stats     provider.Stats        `json:"stats"`
			Active    map[string]string     `json:"active_services"`
		}{descs, registry.Statistics(), activeServices(cfg)})
	}

	if len(descs) == 0 {
		fmt.Println("No providers registered.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tENABLED\tCAPABILITIES\tMODEL\tTIMEOUT")
	for _, d := range descs {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
			d.ID, d.Type, d.Enabled, d.Capabilities, d.Model, d.Timeout)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Println()
	active := activeServices(cfg)
	roles := make([]string, 0, len(active))
	for role := range active {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	for _, role := range roles {
		fmt.Printf("%-11s %s\n", role+":", active[role])
	}
	return nil
}

func runProvidersTest(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("providers")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	registry := newRegistry(cmd.Context(), cfg, log)

	results := registry.TestAll(cmd.Context())
	if jsonOutput {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No providers registered.")
		return nil
	}

	available := 0
	for _, r := range results {
		status := "unavailable"
		if r.Available {
			status = "available"
			available++
		} else if !r.Enabled {
			status = "disabled"
		}
		fmt.Printf("%-20s %-14s %-12s %s\n", r.ProviderID, r.Type, status, r.Latency.Round(time.Millisecond))
	}
	fmt.Printf("\n%d of %d providers available\n", available, len(results))
	return nil
}

func activeServices(cfg *config.Config) map[string]string {
	orNone := func(id string) string {
		if id == "" {
			return "(none)"
		}
		return id
	}
	return map[string]string{
		"vlm":        orNone(cfg.VLMProviderID),
		"formatting": orNone(cfg.FormattingProviderID),
		"htr":        orNone(cfg.HTRProviderID),
	}
}
