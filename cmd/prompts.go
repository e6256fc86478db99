package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ink2md/internal/config"
	"ink2md/internal/logger"
	"ink2md/internal/prompt"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage prompt templates",
	Long: `Manage the prompt templates used for VLM, handwriting recognition and
formatting requests.

Built-in templates cannot be changed or deleted. Custom templates are stored
in PROMPT_TEMPLATES_FILE.`,
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompt templates",
	Args:  cobra.NoArgs,
	RunE:  runPromptsList,
}

var promptsShowCmd = &cobra.Command{
	Use:   "show [name]",
	Short: "Show a prompt template",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromptsShow,
}

var promptsRenderCmd = &cobra.Command{
	Use:     "render [name]",
	Short:   "Render a prompt template with variables",
	Example: `  ink2md prompts render vlm_academic --var page_number=1 --var total_pages=3`,
	Args:    cobra.ExactArgs(1),
	RunE:    runPromptsRender,
}

var promptsSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Create or replace a custom prompt template",
	Example: `  ink2md prompts set formatting_invoice --file invoice_prompt.txt
  ink2md prompts set htr_receipts --content "Transcribe this receipt exactly."`,
	Args: cobra.ExactArgs(1),
	RunE: runPromptsSet,
}

var promptsDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete a custom prompt template",
	Args:  cobra.ExactArgs(1),
	RunE:  runPromptsDelete,
}

func init() {
	rootCmd.AddCommand(promptsCmd)
	promptsCmd.AddCommand(promptsListCmd, promptsShowCmd, promptsRenderCmd, promptsSetCmd, promptsDeleteCmd)

	promptsListCmd.Flags().String("category", "", "Only list templates in this category")
	promptsListCmd.Flags().Bool("json", false, "Output as JSON")
	promptsShowCmd.Flags().Bool("json", false, "Output as JSON")
	promptsRenderCmd.Flags().StringArray("var", nil, "Template variable as key=value (repeatable)")
	promptsSetCmd.Flags().String("file", "", "Read the template content from a file")
	promptsSetCmd.Flags().String("content", "", "Template content")
	promptsSetCmd.Flags().String("description", "", "Template description")
	promptsSetCmd.Flags().String("category", "", "Template category (default: derived from the name)")
}

func loadResolver() (*prompt.Resolver, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	resolver, err := prompt.NewResolver(cfg.PromptTemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompt templates: %w", err)
	}
	return resolver, nil
}

func runPromptsList(cmd *cobra.Command, args []string) error {
	category, _ := cmd.Flags().GetString("category")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	resolver, err := loadResolver()
	if err != nil {
		return err
	}
	templates := resolver.List(category)

	if jsonOutput {
		return printJSON(templates)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tBUILTIN\tVARIABLES\tDESCRIPTION")
	for _, t := range templates {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
			t.Name, t.Category, t.Builtin, strings.Join(t.Variables, ","), t.Description)
	}
	return w.Flush()
}

func runPromptsShow(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	resolver, err := loadResolver()
	if err != nil {
		return err
	}
	t, ok := resolver.Get(args[0])
	if !ok {
		return fmt.Errorf("%w: %s", prompt.ErrTemplateNotFound, args[0])
	}

	if jsonOutput {
		return printJSON(t)
	}
	fmt.Printf("Name:        %s\n", t.Name)
	fmt.Printf("Category:    %s\n", t.Category)
	fmt.Printf("Builtin:     %t\n", t.Builtin)
	if t.Description != "" {
		fmt.Printf("Description: %s\n", t.Description)
	}
	if len(t.Variables) > 0 {
		fmt.Printf("Variables:   %s\n", strings.Join(t.Variables, ", "))
	}
	fmt.Println()
	fmt.Println(t.Content)
	return nil
}

func runPromptsRender(cmd *cobra.Command, args []string) error {
	pairs, _ := cmd.Flags().GetStringArray("var")

	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("invalid --var %q, expected key=value", pair)
		}
		vars[key] = value
	}

	resolver, err := loadResolver()
	if err != nil {
		return err
	}

	name := args[0]
	if resolved := resolver.Resolve(name); resolved != name {
		fallback := resolved
		if fallback == "" {
			fallback = "generic prompt"
		}
		fmt.Fprintf(os.Stderr, "Template %s not found, using %s\n", name, fallback)
	}
	fmt.Println(resolver.Render(name, vars))
	return nil
}

func runPromptsSet(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("prompts")

	file, _ := cmd.Flags().GetString("file")
	content, _ := cmd.Flags().GetString("content")
	description, _ := cmd.Flags().GetString("description")
	category, _ := cmd.Flags().GetString("category")

	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read template file: %w", err)
		}
		content = string(data)
	}
	if content == "" {
		return fmt.Errorf("template content is required (use --content or --file)")
	}

	resolver, err := loadResolver()
	if err != nil {
		return err
	}

	t, err := resolver.Set(prompt.Template{
		Name:        args[0],
		Content:     content,
		Description: description,
		Category:    category,
	})
	if err != nil {
		return err
	}

	log.Info().Str("template", t.Name).Strs("variables", t.Variables).Msg("Prompt template saved")
	fmt.Printf("Saved template %s (%s)\n", t.Name, t.Category)
	return nil
}

func runPromptsDelete(cmd *cobra.Command, args []string) error {
	resolver, err := loadResolver()
	if err != nil {
		return err
	}
	if err := resolver.Delete(args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted template %s\n", args[0])
	return nil
}
