package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"TradeScanner/internal/app"
	"TradeScanner/internal/config"
	"TradeScanner/internal/logging"
	"TradeScanner/internal/usecase"
)

var (
	cfgFile     string
	verbose     bool
	dryRun      bool
	fetchOnly   bool
	noPrefilter bool
	fullText    bool
	clearCache  bool
	modelName   string
)

var rootCmd = &cobra.Command{
	Use:   "tradescanner",
	Short: "Extracts structured trade actions from CSMS bulletins",
	Long: `tradescanner parses CSMS archive PDFs, resolves each bulletin's short
link to full text, and classifies trade actions via the Anthropic API,
caching aggressively to avoid redundant network and API work.`,
	RunE: run,
}

func run(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(cfgFile)

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger := logging.New(level)

	model, err := resolveModel(cfg, modelName)
	if err != nil {
		return err
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}

	return application.Run(cmd.Context(), usecase.Options{
		DryRun:     dryRun,
		FetchOnly:  fetchOnly,
		Prefilter:  !noPrefilter,
		Truncation: !fullText,
		Model:      model,
		ClearCache: clearCache,
	})
}

// resolveModel maps the --model alias onto a configured model name.
func resolveModel(cfg config.Config, name string) (string, error) {
	switch name {
	case "", "haiku":
		return cfg.Claude.DefaultModel, nil
	case "sonnet":
		return cfg.Claude.SonnetModel, nil
	default:
		return "", fmt.Errorf("unknown model %q: choose haiku or sonnet", name)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default from TRADESCANNER_CONFIG)")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be processed; no downloads, no API calls")
	rootCmd.Flags().BoolVar(&fetchOnly, "fetch-only", false, "fetch bulletin texts but skip classification")
	rootCmd.Flags().BoolVar(&noPrefilter, "no-prefilter", false, "disable keyword pre-filtering")
	rootCmd.Flags().BoolVar(&fullText, "full-text", false, "disable smart truncation (caps at the full-text token budget)")
	rootCmd.Flags().BoolVar(&clearCache, "clear-cache", false, "delete all cached classifications before running")
	rootCmd.Flags().StringVar(&modelName, "model", "haiku", "model to use for classification (haiku or sonnet)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(*cobra.Command, []string) {
			fmt.Printf("tradescanner version %s\n", config.Version)
		},
	})
}

func main() {
	// Load .env early so ANTHROPIC_API_KEY and friends are available.
	_ = godotenv.Load()

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
