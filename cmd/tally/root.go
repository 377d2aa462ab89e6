package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/tally/internal/api"
	"github.com/jackzampolin/tally/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
	traceCalls   bool
)

var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "Receipt OCR and categorization with local vision models",
	Long: `Tally turns photos of receipts into categorized line items.

The pipeline has two stages:
  - Extraction: a vision model transcribes the receipt into items
  - Categorization: a text model assigns each item one category

The same loop backs the budget tools: metrics are computed locally and a
text model turns them into advice, analysis, spending plans and period
comparisons.

Model output is validated against a JSON schema. Invalid output is sent
back to the model with corrective feedback until it passes or the retry
budget runs out.`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.tally/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "tally home directory (default: ~/.tally)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn, error",
	)
	rootCmd.PersistentFlags().BoolVar(
		&traceCalls, "trace", false, "record every model call to ~/.tally/traces as JSON lines",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// newLogger builds the process logger. Logs go to stderr so structured
// output on stdout stays parseable.
func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
