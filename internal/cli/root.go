// Package cli implements the ctxbudget command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/youssefsiam38/ctxbudget"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Output helpers.
	successIcon = color.New(color.FgGreen).Sprint("✓")
	warningIcon = color.New(color.FgYellow).Sprint("⚠")
	errorIcon   = color.New(color.FgRed).Sprint("✗")

	success = color.New(color.FgGreen).SprintFunc()
	warning = color.New(color.FgYellow).SprintFunc()
	info    = color.New(color.FgCyan).SprintFunc()
	dim     = color.New(color.Faint).SprintFunc()
	bold    = color.New(color.Bold).SprintFunc()
)

// ConfigEnv names the environment variable read when --config is not set.
const ConfigEnv = "CTXBUDGET_CONFIG"

type globalOptions struct {
	configPath string
	verbose    bool
	jsonOutput bool

	// config, when set, replaces the file lookup.
	config *ctxbudget.Config
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "ctxbudget",
		Short: "Measure, compress and checkpoint an agent's context budget",
		Long: `ctxbudget estimates token usage of conversation snapshots, finds wasteful
content, compresses it and stores restorable checkpoints.

Snapshots are JSON documents (comments and trailing commas allowed) with
sections, turns, files and tool results. Pass "-" to read from stdin.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML or TOML config file (default $"+ConfigEnv+")")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "print machine-readable JSON")

	rootCmd.AddCommand(NewCountCmd(opts))
	rootCmd.AddCommand(NewAnalyzeCmd(opts))
	rootCmd.AddCommand(NewCompressCmd(opts))
	rootCmd.AddCommand(NewOptimizeCmd(opts))
	rootCmd.AddCommand(NewBudgetCmd(opts))
	rootCmd.AddCommand(NewCheckpointCmd(opts))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

// NewVersionCmd creates the version command.
func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ctxbudget %s\n", Version)
		},
	}
}

// Execute runs the CLI.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorIcon, err.Error())
		return err
	}
	return nil
}

// loadConfig reads the config named by --config or $CTXBUDGET_CONFIG, or
// returns the defaults when neither is set.
func (o *globalOptions) loadConfig() (*ctxbudget.Config, error) {
	if o.config != nil {
		return o.config, nil
	}
	path := o.configPath
	if path == "" {
		path = os.Getenv(ConfigEnv)
	}
	if path == "" {
		return ctxbudget.DefaultConfig(), nil
	}
	return ctxbudget.LoadConfig(path)
}

// withConfig returns a copy of o that uses config instead of loading one.
func (o *globalOptions) withConfig(config *ctxbudget.Config) *globalOptions {
	out := *o
	out.config = config
	return &out
}

func (o *globalOptions) logger() *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// newClient builds a client from the loaded config. The summarizer is wired
// to Claude when ANTHROPIC_API_KEY is set.
func (o *globalOptions) newClient(cmd *cobra.Command) (*ctxbudget.Client, error) {
	config, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	opts := []ctxbudget.Option{ctxbudget.WithLogger(o.logger())}
	if o.verbose {
		opts = append(opts, ctxbudget.WithVerboseLogging())
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(apiKey))
		opts = append(opts, ctxbudget.WithAnthropicClient(&client))
	}

	return ctxbudget.New(cmd.Context(), config, opts...)
}
