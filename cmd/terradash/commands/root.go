package commands

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/terradash/terradash/pkg/config"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "terradash",
		Short: "Terradash - Terraform Enterprise plan retrieval",
		Long: `Terradash retrieves Terraform plan JSON from Terraform Enterprise or
Terraform Cloud and keeps it only in time-boxed process memory.

Features:
  - Descriptor validation with actionable findings
  - Retrying TFE API pipeline (auth, run, plan, download)
  - Classified errors with troubleshooting guidance
  - Memory-only secret handling with idle-timeout wipe
  - JSON HTTP API for dashboard frontends`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "terradash.yaml", "descriptor file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newFetchCommand(version))
	rootCmd.AddCommand(newServeCommand(version))

	return rootCmd
}

// loadDescriptor loads and validates the descriptor file, applying env-var
// overrides. Validation findings are logged; a descriptor is returned only
// when validation passes.
func loadDescriptor() (*config.Descriptor, error) {
	desc, result, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", configPath, err)
	}
	desc.ApplyEnv()

	for _, warning := range result.Warnings {
		log.Warn().
			Str("field", warning.Field).
			Str("code", warning.Code).
			Msg(warning.Message)
	}
	if !result.Valid {
		printFindings(result.Errors)
		return nil, fmt.Errorf("descriptor %s has %d validation error(s)", configPath, len(result.Errors))
	}
	return desc, nil
}

func printFindings(findings []config.FieldError) {
	for _, f := range findings {
		ev := log.Error().Str("field", f.Field).Str("code", f.Code)
		if f.Suggestion != "" {
			ev = ev.Str("suggestion", f.Suggestion)
		}
		ev.Msg(f.Message)
	}
}

// exitingOnCancel turns context cancellation into a clean message instead of
// a raw error for interactive commands.
func exitingOnCancel(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "aborted")
		return nil
	}
	return err
}
