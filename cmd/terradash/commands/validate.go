package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/terradash/terradash/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate a TFE connection descriptor file",
		Long: `Validate a YAML connection descriptor against the expected schema.

This command checks:
  - Required fields (tfe_server, organization, token, workspace_id, run_id)
  - Field formats (server address, ws-/run- id prefixes, token charset)
  - Value ranges (timeout, retry_attempts)
  - Unknown keys and suspected placeholder values`,
		Example: `  # Validate the default descriptor
  terradash validate

  # Validate a specific file
  terradash validate ./staging.yaml

  # Machine-readable findings
  terradash validate --json ./staging.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) > 0 {
				path = args[0]
			}

			_, result, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(result)
			}

			printFindings(result.Errors)
			for _, warning := range result.Warnings {
				log.Warn().
					Str("field", warning.Field).
					Str("code", warning.Code).
					Msg(warning.Message)
			}

			if !result.Valid {
				return fmt.Errorf("%s has %d validation error(s)", path, len(result.Errors))
			}

			log.Info().Str("path", path).Int("warnings", len(result.Warnings)).Msg("Descriptor is valid")
			return nil
		},
	}

	return cmd
}
