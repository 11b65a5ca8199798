package commands

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/terradash/terradash/pkg/tfe"
)

func newFetchCommand(version string) *cobra.Command {
	var (
		workspaceID  string
		runID        string
		metadataOnly bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch plan JSON for a run from TFE",
		Long: `Fetch the structured plan JSON for a run from Terraform Enterprise.

The retrieval runs the full pipeline: authenticate, resolve the run's plan,
resolve the redacted JSON download URL, and download the document. Transient
failures (rate limits, network blips, 5xx) are retried with exponential
backoff; authentication, permission, and not-found failures are reported
immediately with troubleshooting guidance.

The plan is held only in memory and printed to stdout.`,
		Example: `  # Fetch the run configured in the descriptor
  terradash fetch

  # Fetch a different run in the same workspace
  terradash fetch --run-id run-AbC123xyz9

  # Print derived metadata instead of the full document
  terradash fetch --metadata`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := loadDescriptor()
			if err != nil {
				return err
			}
			if workspaceID != "" {
				desc.WorkspaceID = workspaceID
			}
			if runID != "" {
				desc.RunID = runID
			}

			client, err := tfe.NewClient(desc, tfe.ClientOptions{Version: version})
			if err != nil {
				return err
			}
			defer client.Close()

			plan, err := client.GetPlanJSON(cmd.Context(), desc.WorkspaceID, desc.RunID)
			if err != nil {
				return exitingOnCancel(err)
			}

			log.Info().
				Str("workspace_id", desc.WorkspaceID).
				Str("run_id", desc.RunID).
				Msg("Plan retrieved")

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")

			if metadataOnly {
				return enc.Encode(client.PlanStore().Metadata())
			}
			return enc.Encode(plan)
		},
	}

	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "override the descriptor's workspace id")
	cmd.Flags().StringVar(&runID, "run-id", "", "override the descriptor's run id")
	cmd.Flags().BoolVar(&metadataOnly, "metadata", false, "print derived metadata instead of the plan document")

	return cmd
}
