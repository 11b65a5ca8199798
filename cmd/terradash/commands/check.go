package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/terradash/terradash/pkg/tfe"
)

func newCheckCommand() *cobra.Command {
	var skipAuth bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to the configured TFE server",
		Long: `Check that the configured TFE server is reachable and, unless
--skip-auth is given, that the token authenticates.

The reachability probe treats an HTTP 401 as success: the server answered,
only the credentials were rejected.`,
		Example: `  # Reachability and authentication
  terradash check

  # Reachability only
  terradash check --skip-auth`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			desc, err := loadDescriptor()
			if err != nil {
				return err
			}

			client, err := tfe.NewClient(desc, tfe.ClientOptions{Version: cmd.Root().Version})
			if err != nil {
				return err
			}
			defer client.Close()

			ctx := cmd.Context()

			if err := client.ValidateConnection(ctx); err != nil {
				return exitingOnCancel(err)
			}
			log.Info().Str("server", desc.NormalizedServerURL()).Msg("Server is reachable")

			if skipAuth {
				return nil
			}

			if err := client.Authenticate(ctx); err != nil {
				return exitingOnCancel(err)
			}
			log.Info().Str("organization", desc.Organization).Msg("Token authenticated")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipAuth, "skip-auth", false, "probe reachability without authenticating")

	return cmd
}
