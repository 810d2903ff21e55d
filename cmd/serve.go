package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/pixelpage/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves the artifact API and the /view pages on server.port (or PORT).
The process drains in-flight requests and closes its backends on SIGINT or
SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(app *server.App) error {
				return app.Run(cmd.Context())
			})
		},
	}
}
