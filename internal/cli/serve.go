package cli

import (
	"github.com/spf13/cobra"

	"image-optimizer/internal/api"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("host") {
				a.cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				a.cfg.Server.Port = port
			}
			return api.Serve(cmd.Context(), a.cfg)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen address (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "listen port (default from config)")
	return cmd
}
