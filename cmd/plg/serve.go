package main

import (
	"github.com/cheetahbyte/plg/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background sweeper",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig("api")
		if err != nil {
			return err
		}
		logger.Info().Str("version", Version).Msg("Starting plg")
		return server.Run(cmd.Context(), cfg, logger)
	},
}
