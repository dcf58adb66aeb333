package main

import (
	"github.com/cheetahbyte/plg/internal/config"
	"github.com/cheetahbyte/plg/internal/logging"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "plg",
	Short: "Licensing backend for product-led growth",
	Long: `plg serves license activation, trials, Stripe checkout and the customer
portal, with Keygen as the enforcement authority.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig reads the environment and sets up logging for commands that
// need the full configuration.
func loadConfig(component string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	logger := logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: component,
	})
	return cfg, logger, nil
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, keysCmd, licenseCmd, versionCmd)
}
