package main

import (
	"fmt"

	"CryptoAgent/internal/di"
	"CryptoAgent/pkg/config"

	"github.com/spf13/cobra"
)

// serveCmd runs the HTTP and websocket server until SIGINT/SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve chart panels over HTTP and websocket",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWithEnv(configPath)
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}

		app, err := di.InitializeApp(cfg)
		if err != nil {
			return fmt.Errorf("app initialization failed: %w", err)
		}
		return app.Run(cmd.Context())
	},
}
