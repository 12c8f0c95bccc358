package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/counsel/config"
	srv "github.com/mohammad-safakhou/counsel/internal/server"
)

func main() {
	var root = &cobra.Command{Use: "counsel"}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(configPath)
			if serveAddr != "" {
				cfg.Server.Address = serveAddr
			}
			return srv.Run(cfg)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")

	var migDir string
	var direction string
	var steps int
	var migrate = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dsn := os.Getenv("DATABASE_URL")
			if dsn == "" {
				cfg := config.LoadConfig(configPath)
				if d, err := cfg.Storage.Postgres.DSN(); err == nil {
					dsn = d
				}
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(serve, migrate)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
