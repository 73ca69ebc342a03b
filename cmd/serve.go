package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lodestone-ai/lodestone/api"
	"github.com/lodestone-ai/lodestone/internal/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	addr := serveAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}

	srv := api.NewServer(api.ServerConfig{
		Engine:     a.Engine,
		Worker:     a.Worker,
		Pool:       a.Pool,
		Logger:     logger,
		TrustProxy: cfg.TrustProxy,
	})
	return srv.Run(ctx, addr)
}
