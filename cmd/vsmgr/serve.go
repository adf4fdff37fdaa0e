package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	vintagestory "github.com/craquehouse/vintagestory-server-sub000"
)

const shutdownGrace = 40 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the manager daemon",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := vintagestory.LoadConfig(configPath)
			if err != nil {
				return err
			}
			d, err := vintagestory.NewDaemon(cfg)
			if err != nil {
				return err
			}
			if err := d.Start(); err != nil {
				return err
			}
			slog.Info("daemon started", "listen", cfg.HTTP.Listen, "root", cfg.Root)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			s := <-sig
			slog.Info("shutting down", "signal", s.String())

			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return d.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "vsmgr.toml", "path to the TOML config file")
	return cmd
}
