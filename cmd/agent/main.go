package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fieldsync/internal/app/agent"
	"fieldsync/internal/config"
	"fieldsync/internal/utils/logger"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "fieldsync-agent",
	Short:         "Локальный агент синхронизации fieldsync",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.MustLoad(configFile)
		log := logger.WithLevel(cfg.Env, cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		app, err := agent.New(ctx, cfg, log, agent.WithMemoryFallback())
		if err != nil {
			return fmt.Errorf("start agent: %w", err)
		}
		defer app.Close()

		log.Info("agent started", "env", cfg.Env, "driver", app.Driver(), "remote", cfg.Remote.BaseURL)

		if err := app.Run(ctx); err != nil {
			return err
		}

		log.Info("agent stopped")
		return nil
	},
}

func main() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "path to config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
