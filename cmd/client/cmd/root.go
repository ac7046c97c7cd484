package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"

	cacheCmd "fieldsync/cmd/client/cmd/cache"
	queueCmd "fieldsync/cmd/client/cmd/queue"
	statusCmd "fieldsync/cmd/client/cmd/status"
	"fieldsync/internal/app/agent"
	"fieldsync/internal/config"
	"fieldsync/internal/utils/logger"
)

var (
	cfgFile string
	app     *agent.App
)

var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "fieldsync - управление локальным кэшем и очередями синхронизации",
	Long: `fieldsync работает с тем же локальным хранилищем, что и агент:
показывает неудачные изменения и фотографии, повторяет или отбрасывает их,
запускает отправку очередей и сообщает, сколько места занято.

Команды безопасно выполнять при работающем агенте.`,
	PersistentPreRunE:  setupApp,
	PersistentPostRunE: closeApp,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
	}

	log := logger.WithLevel(cfg.Env, cfg.LogLevel)
	if debug, _ := cmd.Flags().GetBool("debug"); !debug {
		// вывод команд не должен перемешиваться с журналом
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err = agent.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("ошибка инициализации приложения: %w", err)
	}

	cmd.SetContext(agent.WithApp(ctx, app))
	return nil
}

func closeApp(_ *cobra.Command, _ []string) error {
	if app == nil {
		return nil
	}
	return app.Close()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "конфигурационный файл")
	rootCmd.PersistentFlags().Bool("debug", false, "писать журнал работы в stderr")
	rootCmd.PersistentFlags().Bool("json", false, "вывод в формате JSON")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd.StatusCmd)
	rootCmd.AddCommand(queueCmd.QueueCmd)
	rootCmd.AddCommand(queueCmd.PhotosCmd)
	rootCmd.AddCommand(cacheCmd.CacheCmd)
}
