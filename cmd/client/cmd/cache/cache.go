package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fieldsync/internal/app/agent"
	"fieldsync/internal/domain/entity"
)

// CacheCmd родительская команда операций с кэшем сущностей
var CacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Кэш сущностей",
	Long: `Просмотр и обслуживание локального кэша сущностей.

Закрепленные сущности не вытесняются ни по сроку давности, ни по лимиту
количества записей.`,
}

var evictCmd = &cobra.Command{
	Use:   "evict",
	Short: "Удалить устаревшие и лишние записи",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}
		report, err := app.Cache.EvictStaleEntities(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка вытеснения: %w", err)
		}

		fmt.Printf("Удалено устаревших: %d\n", report.Stale)
		for _, t := range entity.Types {
			if n := report.ByType[t]; n > 0 {
				fmt.Printf("Удалено сверх лимита (%s): %d\n", t, n)
			}
		}
		fmt.Printf("Всего: %d\n", report.Total())
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Заполненность кэша по типам",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}
		stats, err := app.Cache.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("ошибка чтения статистики: %w", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Тип\tЗаписей\tЗакреплено\tЛимит\t\n")
		fmt.Fprintf(w, "---\t---\t---\t---\t\n")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t\n", s.EntityType, s.Count, s.Pinned, s.Limit)
		}
		return w.Flush()
	},
}

var getCmd = &cobra.Command{
	Use:   "get <type> <id>",
	Short: "Показать закэшированную сущность",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}
		t, err := entity.ParseType(args[0])
		if err != nil {
			return err
		}

		data, res := app.Cache.GetCachedEntity(cmd.Context(), t, args[1])
		if !res.OK() {
			return fmt.Errorf("ошибка чтения кэша: %w", res.Err)
		}
		if data == nil {
			return fmt.Errorf("%s/%s нет в кэше", t, args[1])
		}

		var out bytes.Buffer
		if err := json.Indent(&out, data, "", "  "); err != nil {
			out.Reset()
			out.Write(data)
		}
		fmt.Println(out.String())
		return nil
	},
}

var pinCmd = &cobra.Command{
	Use:   "pin <type> <id>",
	Short: "Закрепить сущность для работы без связи",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}
		t, err := entity.ParseType(args[0])
		if err != nil {
			return err
		}

		res := app.Cache.PinEntity(cmd.Context(), t, args[1])
		if err := describe(res.Err, t, args[1]); err != nil {
			return err
		}
		color.Green("✓ %s/%s закреплена", t, args[1])
		if !res.Persisted {
			color.Yellow("⚠️  Постоянное хранение не получено: данные могут быть удалены при нехватке места")
		}
		return nil
	},
}

var unpinCmd = &cobra.Command{
	Use:   "unpin <type> <id>",
	Short: "Снять закрепление",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := appFrom(cmd)
		if err != nil {
			return err
		}
		t, err := entity.ParseType(args[0])
		if err != nil {
			return err
		}

		res := app.Cache.UnpinEntity(cmd.Context(), t, args[1])
		if err := describe(res.Err, t, args[1]); err != nil {
			return err
		}
		fmt.Printf("%s/%s больше не закреплена\n", t, args[1])
		return nil
	},
}

func describe(err error, t entity.Type, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, entity.ErrNotFound):
		return fmt.Errorf("%s/%s нет в кэше", t, id)
	default:
		return fmt.Errorf("ошибка кэша: %w", err)
	}
}

func appFrom(cmd *cobra.Command) (*agent.App, error) {
	app, ok := agent.FromContext(cmd.Context())
	if !ok {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return app, nil
}

func init() {
	CacheCmd.AddCommand(evictCmd)
	CacheCmd.AddCommand(statsCmd)
	CacheCmd.AddCommand(getCmd)
	CacheCmd.AddCommand(pinCmd)
	CacheCmd.AddCommand(unpinCmd)
}
