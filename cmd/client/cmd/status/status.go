package status

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fieldsync/internal/app/agent"
	"fieldsync/internal/domain/quota"
)

const pressureThreshold = 0.8

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Состояние связи, хранилища и очередей",
	Long: `Проверяет доступность удаленного API и выводит оценку занятого
места, разрешение на постоянное хранение и размеры обеих очередей.

Заполненность хранилища выше 80% выделяется: при нехватке места
хост-окружение может удалить данные, не закрепленные постоянным хранением.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, ok := agent.FromContext(cmd.Context())
		if !ok {
			return fmt.Errorf("приложение не инициализировано")
		}
		ctx := cmd.Context()

		connErr := app.CheckConnection(ctx)

		est, err := app.Estimate(ctx)
		if err != nil {
			return fmt.Errorf("ошибка оценки хранилища: %w", err)
		}
		mutations, err := app.Mutations.Stats(ctx)
		if err != nil {
			return fmt.Errorf("ошибка чтения очереди изменений: %w", err)
		}
		photos, err := app.Photos.Stats(ctx)
		if err != nil {
			return fmt.Errorf("ошибка чтения очереди фотографий: %w", err)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"online":    connErr == nil,
				"driver":    app.Driver(),
				"storage":   est,
				"mutations": mutations,
				"photos":    photos,
			})
		}

		fmt.Println("=== Состояние fieldsync ===")
		fmt.Printf("Хранилище: %s\n", app.Driver())

		fmt.Print("Удаленный API: ")
		if connErr != nil {
			color.Red("недоступен (%v)", connErr)
		} else {
			color.Green("доступен")
		}

		printStorage(est)

		fmt.Println()
		fmt.Println("Очередь изменений:")
		fmt.Printf("  ожидают: %d, отправляются: %d, ", mutations.Pending, mutations.Processing)
		printFailed(mutations.Failed)

		fmt.Println("Очередь фотографий:")
		fmt.Printf("  ожидают: %d, отправляются: %d, ", photos.Pending, photos.Processing)
		printFailed(photos.Failed)

		return nil
	},
}

func printStorage(est quota.Estimate) {
	fmt.Println()
	fmt.Println("Локальное хранилище:")
	fmt.Printf("  занято: %s", formatBytes(est.Usage))
	if est.Quota > 0 {
		ratio := est.UsageRatio()
		line := fmt.Sprintf(" из %s (%.1f%%)", formatBytes(est.Quota), ratio*100)
		if ratio >= pressureThreshold {
			color.New(color.FgYellow).Println(line)
		} else {
			fmt.Println(line)
		}
	} else {
		fmt.Println(" (квота неизвестна)")
	}

	fmt.Print("  постоянное хранение: ")
	if est.Persisted {
		color.Green("получено")
	} else {
		color.Yellow("не получено")
	}
	fmt.Printf("  сущностей в кэше: %d\n", est.Entities)
	fmt.Printf("  фотографий: %d (%s)\n", est.Photos, formatBytes(est.PhotoBytes))
}

func printFailed(n int) {
	if n > 0 {
		color.Red("неудачных: %d", n)
		return
	}
	fmt.Println("неудачных: 0")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
