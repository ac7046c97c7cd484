package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"fieldsync/internal/app/agent"
)

// row строка таблицы неудачных элементов, общая для обеих очередей
type row struct {
	ID        int64     `json:"id"`
	Entity    string    `json:"entity"`
	Target    string    `json:"target"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	CreatedAt time.Time `json:"created_at"`
}

// ops операции над конкретной очередью
type ops struct {
	noun    string
	failed  func(ctx context.Context, app *agent.App) ([]row, error)
	retry   func(ctx context.Context, app *agent.App, id int64) error
	discard func(ctx context.Context, app *agent.App, id int64) error
	process func(ctx context.Context, app *agent.App) (string, error)
}

var QueueCmd = newQueueCmd("queue", "Очередь изменений", mutationOps)

var PhotosCmd = newQueueCmd("photos", "Очередь фотографий", photoOps)

func newQueueCmd(use, short string, o ops) *cobra.Command {
	parent := &cobra.Command{
		Use:   use,
		Short: short,
		Long: fmt.Sprintf(`%s: просмотр неудачных элементов, повтор, удаление и ручная отправка.

Неудачные элементы не отправляются автоматически. Повтор возвращает элемент
в очередь, но следующая неудача снова переведет его в неудачные.`, short),
	}

	parent.AddCommand(&cobra.Command{
		Use:   "list-failed",
		Short: "Показать неудачные " + o.noun,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			rows, err := o.failed(cmd.Context(), app)
			if err != nil {
				return fmt.Errorf("ошибка чтения очереди: %w", err)
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			printRows(rows)
			return nil
		},
	})

	parent.AddCommand(&cobra.Command{
		Use:   "retry <id>",
		Short: "Повторить неудачный элемент",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := o.retry(cmd.Context(), app, id); err != nil {
				return fmt.Errorf("ошибка повтора: %w", err)
			}
			color.Green("✓ Элемент %d возвращен в очередь", id)
			return nil
		},
	})

	parent.AddCommand(&cobra.Command{
		Use:   "discard <id>",
		Short: "Удалить неудачный элемент без отправки",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := o.discard(cmd.Context(), app, id); err != nil {
				return fmt.Errorf("ошибка удаления: %w", err)
			}
			color.Yellow("Элемент %d удален из очереди", id)
			return nil
		},
	})

	parent.AddCommand(&cobra.Command{
		Use:   "process",
		Short: "Отправить готовые элементы сейчас",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFrom(cmd)
			if err != nil {
				return err
			}
			if err := app.CheckConnection(cmd.Context()); err != nil {
				color.Yellow("⚠️  Удаленный API недоступен: %v", err)
			}

			start := time.Now()
			summary, err := o.process(cmd.Context(), app)
			if err != nil {
				return fmt.Errorf("ошибка отправки: %w", err)
			}
			fmt.Println(summary)
			fmt.Printf("Время выполнения: %v\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	})

	return parent
}

func appFrom(cmd *cobra.Command) (*agent.App, error) {
	app, ok := agent.FromContext(cmd.Context())
	if !ok {
		return nil, fmt.Errorf("приложение не инициализировано")
	}
	return app, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("некорректный идентификатор: %q", s)
	}
	return id, nil
}

func printRows(rows []row) {
	if len(rows) == 0 {
		fmt.Println("Неудачных элементов нет")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tСущность\tКуда\tПопыток\tОшибка\tСоздан\t\n")
	fmt.Fprintf(w, "---\t---\t---\t---\t---\t---\t\n")
	for _, r := range rows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t\n",
			r.ID,
			r.Entity,
			r.Target,
			r.Attempts,
			truncate(r.LastError, 60),
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
	w.Flush()
	fmt.Printf("\nВсего: %d\n", len(rows))
}

func truncate(s string, length int) string {
	r := []rune(s)
	if len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}
