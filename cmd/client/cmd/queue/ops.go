package queue

import (
	"context"
	"fmt"

	"fieldsync/internal/app/agent"
)

var mutationOps = ops{
	noun: "изменения",
	failed: func(ctx context.Context, app *agent.App) ([]row, error) {
		items, err := app.Mutations.ListFailed(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]row, 0, len(items))
		for _, it := range items {
			rows = append(rows, row{
				ID:        it.ID,
				Entity:    fmt.Sprintf("%s/%s", it.EntityType, it.EntityID),
				Target:    it.Method + " " + it.Endpoint,
				Attempts:  it.RetryCount,
				LastError: it.LastError,
				CreatedAt: it.CreatedAt,
			})
		}
		return rows, nil
	},
	retry: func(ctx context.Context, app *agent.App, id int64) error {
		return app.Mutations.Retry(ctx, id)
	},
	discard: func(ctx context.Context, app *agent.App, id int64) error {
		return app.Mutations.Discard(ctx, id)
	},
	process: func(ctx context.Context, app *agent.App) (string, error) {
		r, err := app.ProcessMutations(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Отправлено: %d из %d, отложено: %d, неудачных: %d, ждут своей очереди: %d",
			r.Succeeded, r.Attempted, r.Retried, r.Failed, r.Skipped), nil
	},
}

var photoOps = ops{
	noun: "фотографии",
	failed: func(ctx context.Context, app *agent.App) ([]row, error) {
		items, err := app.Photos.ListFailed(ctx)
		if err != nil {
			return nil, err
		}
		rows := make([]row, 0, len(items))
		for _, it := range items {
			rows = append(rows, row{
				ID:        it.ID,
				Entity:    fmt.Sprintf("%s/%s", it.EntityType, it.EntityID),
				Target:    it.FileName,
				Attempts:  it.RetryCount,
				LastError: it.LastError,
				CreatedAt: it.CreatedAt,
			})
		}
		return rows, nil
	},
	retry: func(ctx context.Context, app *agent.App, id int64) error {
		return app.Photos.Retry(ctx, id)
	},
	discard: func(ctx context.Context, app *agent.App, id int64) error {
		return app.Photos.Discard(ctx, id)
	},
	process: func(ctx context.Context, app *agent.App) (string, error) {
		r, err := app.ProcessPhotos(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Загружено: %d из %d (%d байт), отложено: %d, неудачных: %d",
			r.Uploaded, r.Attempted, r.Bytes, r.Retried, r.Failed), nil
	},
}
