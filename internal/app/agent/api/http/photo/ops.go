package photo

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) enqueueOp() huma.Operation {
	return huma.Operation{
		OperationID:   "photos-enqueue",
		Method:        http.MethodPost,
		Path:          "/api/v1/photos",
		Summary:       "Поставить фотографию в очередь загрузки",
		Description:   "Содержимое сохраняется локально до ответа и загружается, когда появится связь.",
		Tags:          []string{"photos"},
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  h.maxBodyBytes,
		Security:      []map[string][]string{{"bearer": {}}},
		Middlewares:   h.middleware,
	}
}

func (h *Handler) listOp() huma.Operation {
	return huma.Operation{
		OperationID: "photos-list",
		Method:      http.MethodGet,
		Path:        "/api/v1/photos",
		Summary:     "Список фотографий в очереди по статусу",
		Tags:        []string{"photos"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) statsOp() huma.Operation {
	return huma.Operation{
		OperationID: "photos-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/photos/stats",
		Summary:     "Количество фотографий по статусам",
		Tags:        []string{"photos"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) processOp() huma.Operation {
	return huma.Operation{
		OperationID: "photos-process",
		Method:      http.MethodPost,
		Path:        "/api/v1/photos/process",
		Summary:     "Загрузить готовые фотографии",
		Tags:        []string{"photos"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) findOp() huma.Operation {
	return huma.Operation{
		OperationID: "photos-find",
		Method:      http.MethodGet,
		Path:        "/api/v1/photos/{id}",
		Summary:     "Получить фотографию в очереди",
		Tags:        []string{"photos"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) retryOp() huma.Operation {
	return huma.Operation{
		OperationID:   "photos-retry",
		Method:        http.MethodPost,
		Path:          "/api/v1/photos/{id}/retry",
		Summary:       "Повторить неудавшуюся загрузку",
		Tags:          []string{"photos"},
		DefaultStatus: http.StatusAccepted,
		Security:      []map[string][]string{{"bearer": {}}},
		Middlewares:   h.middleware,
	}
}

func (h *Handler) discardOp() huma.Operation {
	return huma.Operation{
		OperationID:   "photos-discard",
		Method:        http.MethodDelete,
		Path:          "/api/v1/photos/{id}",
		Summary:       "Отбросить неудавшуюся загрузку",
		Tags:          []string{"photos"},
		DefaultStatus: http.StatusNoContent,
		Security:      []map[string][]string{{"bearer": {}}},
		Middlewares:   h.middleware,
	}
}
