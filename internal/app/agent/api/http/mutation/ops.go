package mutation

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) enqueueOp() huma.Operation {
	return huma.Operation{
		OperationID:   "mutations-enqueue",
		Method:        http.MethodPost,
		Path:          "/api/v1/mutations",
		Summary:       "Поставить изменение в очередь",
		Description:   "Изменение сохраняется до ответа. Ответ 201 означает, что изменение будет отправлено.",
		Tags:          []string{"mutations"},
		DefaultStatus: http.StatusCreated,
		Security:      []map[string][]string{{"bearer": {}}},
		Middlewares:   h.middleware,
	}
}

func (h *Handler) listOp() huma.Operation {
	return huma.Operation{
		OperationID: "mutations-list",
		Method:      http.MethodGet,
		Path:        "/api/v1/mutations",
		Summary:     "Список элементов очереди по статусу",
		Tags:        []string{"mutations"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) statsOp() huma.Operation {
	return huma.Operation{
		OperationID: "mutations-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/mutations/stats",
		Summary:     "Количество элементов по статусам",
		Tags:        []string{"mutations"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) processOp() huma.Operation {
	return huma.Operation{
		OperationID: "mutations-process",
		Method:      http.MethodPost,
		Path:        "/api/v1/mutations/process",
		Summary:     "Отправить готовые изменения",
		Tags:        []string{"mutations"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) findOp() huma.Operation {
	return huma.Operation{
		OperationID: "mutations-find",
		Method:      http.MethodGet,
		Path:        "/api/v1/mutations/{id}",
		Summary:     "Получить элемент очереди",
		Tags:        []string{"mutations"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) retryOp() huma.Operation {
	return huma.Operation{
		OperationID:   "mutations-retry",
		Method:        http.MethodPost,
		Path:          "/api/v1/mutations/{id}/retry",
		Summary:       "Повторить неудавшееся изменение",
		Description:   "Возвращает failed-элемент в очередь. Следующая неудача снова переведет его в failed.",
		Tags:          []string{"mutations"},
		DefaultStatus: http.StatusAccepted,
		Security:      []map[string][]string{{"bearer": {}}},
		Middlewares:   h.middleware,
	}
}

func (h *Handler) discardOp() huma.Operation {
	return huma.Operation{
		OperationID:   "mutations-discard",
		Method:        http.MethodDelete,
		Path:          "/api/v1/mutations/{id}",
		Summary:       "Отбросить неудавшееся изменение",
		Tags:          []string{"mutations"},
		DefaultStatus: http.StatusNoContent,
		Security:      []map[string][]string{{"bearer": {}}},
		Middlewares:   h.middleware,
	}
}
