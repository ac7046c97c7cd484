package diagnostics

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) estimateOp() huma.Operation {
	return huma.Operation{
		OperationID: "storage-estimate",
		Method:      http.MethodGet,
		Path:        "/api/v1/storage",
		Summary:     "Оценка занятого места",
		Tags:        []string{"diagnostics"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) persistOp() huma.Operation {
	return huma.Operation{
		OperationID: "storage-persist",
		Method:      http.MethodPost,
		Path:        "/api/v1/storage/persist",
		Summary:     "Запросить постоянное хранение",
		Tags:        []string{"diagnostics"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) statusOp() huma.Operation {
	return huma.Operation{
		OperationID: "agent-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/status",
		Summary:     "Состояние связи и хранилища",
		Tags:        []string{"diagnostics"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) syncOp() huma.Operation {
	return huma.Operation{
		OperationID: "agent-sync",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync",
		Summary:     "Отправить обе очереди",
		Description: "Сначала отправляются изменения, затем фотографии.",
		Tags:        []string{"diagnostics"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}
