package cache

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) putOp() huma.Operation {
	return huma.Operation{
		OperationID: "cache-put",
		Method:      http.MethodPut,
		Path:        "/api/v1/cache/{type}/{id}",
		Summary:     "Сохранить просмотренную сущность",
		Description: "Сохраняет снимок и отмечает время просмотра. После записи выполняется вытеснение.",
		Tags:        []string{"cache"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) putChildrenOp() huma.Operation {
	return huma.Operation{
		OperationID: "cache-put-children",
		Method:      http.MethodPut,
		Path:        "/api/v1/cache/{type}/{id}/children",
		Summary:     "Сохранить дочерние сущности",
		Tags:        []string{"cache"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) getOp() huma.Operation {
	return huma.Operation{
		OperationID: "cache-get",
		Method:      http.MethodGet,
		Path:        "/api/v1/cache/{type}/{id}",
		Summary:     "Получить сущность из кэша",
		Tags:        []string{"cache"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) getChildrenOp() huma.Operation {
	return huma.Operation{
		OperationID: "cache-get-children",
		Method:      http.MethodGet,
		Path:        "/api/v1/cache/{type}/{id}/children",
		Summary:     "Получить дочерние сущности из кэша",
		Tags:        []string{"cache"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) pinOp() huma.Operation {
	return huma.Operation{
		OperationID: "cache-pin",
		Method:      http.MethodPost,
		Path:        "/api/v1/cache/{type}/{id}/pin",
		Summary:     "Закрепить сущность",
		Description: "Исключает сущность из вытеснения и запрашивает постоянное хранение.",
		Tags:        []string{"cache"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) unpinOp() huma.Operation {
	return huma.Operation{
		OperationID: "cache-unpin",
		Method:      http.MethodDelete,
		Path:        "/api/v1/cache/{type}/{id}/pin",
		Summary:     "Снять закрепление",
		Tags:        []string{"cache"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) evictOp() huma.Operation {
	return huma.Operation{
		OperationID: "cache-evict",
		Method:      http.MethodPost,
		Path:        "/api/v1/cache/evict",
		Summary:     "Запустить вытеснение",
		Tags:        []string{"cache"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) statsOp() huma.Operation {
	return huma.Operation{
		OperationID: "cache-stats",
		Method:      http.MethodGet,
		Path:        "/api/v1/cache/stats",
		Summary:     "Количество записей по типам",
		Tags:        []string{"cache"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}
