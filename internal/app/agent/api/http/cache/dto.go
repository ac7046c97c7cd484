package cache

import (
	"encoding/json"

	"fieldsync/internal/domain/entity"
)

type entityInput struct {
	Type string `path:"type" example:"workOrder" doc:"Тип сущности: property, unit, workOrder, task, note"`
	ID   string `path:"id" example:"W-1024" doc:"Идентификатор сущности в удаленной системе"`
}

type putInput struct {
	Type string `path:"type" example:"workOrder" doc:"Тип сущности"`
	ID   string `path:"id" example:"W-1024" doc:"Идентификатор сущности"`
	Body putRequest
}

type putRequest struct {
	Data json.RawMessage `json:"data" doc:"Снимок сущности в виде JSON"`
}

type putChildrenInput struct {
	Type string `path:"type" example:"property" doc:"Тип родительской сущности"`
	ID   string `path:"id" example:"P-7" doc:"Идентификатор родительской сущности"`
	Body putChildrenRequest
}

type putChildrenRequest struct {
	Children []entity.Child `json:"children" doc:"Дочерние сущности; сохраняются все или ни одной"`
}

type resultOutput struct {
	Body result
}

// result исход операции кэша. Ошибка хранилища не считается ошибкой запроса:
// приложение продолжает работу без кэша.
type result struct {
	OK        bool   `json:"ok"`
	Evicted   int    `json:"evicted" doc:"Сколько записей вытеснено после записи"`
	Persisted bool   `json:"persisted,omitempty" doc:"Получено ли разрешение на постоянное хранение"`
	Error     string `json:"error,omitempty"`
}

type getOutput struct {
	Body struct {
		Data json.RawMessage `json:"data"`
	}
}

type childrenOutput struct {
	Body struct {
		Items []json.RawMessage `json:"items"`
	}
}

type evictOutput struct {
	Body entity.EvictionReport
}

type statsOutput struct {
	Body struct {
		Types []entity.TypeStats `json:"types"`
	}
}
