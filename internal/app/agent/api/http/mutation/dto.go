package mutation

import (
	"encoding/json"

	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/queue"
)

type enqueueInput struct {
	Body enqueueRequest
}

type enqueueRequest struct {
	Operation  mutation.Operation `json:"operation" doc:"Вид изменения: create, update, delete"`
	EntityType string             `json:"entity_type" example:"task" doc:"Тип сущности"`
	EntityID   string             `json:"entity_id" example:"T-1" doc:"Идентификатор сущности"`
	Endpoint   string             `json:"endpoint" example:"/api/tasks/:id" doc:"Путь удаленного API; :id, {id} и {entityId} заменяются идентификатором"`
	Method     string             `json:"method,omitempty" enum:"POST,PUT,PATCH,DELETE" doc:"HTTP-метод; по умолчанию выбирается по виду изменения"`
	Payload    json.RawMessage    `json:"payload,omitempty" doc:"Тело запроса"`
}

type enqueueOutput struct {
	Body struct {
		ID int64 `json:"id" doc:"Идентификатор элемента очереди"`
	}
}

type listInput struct {
	Status string `query:"status" enum:"pending,processing,failed" default:"failed" doc:"Статус элементов"`
}

type listOutput struct {
	Body struct {
		Items []*mutation.Item `json:"items"`
	}
}

type idInput struct {
	ID int64 `path:"id" example:"1" doc:"Идентификатор элемента очереди"`
}

type itemOutput struct {
	Body *mutation.Item
}

type statsOutput struct {
	Body queue.Counts
}

type processOutput struct {
	Body mutation.ProcessReport
}
