package photo

import (
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/queue"
)

type enqueueInput struct {
	Body enqueueRequest
}

type enqueueRequest struct {
	EntityType  string `json:"entity_type" example:"workOrder" doc:"Тип сущности, к которой относится фотография"`
	EntityID    string `json:"entity_id" example:"W-1024" doc:"Идентификатор сущности"`
	FileName    string `json:"file_name" example:"leak.jpg" doc:"Имя файла"`
	ContentType string `json:"content_type,omitempty" example:"image/jpeg" doc:"MIME тип; определяется по содержимому, если не задан"`
	Data        string `json:"data" minLength:"1" doc:"Base64-encoded содержимое фотографии"`
}

type enqueueOutput struct {
	Body struct {
		ID       int64  `json:"id"`
		Checksum string `json:"checksum,omitempty" doc:"SHA-256 содержимого"`
	}
}

type listInput struct {
	Status string `query:"status" enum:"pending,processing,failed" default:"failed" doc:"Статус элементов"`
}

type listOutput struct {
	Body struct {
		Items []*photo.Item `json:"items"`
	}
}

type idInput struct {
	ID int64 `path:"id" example:"1" doc:"Идентификатор фотографии в очереди"`
}

type itemOutput struct {
	Body *photo.Item
}

type statsOutput struct {
	Body queue.Counts
}

type processOutput struct {
	Body photo.ProcessReport
}
