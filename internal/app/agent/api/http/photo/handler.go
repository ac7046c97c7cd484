package photo

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/queue"
)

type Handler struct {
	service      photo.Servicer
	maxBodyBytes int64
	log          *slog.Logger
	middleware   huma.Middlewares
}

// NewHandler maxSize ограничение размера одной фотографии; тело запроса
// ограничивается с учетом base64 кодирования.
func NewHandler(service photo.Servicer, maxSize int64, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:      service,
		maxBodyBytes: int64(base64.StdEncoding.EncodedLen(int(maxSize))) + 64<<10,
		log:          log,
		middleware:   mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.enqueueOp(), h.enqueue)
	huma.Register(api, h.listOp(), h.list)
	huma.Register(api, h.statsOp(), h.stats)
	huma.Register(api, h.processOp(), h.process)
	huma.Register(api, h.findOp(), h.find)
	huma.Register(api, h.retryOp(), h.retry)
	huma.Register(api, h.discardOp(), h.discard)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, photo.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, photo.ErrTooLarge):
		return huma.NewError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, photo.ErrInvalidPhoto), errors.Is(err, entity.ErrInvalidEntity):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, photo.ErrNotFailed):
		return huma.Error409Conflict(err.Error())
	}
	return huma.Error500InternalServerError("photo queue error", err)
}

func (h *Handler) enqueue(ctx context.Context, input *enqueueInput) (*enqueueOutput, error) {
	blob, err := base64.StdEncoding.DecodeString(input.Body.Data)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("Invalid base64 data: " + err.Error())
	}

	id, err := h.service.Enqueue(ctx, photo.EnqueueRequest{
		EntityType:  entity.Type(input.Body.EntityType),
		EntityID:    input.Body.EntityID,
		FileName:    input.Body.FileName,
		ContentType: input.Body.ContentType,
		Blob:        blob,
	})
	if err != nil {
		return nil, toHTTPError(err)
	}

	out := &enqueueOutput{}
	out.Body.ID = id
	if item, err := h.service.Get(ctx, id); err == nil {
		out.Body.Checksum = item.Checksum
	}
	return out, nil
}

func (h *Handler) list(ctx context.Context, input *listInput) (*listOutput, error) {
	items, err := h.service.List(ctx, queue.Status(input.Status))
	if err != nil {
		return nil, toHTTPError(err)
	}

	out := &listOutput{}
	out.Body.Items = items
	return out, nil
}

func (h *Handler) stats(ctx context.Context, _ *struct{}) (*statsOutput, error) {
	counts, err := h.service.Stats(ctx)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &statsOutput{Body: counts}, nil
}

func (h *Handler) process(ctx context.Context, _ *struct{}) (*processOutput, error) {
	report, err := h.service.ProcessQueue(ctx)
	if err != nil {
		h.log.Error("manual photo upload failed", "error", err)
		return nil, toHTTPError(err)
	}
	return &processOutput{Body: report}, nil
}

func (h *Handler) find(ctx context.Context, input *idInput) (*itemOutput, error) {
	item, err := h.service.Get(ctx, input.ID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &itemOutput{Body: item}, nil
}

func (h *Handler) retry(ctx context.Context, input *idInput) (*struct{}, error) {
	if err := h.service.Retry(ctx, input.ID); err != nil {
		return nil, toHTTPError(err)
	}
	return nil, nil
}

func (h *Handler) discard(ctx context.Context, input *idInput) (*struct{}, error) {
	if err := h.service.Discard(ctx, input.ID); err != nil {
		return nil, toHTTPError(err)
	}
	return nil, nil
}
