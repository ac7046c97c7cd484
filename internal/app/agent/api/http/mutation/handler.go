package mutation

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/queue"
)

type Handler struct {
	service    mutation.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service mutation.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: mws,
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

// toHTTPError переводит ошибки очереди в ответы API.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, mutation.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, mutation.ErrInvalidMutation), errors.Is(err, entity.ErrInvalidEntity):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, mutation.ErrNotFailed):
		return huma.Error409Conflict(err.Error())
	}
	return huma.Error500InternalServerError("mutation queue error", err)
}

func (h *Handler) enqueue(ctx context.Context, input *enqueueInput) (*enqueueOutput, error) {
	id, err := h.service.Enqueue(ctx, mutation.EnqueueRequest{
		Operation:  input.Body.Operation,
		EntityType: entity.Type(input.Body.EntityType),
		EntityID:   input.Body.EntityID,
		Endpoint:   input.Body.Endpoint,
		Method:     input.Body.Method,
		Payload:    input.Body.Payload,
	})
	if err != nil {
		return nil, toHTTPError(err)
	}

	out := &enqueueOutput{}
	out.Body.ID = id
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
		h.log.Error("manual queue processing failed", "error", err)
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

// retry не возвращает элемент: планировщик может успеть отправить и
// удалить его до ответа.
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
