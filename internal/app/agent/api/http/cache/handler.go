package cache

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/entity"
)

type Handler struct {
	service    entity.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service entity.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.statsOp(), h.stats)
	huma.Register(api, h.evictOp(), h.evict)
	huma.Register(api, h.putOp(), h.put)
	huma.Register(api, h.getOp(), h.get)
	huma.Register(api, h.putChildrenOp(), h.putChildren)
	huma.Register(api, h.getChildrenOp(), h.getChildren)
	huma.Register(api, h.pinOp(), h.pin)
	huma.Register(api, h.unpinOp(), h.unpin)
}

func parseType(s string) (entity.Type, error) {
	t, err := entity.ParseType(s)
	if err != nil {
		return "", huma.Error422UnprocessableEntity(err.Error())
	}
	return t, nil
}

// toOutput переводит Result в ответ. Некорректный ввод и отсутствие записи
// возвращаются как ошибки запроса, сбои хранилища только в теле ответа.
func toOutput(res entity.Result) (*resultOutput, error) {
	switch {
	case errors.Is(res.Err, entity.ErrInvalidEntity):
		return nil, huma.Error422UnprocessableEntity(res.Err.Error())
	case errors.Is(res.Err, entity.ErrNotFound):
		return nil, huma.Error404NotFound("entity is not cached")
	}

	out := &resultOutput{Body: result{
		OK:        res.OK(),
		Evicted:   res.Evicted,
		Persisted: res.Persisted,
	}}
	if res.Err != nil {
		out.Body.Error = res.Err.Error()
	}
	return out, nil
}

func (h *Handler) put(ctx context.Context, input *putInput) (*resultOutput, error) {
	t, err := parseType(input.Type)
	if err != nil {
		return nil, err
	}
	return toOutput(h.service.CacheEntityOnView(ctx, t, input.ID, input.Body.Data))
}

func (h *Handler) putChildren(ctx context.Context, input *putChildrenInput) (*resultOutput, error) {
	t, err := parseType(input.Type)
	if err != nil {
		return nil, err
	}
	return toOutput(h.service.CacheChildren(ctx, t, input.ID, input.Body.Children))
}

func (h *Handler) get(ctx context.Context, input *entityInput) (*getOutput, error) {
	t, err := parseType(input.Type)
	if err != nil {
		return nil, err
	}

	data, res := h.service.GetCachedEntity(ctx, t, input.ID)
	if res.Err != nil {
		return nil, huma.Error503ServiceUnavailable("cache is unavailable", res.Err)
	}
	if data == nil {
		return nil, huma.Error404NotFound("entity is not cached")
	}

	out := &getOutput{}
	out.Body.Data = data
	return out, nil
}

func (h *Handler) getChildren(ctx context.Context, input *entityInput) (*childrenOutput, error) {
	t, err := parseType(input.Type)
	if err != nil {
		return nil, err
	}

	items, res := h.service.GetCachedChildren(ctx, t, input.ID)
	if res.Err != nil {
		return nil, huma.Error503ServiceUnavailable("cache is unavailable", res.Err)
	}

	out := &childrenOutput{}
	out.Body.Items = items
	return out, nil
}

func (h *Handler) pin(ctx context.Context, input *entityInput) (*resultOutput, error) {
	t, err := parseType(input.Type)
	if err != nil {
		return nil, err
	}
	return toOutput(h.service.PinEntity(ctx, t, input.ID))
}

func (h *Handler) unpin(ctx context.Context, input *entityInput) (*resultOutput, error) {
	t, err := parseType(input.Type)
	if err != nil {
		return nil, err
	}
	return toOutput(h.service.UnpinEntity(ctx, t, input.ID))
}

func (h *Handler) evict(ctx context.Context, _ *struct{}) (*evictOutput, error) {
	report, err := h.service.EvictStaleEntities(ctx)
	if err != nil {
		h.log.Error("eviction failed", "error", err)
		return nil, huma.Error500InternalServerError("eviction failed", err)
	}
	return &evictOutput{Body: report}, nil
}

func (h *Handler) stats(ctx context.Context, _ *struct{}) (*statsOutput, error) {
	stats, err := h.service.Stats(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to read cache stats", err)
	}

	out := &statsOutput{}
	out.Body.Types = stats
	return out, nil
}
