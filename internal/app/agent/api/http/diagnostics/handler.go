package diagnostics

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/quota"
)

// Servicer состояние агента и ручной запуск отправки
type Servicer interface {
	Estimate(ctx context.Context) (quota.Estimate, error)
	Persist(ctx context.Context) (bool, error)
	Online() bool
	Drain(ctx context.Context) (mutation.ProcessReport, photo.ProcessReport, error)
}

type Handler struct {
	service    Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.estimateOp(), h.estimate)
	huma.Register(api, h.persistOp(), h.persist)
	huma.Register(api, h.statusOp(), h.status)
	huma.Register(api, h.syncOp(), h.sync)
}

func (h *Handler) readEstimate(ctx context.Context) (estimateResponse, error) {
	est, err := h.service.Estimate(ctx)
	if err != nil {
		h.log.Error("failed to estimate storage", "error", err)
		return estimateResponse{}, huma.Error500InternalServerError("failed to estimate storage", err)
	}
	return estimateResponse{Estimate: est, UsageRatio: est.UsageRatio()}, nil
}

func (h *Handler) estimate(ctx context.Context, _ *struct{}) (*estimateOutput, error) {
	est, err := h.readEstimate(ctx)
	if err != nil {
		return nil, err
	}
	return &estimateOutput{Body: est}, nil
}

func (h *Handler) persist(ctx context.Context, _ *struct{}) (*persistOutput, error) {
	granted, err := h.service.Persist(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("persistence request failed", err)
	}

	out := &persistOutput{}
	out.Body.Granted = granted
	return out, nil
}

func (h *Handler) status(ctx context.Context, _ *struct{}) (*statusOutput, error) {
	est, err := h.readEstimate(ctx)
	if err != nil {
		return nil, err
	}

	out := &statusOutput{}
	out.Body.Online = h.service.Online()
	out.Body.Storage = est
	return out, nil
}

func (h *Handler) sync(ctx context.Context, _ *struct{}) (*syncOutput, error) {
	mutations, photos, err := h.service.Drain(ctx)
	if err != nil {
		h.log.Error("manual sync failed", "error", err)
		return nil, huma.Error502BadGateway("sync failed", err)
	}

	out := &syncOutput{}
	out.Body.Mutations = mutations
	out.Body.Photos = photos
	return out, nil
}
