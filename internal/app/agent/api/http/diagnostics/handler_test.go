package diagnostics

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/quota"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Estimate(ctx context.Context) (quota.Estimate, error) {
	args := m.Called(ctx)
	return args.Get(0).(quota.Estimate), args.Error(1)
}

func (m *MockService) Persist(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockService) Online() bool {
	return m.Called().Bool(0)
}

func (m *MockService) Drain(ctx context.Context) (mutation.ProcessReport, photo.ProcessReport, error) {
	args := m.Called(ctx)
	return args.Get(0).(mutation.ProcessReport), args.Get(1).(photo.ProcessReport), args.Error(2)
}

func TestHandler_Status(t *testing.T) {
	ctx := context.Background()
	svc := new(MockService)
	h := NewHandler(svc, slog.Default(), nil)

	svc.On("Estimate", ctx).Return(quota.Estimate{Usage: 25, Quota: 100, Persisted: true, Mutations: 3}, nil)
	svc.On("Online").Return(true)

	out, err := h.status(ctx, nil)
	require.NoError(t, err)
	assert.True(t, out.Body.Online)
	assert.Equal(t, 0.25, out.Body.Storage.UsageRatio)
	assert.Equal(t, 3, out.Body.Storage.Mutations)
}

func TestHandler_EstimateFailure(t *testing.T) {
	ctx := context.Background()
	svc := new(MockService)
	h := NewHandler(svc, slog.Default(), nil)

	svc.On("Estimate", ctx).Return(quota.Estimate{}, errors.New("stat failed"))

	_, err := h.estimate(ctx, nil)
	var se huma.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.GetStatus())
}

func TestHandler_Persist(t *testing.T) {
	ctx := context.Background()

	for _, granted := range []bool{true, false} {
		svc := new(MockService)
		h := NewHandler(svc, slog.Default(), nil)
		svc.On("Persist", ctx).Return(granted, nil)

		out, err := h.persist(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, granted, out.Body.Granted)
	}
}

func TestHandler_Sync(t *testing.T) {
	ctx := context.Background()
	svc := new(MockService)
	h := NewHandler(svc, slog.Default(), nil)

	svc.On("Drain", ctx).Return(
		mutation.ProcessReport{Attempted: 2, Succeeded: 2},
		photo.ProcessReport{Attempted: 1, Retried: 1},
		nil,
	)

	out, err := h.sync(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Body.Mutations.Succeeded)
	assert.Equal(t, 1, out.Body.Photos.Retried)
}
