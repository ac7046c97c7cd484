// Локальный HTTP API агента. Все маршруты, кроме /health, требуют
// bearer-токен приложения, если задан AGENT_TOKEN_HASH.
//
//GET    /api/v1/health                        # Проверка агента (публичный)
//PUT    /api/v1/cache/{type}/{id}              # Закэшировать сущность
//GET    /api/v1/cache/{type}/{id}              # Прочитать из кэша
//PUT    /api/v1/cache/{type}/{id}/children     # Закэшировать дочерние
//GET    /api/v1/cache/{type}/{id}/children     # Прочитать дочерние
//POST   /api/v1/cache/{type}/{id}/pin          # Закрепить
//DELETE /api/v1/cache/{type}/{id}/pin          # Открепить
//POST   /api/v1/cache/evict                    # Вытеснение устаревших
//GET    /api/v1/cache/stats                    # Заполненность кэша
//POST   /api/v1/mutations                      # Поставить изменение в очередь
//GET    /api/v1/mutations                      # Список по статусу
//POST   /api/v1/mutations/process              # Отправить очередь
//POST   /api/v1/mutations/{id}/retry           # Повторить неудачное
//DELETE /api/v1/mutations/{id}                 # Отбросить неудачное
//POST   /api/v1/photos                         # Поставить фото в очередь
//GET    /api/v1/storage                        # Оценка хранилища
//POST   /api/v1/storage/persist                # Постоянное хранение
//GET    /api/v1/status                         # Связь и хранилище
//POST   /api/v1/sync                           # Отправить обе очереди

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"golang.org/x/exp/slog"

	cacheAPI "fieldsync/internal/app/agent/api/http/cache"
	diagnosticsAPI "fieldsync/internal/app/agent/api/http/diagnostics"
	healthAPI "fieldsync/internal/app/agent/api/http/health"
	"fieldsync/internal/app/agent/api/http/middleware"
	"fieldsync/internal/app/agent/api/http/middleware/auth"
	"fieldsync/internal/app/agent/api/http/middleware/logger"
	mutationAPI "fieldsync/internal/app/agent/api/http/mutation"
	photoAPI "fieldsync/internal/app/agent/api/http/photo"
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
)

// Services доменные сервисы, которые обслуживает API
type Services struct {
	Cache        entity.Servicer
	Mutations    mutation.Servicer
	Photos       photo.Servicer
	Diagnostics  diagnosticsAPI.Servicer
	PhotoMaxSize int64
}

type Handlers struct {
	Health      *healthAPI.Handler
	Cache       *cacheAPI.Handler
	Mutation    *mutationAPI.Handler
	Photo       *photoAPI.Handler
	Diagnostics *diagnosticsAPI.Handler
}

// New создает *chi.Mux со всеми операциями через huma.Register
func New(services Services, tokenHash string, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()

	config := huma.DefaultConfig("Fieldsync Agent API", "1.0.0")
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {Type: "http", Scheme: "bearer"},
	}

	API := humachi.New(mux, config)

	h := handlers(services, tokenHash, log)
	h.Health.SetupRoutes(API)
	h.Cache.SetupRoutes(API)
	h.Mutation.SetupRoutes(API)
	h.Photo.SetupRoutes(API)
	h.Diagnostics.SetupRoutes(API)

	return mux
}

func handlers(services Services, tokenHash string, log *slog.Logger) *Handlers {
	authMW := auth.New(tokenHash, log)
	loggerMW := logger.New(log)
	middlewares := middleware.NewContainer()

	if !authMW.Enabled() {
		log.Warn("agent API token is not configured, requests are not authenticated")
	}

	middlewares.Add(loggerMW.Middleware())
	healthHandler := healthAPI.NewHandler(services.Diagnostics, log, middlewares.GetAllAndClear())

	middlewares.Add(authMW.Middleware())
	middlewares.Add(loggerMW.Middleware())
	cacheHandler := cacheAPI.NewHandler(services.Cache, log, middlewares.GetAllAndClear())

	middlewares.Add(authMW.Middleware())
	middlewares.Add(loggerMW.Middleware())
	mutationHandler := mutationAPI.NewHandler(services.Mutations, log, middlewares.GetAllAndClear())

	middlewares.Add(authMW.Middleware())
	middlewares.Add(loggerMW.Middleware())
	photoHandler := photoAPI.NewHandler(services.Photos, services.PhotoMaxSize, log, middlewares.GetAllAndClear())

	middlewares.Add(authMW.Middleware())
	middlewares.Add(loggerMW.Middleware())
	diagnosticsHandler := diagnosticsAPI.NewHandler(services.Diagnostics, log, middlewares.GetAllAndClear())

	return &Handlers{
		Health:      healthHandler,
		Cache:       cacheHandler,
		Mutation:    mutationHandler,
		Photo:       photoHandler,
		Diagnostics: diagnosticsHandler,
	}
}
