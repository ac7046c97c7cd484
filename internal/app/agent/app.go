package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"fieldsync/internal/app/agent/api"
	"fieldsync/internal/config"
	"fieldsync/internal/domain/entity"
	"fieldsync/internal/domain/mutation"
	"fieldsync/internal/domain/photo"
	"fieldsync/internal/domain/quota"
	"fieldsync/internal/infrastructure/remote"
	"fieldsync/internal/infrastructure/storage"
	"fieldsync/internal/infrastructure/storage/memory"
	"fieldsync/internal/infrastructure/storage/postgres"
	"fieldsync/internal/infrastructure/storage/sqlite"
)

const shutdownTimeout = 10 * time.Second

// App собирает хранилище, доменные сервисы, клиент удаленного API
// и планировщик отправки очередей.
type App struct {
	config    *config.Config
	log       *slog.Logger
	store     storage.Store
	remote    *remote.Client
	scheduler *Scheduler

	Cache     *entity.Service
	Mutations *mutation.Service
	Photos    *photo.Service

	drainMu sync.Mutex
}

type options struct {
	memoryFallback bool
}

// Option дополнительная настройка App
type Option func(*options)

// WithMemoryFallback разрешает работать в памяти, если SQLite не открылся.
// Нужна только демону: команды CLI должны видеть ту же базу, что и агент.
func WithMemoryFallback() Option {
	return func(o *options) {
		o.memoryFallback = true
	}
}

func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	// Имя процесса в захваченных элементах, например fieldsync-agent-4242
	owner := fmt.Sprintf("%s-%d", filepath.Base(os.Args[0]), os.Getpid())

	store, err := openStore(ctx, cfg, o.memoryFallback, log)
	if err != nil {
		return nil, err
	}

	app := &App{
		config: cfg,
		log:    log.With("component", "agent"),
		store:  store,
		remote: remote.New(cfg.Remote.BaseURL, cfg.Remote.Token, log),
	}

	app.scheduler = NewScheduler(app.scheduledDrain, app.remote, cfg.Sync.Interval, cfg.Sync.ProbeInterval, log)

	app.Cache = entity.NewService(store.Entities(), store, log, cfg.Cache)
	app.Mutations = mutation.NewService(store.Mutations(), app.remote, log, cfg.Mutation,
		mutation.WithNotify(app.scheduler.Trigger), mutation.WithOwner(owner))
	app.Photos = photo.NewService(store.Photos(), app.remote, log, cfg.Photo,
		photo.WithNotify(app.scheduler.Trigger), photo.WithOwner(owner))

	if !cfg.RemoteConfigured() {
		app.log.Warn("remote api is not configured, queues will only accumulate")
	}

	return app, nil
}

// openStore открывает хранилище выбранного движка. Если SQLite не открылся
// и fallback разрешен, работа продолжается в памяти, как и без кэша вовсе.
func openStore(ctx context.Context, cfg *config.Config, fallback bool, log *slog.Logger) (storage.Store, error) {
	switch cfg.Store.Driver {
	case storage.DriverMemory:
		return memory.New(log), nil
	case storage.DriverPostgres:
		store, err := postgres.New(ctx, cfg.Store.DatabaseURI, cfg.Store.QuotaBytes, log)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.Open(ctx, cfg.Store.Path, sqlite.Options{
			AllowPersist: cfg.Store.AllowPersist,
			QuotaBytes:   cfg.Store.QuotaBytes,
		}, log)
		if err != nil && !fallback {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		if err != nil {
			log.Warn("failed to open sqlite store, falling back to memory", "error", err)
			return memory.New(log), nil
		}
		return store, nil
	}
}

// Run восстанавливает брошенные элементы очередей и вытесняет устаревший
// кэш, затем запускает планировщик и HTTP API. Возвращается после отмены ctx.
func (a *App) Run(ctx context.Context) error {
	if err := a.Recover(ctx); err != nil {
		return err
	}
	if report, err := a.Cache.EvictStaleEntities(ctx); err != nil {
		a.log.Warn("startup eviction failed", "error", err)
	} else if report.Total() > 0 {
		a.log.Info("evicted stale cache on startup", "stale", report.Stale, "total", report.Total())
	}

	server := &http.Server{
		Addr:              a.config.Agent.Address,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.scheduler.Run(ctx)
	})

	g.Go(func() error {
		a.log.Info("agent api listening", "address", server.Addr, "driver", a.store.Driver())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("agent api: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Handler HTTP API агента.
func (a *App) Handler() http.Handler {
	return api.New(api.Services{
		Cache:        a.Cache,
		Mutations:    serialMutations{a.Mutations, a},
		Photos:       serialPhotos{a.Photos, a},
		Diagnostics:  a,
		PhotoMaxSize: a.config.Photo.MaxSize,
	}, a.config.Agent.TokenHash, a.log)
}

// Recover возвращает в pending элементы, захват которых истек, например
// после аварийного завершения.
func (a *App) Recover(ctx context.Context) error {
	mutations, err := a.Mutations.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover mutation queue: %w", err)
	}
	photos, err := a.Photos.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover photo queue: %w", err)
	}
	if mutations > 0 || photos > 0 {
		a.log.Info("requeued interrupted items", "mutations", mutations, "photos", photos)
	}
	return nil
}

// Drain отправляет обе очереди: сначала изменения, затем фотографии.
// Проходы внутри процесса не пересекаются, включая ручные
// ProcessMutations и ProcessPhotos.
func (a *App) Drain(ctx context.Context) (mutation.ProcessReport, photo.ProcessReport, error) {
	a.drainMu.Lock()
	defer a.drainMu.Unlock()

	mutations, mErr := a.Mutations.ProcessQueue(ctx)
	if mErr != nil {
		mErr = fmt.Errorf("process mutations: %w", mErr)
	}
	photos, pErr := a.Photos.ProcessQueue(ctx)
	if pErr != nil {
		pErr = fmt.Errorf("process photos: %w", pErr)
	}

	return mutations, photos, errors.Join(mErr, pErr)
}

// ProcessMutations один проход очереди изменений под замком Drain.
func (a *App) ProcessMutations(ctx context.Context) (mutation.ProcessReport, error) {
	a.drainMu.Lock()
	defer a.drainMu.Unlock()
	return a.Mutations.ProcessQueue(ctx)
}

// ProcessPhotos один проход очереди фотографий под замком Drain.
func (a *App) ProcessPhotos(ctx context.Context) (photo.ProcessReport, error) {
	a.drainMu.Lock()
	defer a.drainMu.Unlock()
	return a.Photos.ProcessQueue(ctx)
}

// serialMutations отдает API очередь изменений, ручные проходы которой
// идут через App.
type serialMutations struct {
	mutation.Servicer
	app *App
}

func (s serialMutations) ProcessQueue(ctx context.Context) (mutation.ProcessReport, error) {
	return s.app.ProcessMutations(ctx)
}

type serialPhotos struct {
	photo.Servicer
	app *App
}

func (s serialPhotos) ProcessQueue(ctx context.Context) (photo.ProcessReport, error) {
	return s.app.ProcessPhotos(ctx)
}

func (a *App) scheduledDrain(ctx context.Context) {
	mutations, photos, err := a.Drain(ctx)
	if err != nil {
		a.log.Error("drain failed", "error", err)
	}
	if mutations.Attempted == 0 && photos.Attempted == 0 {
		return
	}
	a.log.Info("drain finished",
		slog.Group("mutations",
			"attempted", mutations.Attempted,
			"succeeded", mutations.Succeeded,
			"retried", mutations.Retried,
			"failed", mutations.Failed,
		),
		slog.Group("photos",
			"attempted", photos.Attempted,
			"uploaded", photos.Uploaded,
			"retried", photos.Retried,
			"failed", photos.Failed,
		),
	)
}

func (a *App) Estimate(ctx context.Context) (quota.Estimate, error) {
	return a.store.Estimate(ctx)
}

func (a *App) Persist(ctx context.Context) (bool, error) {
	return a.store.Persist(ctx)
}

// Online последний известный статус связи с удаленным API.
func (a *App) Online() bool {
	return a.scheduler.Online()
}

// CheckConnection проверяет доступность удаленного API сейчас.
func (a *App) CheckConnection(ctx context.Context) error {
	return a.scheduler.Probe(ctx)
}

// Driver движок локального хранилища.
func (a *App) Driver() storage.Driver {
	return a.store.Driver()
}

func (a *App) Close() error {
	return a.store.Close()
}

type appKey struct{}

// WithApp кладет приложение в контекст команды CLI.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey{}, app)
}

// FromContext достает приложение, положенное WithApp.
func FromContext(ctx context.Context) (*App, bool) {
	app, ok := ctx.Value(appKey{}).(*App)
	return app, ok
}
