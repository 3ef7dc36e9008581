// Package app arma las dependencias del servicio a partir de la Config.
// Lo comparten cmd/identityd y cmd/identityctl.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dropDatabas3/hellojohn-identity/internal/accountlinking"
	"github.com/dropDatabas3/hellojohn-identity/internal/bulkimport"
	"github.com/dropDatabas3/hellojohn-identity/internal/cache"
	"github.com/dropDatabas3/hellojohn-identity/internal/config"
	"github.com/dropDatabas3/hellojohn-identity/internal/domain/repository"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/controllers"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/router"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services"
	"github.com/dropDatabas3/hellojohn-identity/internal/http/services/common"
	"github.com/dropDatabas3/hellojohn-identity/internal/jobs"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
	"github.com/dropDatabas3/hellojohn-identity/internal/observability/metrics"
	"github.com/dropDatabas3/hellojohn-identity/internal/rate"
	"github.com/dropDatabas3/hellojohn-identity/internal/security/secretbox"
	"github.com/dropDatabas3/hellojohn-identity/internal/session"
	"github.com/dropDatabas3/hellojohn-identity/internal/store"
	migrations "github.com/dropDatabas3/hellojohn-identity/migrations/postgres"

	// Adapters registrados via init()
	_ "github.com/dropDatabas3/hellojohn-identity/internal/store/adapters/dal"
)

// BulkImportJob es el nombre fijo del job de bulk import en el scheduler.
const BulkImportJob = "bulk-import"

// Deps permite reemplazar piezas en tests. Los campos nil se construyen
// desde la Config.
type Deps struct {
	Cache cache.Client
	Open  store.OpenFunc
}

// App es el servicio cableado.
type App struct {
	Config    *config.Config
	Cache     cache.Client
	Sessions  *session.Service
	Storages  *store.StorageCache
	Resolver  common.StorageResolver
	Linker    *accountlinking.Service
	Entries   *bulkimport.Entries
	Processor *bulkimport.Processor
	Scheduler *jobs.Scheduler
}

// New crea y cablea la aplicación. No abre storages: se abren on-demand.
func New(cfg *config.Config, deps Deps) (*App, error) {
	c := deps.Cache
	if c == nil {
		var err error
		if c, err = cache.New(cfg.Cache); err != nil {
			return nil, fmt.Errorf("app: cache: %w", err)
		}
	}

	var secrets *secretbox.Box
	if cfg.Security.SecretBoxKey != "" {
		var err error
		if secrets, err = secretbox.New(cfg.Security.SecretBoxKey); err != nil {
			return nil, fmt.Errorf("app: secretbox: %w", err)
		}
	}

	a := &App{Config: cfg, Cache: c, Scheduler: jobs.NewScheduler()}
	a.Sessions = session.NewService(c, cfg.Session.RevocationTTL)
	a.Storages = store.NewStorageCache(deps.Open, store.CacheConfig{
		OnOpen: func(poolID string, s repository.Storage) {
			logger.L().Info("storage opened", logger.Component("store"), logger.Storage(poolID), logger.String("driver", s.Name()))
		},
		OnClose: func(poolID string) {
			logger.L().Info("storage closed", logger.Component("store"), logger.Storage(poolID))
		},
	})
	a.Resolver = common.NewStorageResolver(cfg, a.Storages)
	a.Linker = accountlinking.NewService(accountlinking.Deps{Flags: cfg, Sessions: a.Sessions})
	a.Entries = bulkimport.NewEntries(bulkimport.EntriesConfig{
		Apps:           cfg,
		MaxUsersPerAdd: cfg.BulkImport.MaxUsersPerAdd,
	})
	a.Processor = bulkimport.NewProcessor(bulkimport.ProcessorConfig{
		Apps:        cfg,
		Storages:    a.Storages,
		Linker:      a.Linker,
		BatchSize:   cfg.BulkImport.BatchSize,
		Parallelism: cfg.BulkImport.Parallelism,
		Secrets:     secrets,
	})

	if cfg.BulkImport.Enabled {
		if err := a.Scheduler.Register(BulkImportJob, cfg.BulkImport.Interval, a.Processor.Run); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Handler arma el router HTTP y publica /metrics.
func (a *App) Handler() (http.Handler, error) {
	metricsHandler, err := metrics.Register(metrics.Config{Storages: a.Storages})
	if err != nil {
		return nil, fmt.Errorf("app: metrics: %w", err)
	}

	svcs := services.New(services.Deps{
		AppIDs:     a.Config.AppIDs,
		Storages:   a.Resolver,
		Linker:     a.Linker,
		Entries:    a.Entries,
		Processor:  a.Processor,
		CacheCheck: a.Cache.Ping,
	})
	var limiter rate.Limiter
	if rl := a.Config.Server.RateLimit; rl.Max > 0 {
		limiter = rate.NewFixedWindow(a.Cache, "rl:", rl.Max, rl.Window)
	}
	return router.New(router.Deps{
		Controllers: controllers.New(svcs),
		KnownApp: func(appID string) bool {
			_, ok := a.Config.AppByID(appID)
			return ok
		},
		Metrics:            metricsHandler,
		CORSAllowedOrigins: a.Config.Server.CORSAllowedOrigins,
		RateLimiter:        limiter,
	}), nil
}

// StorageFor resuelve el storage de una app.
func (a *App) StorageFor(ctx context.Context, appID string) (repository.Storage, error) {
	if _, ok := a.Config.AppByID(appID); !ok {
		return nil, fmt.Errorf("app: unknown app %q", appID)
	}
	return a.Resolver.StorageFor(ctx, appID)
}

// Migrate aplica las migraciones embebidas una vez por user pool. Los
// storages sin esquema SQL (memory) se saltean.
func (a *App) Migrate(ctx context.Context) (map[string]*store.MigrationResult, error) {
	log := logger.From(ctx).With(logger.Component("migrate"))
	migrator := store.NewMigrator(migrations.IdentityFS, migrations.IdentityDir)
	out := make(map[string]*store.MigrationResult)

	for _, appID := range a.Config.AppIDs() {
		cfg, err := a.Config.AdapterConfig(appID)
		if err != nil {
			return out, err
		}
		pool := cfg.PoolID()
		if _, done := out[pool]; done {
			continue
		}

		s, err := a.Storages.Get(ctx, cfg)
		if err != nil {
			return out, err
		}
		m, ok := s.(store.Migratable)
		if !ok {
			out[pool] = &store.MigrationResult{}
			log.Debug("storage has no migrations", logger.Storage(pool))
			continue
		}

		res, err := migrator.Run(ctx, m.MigrationExecutor())
		out[pool] = res
		if res != nil {
			metrics.RecordMigration(pool, "applied", len(res.Applied))
			metrics.RecordMigration(pool, "skipped", len(res.Skipped))
		}
		if err != nil {
			metrics.RecordMigration(pool, "failed", 1)
			return out, fmt.Errorf("app: migrate %s: %w", pool, err)
		}
		log.Info("migrations applied", logger.Storage(pool), logger.Count(len(res.Applied)), logger.Duration(res.Duration))
	}
	return out, nil
}

// Close detiene el scheduler y cierra storages y cache.
func (a *App) Close() error {
	a.Scheduler.Stop()
	return errors.Join(a.Storages.CloseAll(), a.Cache.Close())
}
