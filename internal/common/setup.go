package common

import (
	"context"
	"log"
	"strings"

	"ticket-marketplace-core/internal/cache"
	"ticket-marketplace-core/internal/config"
	"ticket-marketplace-core/internal/database"
	"ticket-marketplace-core/internal/dispatch"
	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/offers"
	"ticket-marketplace-core/internal/payments"
	"ticket-marketplace-core/internal/remote"
	"ticket-marketplace-core/internal/store"
	"ticket-marketplace-core/internal/tablestore"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env if present. Variables may also
// arrive via the shell or the deployment environment.
func init() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: no .env file loaded: %v", err)
	}
}

// Services is the wired tuple route handlers consume. One tuple per process;
// no package-level mutable singletons.
type Services struct {
	Store      store.MarketStore
	Dispatcher *dispatch.Dispatcher
	Cache      *cache.Cache
	Offers     *offers.Service
	Payments   *payments.Service
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// Sync on stderr returns EINVAL/ENOTTY when stderr is a terminal; harmless.
func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "invalid argument") || strings.Contains(msg, "inappropriate ioctl")
}

// InitializeServices builds one gateway + cache + dispatcher tuple for the
// configured backend and hands it to both lifecycle services.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	var marketStore store.MarketStore
	var dispatcher *dispatch.Dispatcher
	var entityCache *cache.Cache

	switch cfg.Backend {
	case models.BackendTable:
		client, err := remote.NewHTTPClient(cfg.Remote)
		if err != nil {
			return nil, err
		}
		dispatcher = dispatch.New(cfg.Dispatcher)
		entityCache = cache.New(cfg.Cache.MaxSize)
		marketStore = tablestore.NewService(client, dispatcher, entityCache, cfg.Cache, cfg.Remote.RetryDelay)
		zap.L().Info("Using remote table backend",
			zap.Float64("requests_per_second", cfg.Dispatcher.RequestsPerSecond),
			zap.Int("cache_max_size", cfg.Cache.MaxSize))

	case models.BackendSQLite:
		dbService, err := database.NewService(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		marketStore = dbService
		zap.L().Info("Using sqlite backend", zap.String("path", cfg.Database.Path))

	default:
		return nil, store.E(store.KindConfiguration, "unknown backend %q", cfg.Backend)
	}

	return &Services{
		Store:      marketStore,
		Dispatcher: dispatcher,
		Cache:      entityCache,
		Offers:     offers.NewService(marketStore),
		Payments:   payments.NewService(marketStore, cfg.Payments),
	}, nil
}

// InitializeMemoryServices wires the tuple against the in-memory table
// client. Used by the simulator and by tests that need the full stack
// without a hosted base.
func InitializeMemoryServices(cfg *models.Config) (*Services, *remote.MemoryClient) {
	client := remote.NewMemoryClient()
	dispatcher := dispatch.New(cfg.Dispatcher)
	entityCache := cache.New(cfg.Cache.MaxSize)
	marketStore := tablestore.NewService(client, dispatcher, entityCache, cfg.Cache, cfg.Remote.RetryDelay)

	return &Services{
		Store:      marketStore,
		Dispatcher: dispatcher,
		Cache:      entityCache,
		Offers:     offers.NewService(marketStore),
		Payments:   payments.NewService(marketStore, cfg.Payments),
	}, client
}

func (s *Services) Close() {
	if s.Store != nil {
		s.Store.Close()
	}
}
