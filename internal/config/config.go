package config

import (
	"os"
	"strconv"
	"time"

	"ticket-marketplace-core/internal/models"
	"ticket-marketplace-core/internal/store"
)

// Load reads configuration from the environment with sane defaults and
// validates it. Misconfiguration fails fast here rather than deep inside a
// lifecycle call.
func Load() (*models.Config, error) {
	callTimeout, err := getEnvDuration("REMOTE_CALL_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	retryDelay, err := getEnvDuration("REMOTE_RETRY_DELAY", 250*time.Millisecond)
	if err != nil {
		return nil, err
	}

	userTTL, err := getEnvDuration("CACHE_TTL_USERS", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	listingTTL, err := getEnvDuration("CACHE_TTL_LISTINGS", time.Minute)
	if err != nil {
		return nil, err
	}

	offerTTL, err := getEnvDuration("CACHE_TTL_OFFERS", 30*time.Second)
	if err != nil {
		return nil, err
	}

	paymentTTL, err := getEnvDuration("CACHE_TTL_PAYMENTS", 15*time.Second)
	if err != nil {
		return nil, err
	}

	processingDelay, err := getEnvDuration("MOCK_PROCESSING_DELAY", 2*time.Second)
	if err != nil {
		return nil, err
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{
		Backend: getEnvString("MARKET_BACKEND", models.BackendTable),
		Remote: models.RemoteConfig{
			BaseURL:    getEnvString("REMOTE_BASE_URL", ""),
			APIKey:     getEnvString("REMOTE_API_KEY", ""),
			RetryDelay: retryDelay,
		},
		Dispatcher: models.DispatcherConfig{
			RequestsPerSecond: getEnvFloat("REMOTE_RPS", 5),
			Burst:             getEnvInt("REMOTE_BURST", 1),
			QueueSize:         getEnvInt("REMOTE_QUEUE_SIZE", 256),
			CallTimeout:       callTimeout,
		},
		Cache: models.CacheConfig{
			MaxSize:     getEnvInt("CACHE_MAX_SIZE", 1000),
			UserTTL:     userTTL,
			ListingTTL:  listingTTL,
			OfferTTL:    offerTTL,
			PaymentTTL:  paymentTTL,
			TTLOverride: getEnvString("CACHE_TTL_FILE", ""),
		},
		Payments: models.PaymentsConfig{
			FeePercent:      getEnvFloat("PLATFORM_FEE_PERCENT", 6),
			MockFailureRate: getEnvFloat("MOCK_FAILURE_RATE", 0.1),
			ProcessingDelay: processingDelay,
		},
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "marketplace.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
	}

	if cfg.Cache.TTLOverride != "" {
		if err := ApplyTTLOverrides(&cfg.Cache, cfg.Cache.TTLOverride); err != nil {
			return nil, err
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting this core depends on. Violations are
// configuration errors and fatal at startup.
func Validate(cfg *models.Config) error {
	if cfg.Backend != models.BackendTable && cfg.Backend != models.BackendSQLite {
		return store.E(store.KindConfiguration, "unknown backend %q (want %q or %q)",
			cfg.Backend, models.BackendTable, models.BackendSQLite)
	}
	if cfg.Dispatcher.RequestsPerSecond <= 0 {
		return store.E(store.KindConfiguration, "requests per second must be positive, got %v", cfg.Dispatcher.RequestsPerSecond)
	}
	if cfg.Dispatcher.Burst < 1 {
		return store.E(store.KindConfiguration, "dispatcher burst must be at least 1, got %d", cfg.Dispatcher.Burst)
	}
	if cfg.Dispatcher.QueueSize < 1 {
		return store.E(store.KindConfiguration, "dispatcher queue size must be at least 1, got %d", cfg.Dispatcher.QueueSize)
	}
	if cfg.Dispatcher.CallTimeout <= 0 {
		return store.E(store.KindConfiguration, "remote call timeout must be positive, got %v", cfg.Dispatcher.CallTimeout)
	}
	if cfg.Cache.MaxSize < 1 {
		return store.E(store.KindConfiguration, "cache max size must be at least 1, got %d", cfg.Cache.MaxSize)
	}
	for name, ttl := range map[string]time.Duration{
		"users":    cfg.Cache.UserTTL,
		"listings": cfg.Cache.ListingTTL,
		"offers":   cfg.Cache.OfferTTL,
		"payments": cfg.Cache.PaymentTTL,
	} {
		if ttl <= 0 {
			return store.E(store.KindConfiguration, "cache TTL for %s must be positive, got %v", name, ttl)
		}
	}
	if cfg.Payments.FeePercent < 0 || cfg.Payments.FeePercent > 100 {
		return store.E(store.KindConfiguration, "platform fee percent must be in [0,100], got %v", cfg.Payments.FeePercent)
	}
	if cfg.Payments.MockFailureRate < 0 || cfg.Payments.MockFailureRate > 1 {
		return store.E(store.KindConfiguration, "mock failure rate must be in [0,1], got %v", cfg.Payments.MockFailureRate)
	}
	if cfg.Backend == models.BackendTable && cfg.Remote.BaseURL == "" {
		return store.E(store.KindConfiguration, "REMOTE_BASE_URL is required for the %q backend", models.BackendTable)
	}
	if cfg.Backend == models.BackendSQLite && cfg.Database.Path == "" {
		return store.E(store.KindConfiguration, "DATABASE_PATH is required for the %q backend", models.BackendSQLite)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, store.E(store.KindConfiguration, "invalid duration for %s: %q (%v)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
