package models

import "time"

// Backend selects which MarketStore implementation the factory wires.
const (
	BackendTable  = "table"
	BackendSQLite = "sqlite"
)

// Config represents the application configuration.
type Config struct {
	Backend    string
	Remote     RemoteConfig
	Dispatcher DispatcherConfig
	Cache      CacheConfig
	Payments   PaymentsConfig
	Database   DatabaseConfig
}

// RemoteConfig holds remote table store connection settings.
type RemoteConfig struct {
	BaseURL    string
	APIKey     string
	RetryDelay time.Duration
}

// DispatcherConfig holds rate-limit settings for outbound remote calls.
type DispatcherConfig struct {
	RequestsPerSecond float64
	Burst             int
	QueueSize         int
	CallTimeout       time.Duration
}

// CacheConfig holds entity cache sizing and per-entity TTLs. Listings churn
// faster than users (view counts, status flips) so they default shorter.
type CacheConfig struct {
	MaxSize     int
	UserTTL     time.Duration
	ListingTTL  time.Duration
	OfferTTL    time.Duration
	PaymentTTL  time.Duration
	TTLOverride string // optional yaml file path
}

// PaymentsConfig holds fee and mock-processing settings.
type PaymentsConfig struct {
	FeePercent      float64
	MockFailureRate float64
	ProcessingDelay time.Duration
}

// DatabaseConfig holds sqlite connection settings.
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}
