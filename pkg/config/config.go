package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Pricing      PricingConfig
	Checkout     CheckoutConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Breaker      BreakerConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Maintenance  MaintenanceConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"BULLIONSTORE_APP_ENV" required:"true"`
	Port         string `envconfig:"BULLIONSTORE_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"BULLIONSTORE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"BULLIONSTORE_LOG_WARN_STACK" default:"false"`
	LogFormat    string `envconfig:"BULLIONSTORE_LOG_FORMAT" default:"json"`
	// WorkerMetricsAddr is where background workers serve /metrics. Empty
	// disables the endpoint; the API serves its own on the app port.
	WorkerMetricsAddr string `envconfig:"BULLIONSTORE_WORKER_METRICS_ADDR" default:":9090"`

	// CORSOrigins is a comma separated list of storefront origins.
	CORSOrigins []string `envconfig:"BULLIONSTORE_CORS_ORIGINS" default:"http://localhost:5173"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"BULLIONSTORE_DB_DSN"`
	Driver string `envconfig:"BULLIONSTORE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"BULLIONSTORE_DB_HOST"`
	LegacyPort     int    `envconfig:"BULLIONSTORE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"BULLIONSTORE_DB_USER"`
	LegacyPassword string `envconfig:"BULLIONSTORE_DB_PASSWORD"`
	LegacyName     string `envconfig:"BULLIONSTORE_DB_NAME"`
	LegacySSLMode  string `envconfig:"BULLIONSTORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"BULLIONSTORE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"BULLIONSTORE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"BULLIONSTORE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"BULLIONSTORE_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQueryThreshold logs statements slower than this at warn level.
	SlowQueryThreshold time.Duration `envconfig:"BULLIONSTORE_DB_SLOW_QUERY_THRESHOLD" default:"500ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"BULLIONSTORE_REDIS_URL" required:"true"`
	Address      string        `envconfig:"BULLIONSTORE_REDIS_ADDR"`
	Password     string        `envconfig:"BULLIONSTORE_REDIS_PASSWORD"`
	DB           int           `envconfig:"BULLIONSTORE_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"BULLIONSTORE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"BULLIONSTORE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"BULLIONSTORE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"BULLIONSTORE_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"BULLIONSTORE_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the hosted auth backend. Tokens are
// never issued by this service.
type JWTConfig struct {
	Secret   string `envconfig:"BULLIONSTORE_JWT_SECRET"`
	Issuer   string `envconfig:"BULLIONSTORE_JWT_ISSUER"`
	Audience string `envconfig:"BULLIONSTORE_JWT_AUDIENCE" default:"authenticated"`
}

// Enabled reports whether bearer tokens can be verified.
func (j JWTConfig) Enabled() bool {
	return strings.TrimSpace(j.Secret) != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"BULLIONSTORE_AUTO_MIGRATE" default:"false"`
}

// PricingConfig holds the surcharge constants applied to every order. Values are
// parsed as decimals by the pricing engine so no float rounding leaks in.
type PricingConfig struct {
	Currency      string `envconfig:"BULLIONSTORE_PRICING_CURRENCY" default:"USD"`
	ShippingFee   string `envconfig:"BULLIONSTORE_PRICING_SHIPPING_FEE" default:"29.99"`
	InsuranceRate string `envconfig:"BULLIONSTORE_PRICING_INSURANCE_RATE" default:"0.01"`
	TaxRate       string `envconfig:"BULLIONSTORE_PRICING_TAX_RATE" default:"0.08"`
}

type CheckoutConfig struct {
	SuccessURL        string        `envconfig:"BULLIONSTORE_CHECKOUT_SUCCESS_URL" default:"http://localhost:5173/checkout/success"`
	CancelURL         string        `envconfig:"BULLIONSTORE_CHECKOUT_CANCEL_URL" default:"http://localhost:5173/cart"`
	MaxLineItems      int           `envconfig:"BULLIONSTORE_CHECKOUT_MAX_LINE_ITEMS" default:"50"`
	RateLimitWindow   time.Duration `envconfig:"BULLIONSTORE_CHECKOUT_RATE_LIMIT_WINDOW" default:"1m"`
	RateLimitPerIP    int           `envconfig:"BULLIONSTORE_CHECKOUT_RATE_LIMIT_PER_IP" default:"30"`
	RateLimitPerEmail int           `envconfig:"BULLIONSTORE_CHECKOUT_RATE_LIMIT_PER_EMAIL" default:"10"`
	IdempotencyKeyTTL time.Duration `envconfig:"BULLIONSTORE_CHECKOUT_IDEMPOTENCY_TTL" default:"168h"`
}

type StripeConfig struct {
	APIKey                  string        `envconfig:"BULLIONSTORE_STRIPE_API_KEY"`
	Secret                  string        `envconfig:"BULLIONSTORE_STRIPE_SECRET"`
	Env                     string        `envconfig:"BULLIONSTORE_STRIPE_ENV" default:"test"`
	Timeout                 time.Duration `envconfig:"BULLIONSTORE_STRIPE_TIMEOUT" default:"20s"`
	ProvisioningConcurrency int           `envconfig:"BULLIONSTORE_STRIPE_PROVISIONING_CONCURRENCY" default:"4"`
	ReuseCatalog            bool          `envconfig:"BULLIONSTORE_STRIPE_REUSE_CATALOG" default:"false"`
	CatalogCacheTTL         time.Duration `envconfig:"BULLIONSTORE_STRIPE_CATALOG_CACHE_TTL" default:"720h"`
	WebhookEventTTL         time.Duration `envconfig:"BULLIONSTORE_STRIPE_WEBHOOK_EVENT_TTL" default:"720h"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken string        `envconfig:"BULLIONSTORE_SQUARE_ACCESS_TOKEN"`
	LocationID  string        `envconfig:"BULLIONSTORE_SQUARE_LOCATION_ID"`
	Env         string        `envconfig:"BULLIONSTORE_SQUARE_ENV" default:"sandbox"`
	Timeout     time.Duration `envconfig:"BULLIONSTORE_SQUARE_TIMEOUT" default:"30s"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// BreakerConfig tunes the circuit breakers wrapped around provider SDK calls.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `envconfig:"BULLIONSTORE_BREAKER_CONSECUTIVE_FAILURES" default:"5"`
	OpenTimeout         time.Duration `envconfig:"BULLIONSTORE_BREAKER_OPEN_TIMEOUT" default:"30s"`
	HalfOpenRequests    uint32        `envconfig:"BULLIONSTORE_BREAKER_HALF_OPEN_REQUESTS" default:"1"`
}

type GCPConfig struct {
	ProjectID string `envconfig:"BULLIONSTORE_GCP_PROJECT_ID"`
}

type PubSubConfig struct {
	PaymentsTopic string `envconfig:"BULLIONSTORE_PUBSUB_PAYMENTS_TOPIC" default:"bs-payment-events"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"BULLIONSTORE_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"BULLIONSTORE_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"BULLIONSTORE_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

// MaintenanceConfig drives the cron-worker schedule.
type MaintenanceConfig struct {
	Interval            time.Duration `envconfig:"BULLIONSTORE_MAINTENANCE_INTERVAL" default:"24h"`
	OutboxRetentionDays int           `envconfig:"BULLIONSTORE_MAINTENANCE_OUTBOX_RETENTION_DAYS" default:"30"`
	DLQRetentionDays    int           `envconfig:"BULLIONSTORE_MAINTENANCE_DLQ_RETENTION_DAYS" default:"90"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
