package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
)

type Config struct {
	App            AppConfig
	Service        ServiceConfig
	DB             DBConfig
	Redis          RedisConfig
	FeatureFlags   FeatureFlagsConfig
	Eventing       EventingConfig
	GCP            GCPConfig
	PubSub         PubSubConfig
	BigQuery       BigQueryConfig
	Stripe         StripeConfig
	Square         SquareConfig
	Outbox         OutboxConfig
	Settlement     SettlementConfig
	Reconciliation ReconciliationConfig
	Cron           CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Settlement.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"SETTLEMENT_APP_ENV" required:"true"`
	Port         string   `envconfig:"SETTLEMENT_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"SETTLEMENT_LOG_LEVEL" default:"info"`
	LogFormat    string   `envconfig:"SETTLEMENT_LOG_FORMAT" default:"json"`
	LogWarnStack bool     `envconfig:"SETTLEMENT_LOG_WARN_STACK" default:"false"`
	AdminAPIKey  string   `envconfig:"SETTLEMENT_ADMIN_API_KEY"`
	CORSOrigins  []string `envconfig:"SETTLEMENT_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"SETTLEMENT_SERVICE_KIND" default:"api"`

	// MetricsAddr exposes /metrics from worker binaries when set, e.g. ":9102".
	MetricsAddr string `envconfig:"SETTLEMENT_WORKER_METRICS_ADDR"`
}

type DBConfig struct {
	DSN string `envconfig:"SETTLEMENT_DB_DSN"`

	LegacyHost     string `envconfig:"SETTLEMENT_DB_HOST"`
	LegacyPort     int    `envconfig:"SETTLEMENT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"SETTLEMENT_DB_USER"`
	LegacyPassword string `envconfig:"SETTLEMENT_DB_PASSWORD"`
	LegacyName     string `envconfig:"SETTLEMENT_DB_NAME"`
	LegacySSLMode  string `envconfig:"SETTLEMENT_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"SETTLEMENT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"SETTLEMENT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"SETTLEMENT_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"SETTLEMENT_DB_SLOW_QUERY" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"SETTLEMENT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"SETTLEMENT_REDIS_ADDR"`
	Password     string        `envconfig:"SETTLEMENT_REDIS_PASSWORD"`
	DB           int           `envconfig:"SETTLEMENT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"SETTLEMENT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"SETTLEMENT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"SETTLEMENT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"SETTLEMENT_REDIS_WRITE_TIMEOUT" default:"5s"`
	KeyPrefix    string        `envconfig:"SETTLEMENT_REDIS_KEY_PREFIX" default:"settle"`
}

type FeatureFlagsConfig struct {
	AutoMigrate   bool `envconfig:"SETTLEMENT_AUTO_MIGRATE" default:"false"`
	SquareEnabled bool `envconfig:"SETTLEMENT_FEATURE_SQUARE" default:"false"`
}

type EventingConfig struct {
	OutboxIdempotencyTTL  time.Duration `envconfig:"SETTLEMENT_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
	WebhookIdempotencyTTL time.Duration `envconfig:"SETTLEMENT_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"SETTLEMENT_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"SETTLEMENT_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"SETTLEMENT_GOOGLE_APPLICATION_CREDENTIALS"`
}

// ClientOptions picks inline JSON credentials over a credentials file. With
// neither set, Google clients fall back to application default credentials.
func (c GCPConfig) ClientOptions() []option.ClientOption {
	if raw := strings.TrimSpace(c.CredentialsJSON); raw != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(raw))}
	}
	if path := strings.TrimSpace(c.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

type PubSubConfig struct {
	SettlementTopic          string `envconfig:"SETTLEMENT_PUBSUB_SETTLEMENT_TOPIC" default:"settlement-events"`
	NotificationSubscription string `envconfig:"SETTLEMENT_PUBSUB_NOTIFICATION_SUBSCRIPTION" default:"settlement-notifications"`
	AnalyticsSubscription    string `envconfig:"SETTLEMENT_PUBSUB_ANALYTICS_SUBSCRIPTION" default:"settlement-analytics"`
}

type BigQueryConfig struct {
	Dataset          string `envconfig:"SETTLEMENT_BIGQUERY_DATASET" default:"settlement"`
	SettlementsTable string `envconfig:"SETTLEMENT_BIGQUERY_SETTLEMENTS_TABLE" default:"settlements"`
	CreateTables     bool   `envconfig:"SETTLEMENT_BIGQUERY_CREATE_TABLES" default:"false"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"SETTLEMENT_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"SETTLEMENT_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type StripeConfig struct {
	APIKey string `envconfig:"SETTLEMENT_STRIPE_API_KEY"`
	Secret string `envconfig:"SETTLEMENT_STRIPE_SECRET"`
	Env    string `envconfig:"SETTLEMENT_STRIPE_ENV" default:"test"`
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
	AccessToken   string `envconfig:"SETTLEMENT_SQUARE_ACCESS_TOKEN"`
	WebhookSecret string `envconfig:"SETTLEMENT_SQUARE_WEBHOOK_SECRET"`
	WebhookURL    string `envconfig:"SETTLEMENT_SQUARE_WEBHOOK_URL"`
	LocationID    string `envconfig:"SETTLEMENT_SQUARE_LOCATION_ID"`
	Env           string `envconfig:"SETTLEMENT_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// SettlementConfig holds the money-related knobs of the settlement engine.
type SettlementConfig struct {
	Currency         string        `envconfig:"SETTLEMENT_CURRENCY" default:"eur"`
	CashbackRate     string        `envconfig:"SETTLEMENT_CASHBACK_RATE" default:"0.01"`
	DefaultRate      string        `envconfig:"SETTLEMENT_DEFAULT_COMMISSION_RATE" default:"0.10"`
	TurnoverWindow   time.Duration `envconfig:"SETTLEMENT_TURNOVER_WINDOW" default:"720h"`
	TierScheduleFile string        `envconfig:"SETTLEMENT_TIER_SCHEDULE_FILE"`
}

// CashbackDecimal returns the parsed cashback rate.
func (s SettlementConfig) CashbackDecimal() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(s.CashbackRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// DefaultRateDecimal returns the parsed platform default commission rate.
func (s SettlementConfig) DefaultRateDecimal() decimal.Decimal {
	rate, err := decimal.NewFromString(strings.TrimSpace(s.DefaultRate))
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (s SettlementConfig) validate() error {
	for env, raw := range map[string]string{
		EnvCashbackRate:          s.CashbackRate,
		EnvDefaultCommissionRate: s.DefaultRate,
	} {
		rate, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%s must be a decimal: %w", env, err)
		}
		if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%s must be within [0,1], got %s", env, raw)
		}
	}
	if s.TurnoverWindow <= 0 {
		return fmt.Errorf("%s must be positive", EnvTurnoverWindow)
	}
	return nil
}

type ReconciliationConfig struct {
	StaleAfter time.Duration `envconfig:"SETTLEMENT_RECONCILE_STALE_AFTER" default:"15m"`
	MaxAge     time.Duration `envconfig:"SETTLEMENT_RECONCILE_MAX_AGE" default:"72h"`
	BatchSize  int           `envconfig:"SETTLEMENT_RECONCILE_BATCH_SIZE" default:"100"`
}

type CronConfig struct {
	Interval       time.Duration `envconfig:"SETTLEMENT_CRON_INTERVAL" default:"5m"`
	LockTTL        time.Duration `envconfig:"SETTLEMENT_CRON_LOCK_TTL" default:"4m"`
	Retention      time.Duration `envconfig:"SETTLEMENT_CRON_RETENTION" default:"720h"`
	RetentionEvery time.Duration `envconfig:"SETTLEMENT_CRON_RETENTION_EVERY" default:"24h"`
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
