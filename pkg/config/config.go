package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Auth         AuthConfig
	Ledger       LedgerConfig
	Payout       PayoutConfig
	Billing      BillingConfig
	Retry        RetryConfig
	Cron         CronConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Outbox       OutboxConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if _, err := cfg.Payout.Minimum(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"LEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"LEDGER_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"LEDGER_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LEDGER_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"LEDGER_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"LEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"LEDGER_DB_DSN"`
	Driver string `envconfig:"LEDGER_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"LEDGER_DB_HOST"`
	Port     int    `envconfig:"LEDGER_DB_PORT" default:"5432"`
	User     string `envconfig:"LEDGER_DB_USER"`
	Password string `envconfig:"LEDGER_DB_PASSWORD"`
	Name     string `envconfig:"LEDGER_DB_NAME"`
	SSLMode  string `envconfig:"LEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"LEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"LEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"LEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"LEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"LEDGER_REDIS_URL"`
	Address      string        `envconfig:"LEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"LEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"LEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"LEDGER_REDIS_POOL_SIZE" default:"10"`
	DialTimeout  time.Duration `envconfig:"LEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"LEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"LEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"LEDGER_AUTO_MIGRATE" default:"false"`
}

// AuthConfig holds the operator token settings for the admin routes.
type AuthConfig struct {
	JWTSecret string        `envconfig:"LEDGER_JWT_SECRET"`
	JWTIssuer string        `envconfig:"LEDGER_JWT_ISSUER" default:"ledgerd"`
	TokenTTL  time.Duration `envconfig:"LEDGER_JWT_TTL" default:"12h"`
}

type LedgerConfig struct {
	DefaultCurrency       string        `envconfig:"LEDGER_DEFAULT_CURRENCY" default:"USD"`
	WebhookIdempotencyTTL time.Duration `envconfig:"LEDGER_WEBHOOK_IDEMPOTENCY_TTL" default:"72h"`
}

type PayoutConfig struct {
	MinimumAmount string `envconfig:"LEDGER_PAYOUT_MINIMUM" default:"1.00"`
	BatchSize     int    `envconfig:"LEDGER_PAYOUT_BATCH_SIZE" default:"100"`
	// WithdrawalRateLimit caps POST /v1/withdrawals per operator and window; 0 disables it.
	WithdrawalRateLimit  int           `envconfig:"LEDGER_WITHDRAWAL_RATE_LIMIT" default:"30"`
	WithdrawalRateWindow time.Duration `envconfig:"LEDGER_WITHDRAWAL_RATE_WINDOW" default:"1m"`
}

// Minimum parses MinimumAmount.
func (p PayoutConfig) Minimum() (decimal.Decimal, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(p.MinimumAmount))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", EnvPayoutMinimum, err)
	}
	return value, nil
}

type BillingConfig struct {
	RenewalBatchSize int           `envconfig:"LEDGER_BILLING_RENEWAL_BATCH_SIZE" default:"100"`
	TermLength       time.Duration `envconfig:"LEDGER_BILLING_TERM_LENGTH" default:"720h"`
}

type RetryConfig struct {
	MaxAttempts uint64        `envconfig:"LEDGER_RETRY_MAX_ATTEMPTS" default:"5"`
	BaseDelay   time.Duration `envconfig:"LEDGER_RETRY_BASE_DELAY" default:"500ms"`
	MaxDelay    time.Duration `envconfig:"LEDGER_RETRY_MAX_DELAY" default:"30s"`
}

// CronConfig sets the worker tick and how often each job is due.
type CronConfig struct {
	Interval         time.Duration `envconfig:"LEDGER_CRON_INTERVAL" default:"5m"`
	PayoutSweepEvery time.Duration `envconfig:"LEDGER_CRON_PAYOUT_SWEEP_EVERY" default:"24h"`
	RenewalEvery     time.Duration `envconfig:"LEDGER_CRON_RENEWAL_EVERY" default:"1h"`
	ExportEvery      time.Duration `envconfig:"LEDGER_CRON_EXPORT_EVERY" default:"1h"`
	AuditEvery       time.Duration `envconfig:"LEDGER_CRON_AUDIT_EVERY" default:"6h"`
	RetentionEvery   time.Duration `envconfig:"LEDGER_CRON_RETENTION_EVERY" default:"24h"`
	RetentionDays    int           `envconfig:"LEDGER_CRON_RETENTION_DAYS" default:"30"`
	ExportBatchSize  int           `envconfig:"LEDGER_CRON_EXPORT_BATCH_SIZE" default:"500"`
}

// StripeConfig.Secret may list several comma separated endpoint secrets
// while one is being rolled.
type StripeConfig struct {
	APIKey         string `envconfig:"LEDGER_STRIPE_API_KEY"`
	Secret         string `envconfig:"LEDGER_STRIPE_SECRET"`
	Env            string `envconfig:"LEDGER_STRIPE_ENV" default:"test"`
	NetworkRetries int64  `envconfig:"LEDGER_STRIPE_NETWORK_RETRIES" default:"0"`
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
	AccessToken string `envconfig:"LEDGER_SQUARE_ACCESS_TOKEN"`
	LocationID  string `envconfig:"LEDGER_SQUARE_LOCATION_ID"`
	Env         string `envconfig:"LEDGER_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"LEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"LEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"LEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"LEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"LEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"LEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	NotificationTopic string `envconfig:"LEDGER_PUBSUB_NOTIFICATION_TOPIC" default:"ledger-notifications"`
}

type BigQueryConfig struct {
	Dataset     string `envconfig:"LEDGER_BIGQUERY_DATASET" default:"ledger"`
	LedgerTable string `envconfig:"LEDGER_BIGQUERY_LEDGER_TABLE" default:"transaction_records"`
}

// Enabled reports whether the export job has somewhere to write.
func (b BigQueryConfig) Enabled() bool {
	return strings.TrimSpace(b.Dataset) != "" && strings.TrimSpace(b.LedgerTable) != ""
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if strings.EqualFold(db.Driver, DriverSQLite) {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range dbPartEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}
	db.DSN = u.String()
	return nil
}
