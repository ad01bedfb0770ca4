package config

// EnvPrefix is handed to envconfig; every tag below carries the full name anyway.
const EnvPrefix = "LEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "LEDGER_APP_ENV"
	EnvPort     = "LEDGER_APP_PORT"
	EnvDBDSN    = "LEDGER_DB_DSN"
	EnvDBHost   = "LEDGER_DB_HOST"
	EnvDBUser   = "LEDGER_DB_USER"
	EnvDBName   = "LEDGER_DB_NAME"
	EnvDBDriver = "LEDGER_DB_DRIVER"
	EnvRedisURL = "LEDGER_REDIS_URL"

	EnvPayoutMinimum = "LEDGER_PAYOUT_MINIMUM"
	EnvRetryAttempts = "LEDGER_RETRY_MAX_ATTEMPTS"
	EnvJWTSecret     = "LEDGER_JWT_SECRET"
)

var dbPartEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
