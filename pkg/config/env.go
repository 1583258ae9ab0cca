package config

const EnvPrefix = "RESALE_LEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
	DefaultSQLiteDSN = "file:resale-ledger.db?_foreign_keys=on"

	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

const (
	EnvAppEnv      = "RESALE_LEDGER_APP_ENV"
	EnvPort        = "RESALE_LEDGER_APP_PORT"
	EnvLogLevel    = "RESALE_LEDGER_LOG_LEVEL"
	EnvDBDSN       = "RESALE_LEDGER_DB_DSN"
	EnvDBDriver    = "RESALE_LEDGER_DB_DRIVER"
	EnvDBHost      = "RESALE_LEDGER_DB_HOST"
	EnvDBUser      = "RESALE_LEDGER_DB_USER"
	EnvDBName      = "RESALE_LEDGER_DB_NAME"
	EnvRedisURL    = "RESALE_LEDGER_REDIS_URL"
	EnvRedisAddr   = "RESALE_LEDGER_REDIS_ADDR"
	EnvLockBackend = "RESALE_LEDGER_LOCK_BACKEND"
	EnvLockTTL     = "RESALE_LEDGER_LOCK_TTL"

	EnvRestateProfit     = "RESALE_LEDGER_RESTATE_PROFIT"
	EnvGCPProjectID      = "RESALE_LEDGER_GCP_PROJECT_ID"
	EnvPubSubDomainTopic = "RESALE_LEDGER_PUBSUB_DOMAIN_TOPIC"
	EnvPubSubDomainSub   = "RESALE_LEDGER_PUBSUB_DOMAIN_SUBSCRIPTION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
