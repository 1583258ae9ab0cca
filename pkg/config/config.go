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
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Lock         LockConfig
	Ledger       LedgerConfig
	Catalog      CatalogConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Lock.validate(); err != nil {
		return nil, err
	}
	if cfg.Lock.UsesRedis() && !cfg.Redis.Configured() {
		return nil, fmt.Errorf("%s=%s requires %s or %s", EnvLockBackend, LockBackendRedis, EnvRedisURL, EnvRedisAddr)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"RESALE_LEDGER_APP_ENV" required:"true"`
	Port         string `envconfig:"RESALE_LEDGER_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"RESALE_LEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"RESALE_LEDGER_LOG_WARN_STACK" default:"false"`
	// CORSOrigins lists the browser origins allowed to call the API.
	CORSOrigins []string `envconfig:"RESALE_LEDGER_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"RESALE_LEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"RESALE_LEDGER_DB_DSN"`
	Driver string `envconfig:"RESALE_LEDGER_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"RESALE_LEDGER_DB_HOST"`
	LegacyPort     int    `envconfig:"RESALE_LEDGER_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"RESALE_LEDGER_DB_USER"`
	LegacyPassword string `envconfig:"RESALE_LEDGER_DB_PASSWORD"`
	LegacyName     string `envconfig:"RESALE_LEDGER_DB_NAME"`
	LegacySSLMode  string `envconfig:"RESALE_LEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"RESALE_LEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"RESALE_LEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"RESALE_LEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"RESALE_LEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"RESALE_LEDGER_DB_SLOW_QUERY" default:"500ms"`
}

// IsSQLite reports whether the local single-file driver is selected.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"RESALE_LEDGER_REDIS_URL"`
	Address      string        `envconfig:"RESALE_LEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"RESALE_LEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"RESALE_LEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"RESALE_LEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"RESALE_LEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"RESALE_LEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"RESALE_LEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"RESALE_LEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Configured reports whether any redis endpoint was provided.
func (r RedisConfig) Configured() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

// LockConfig selects how per-inventory critical sections are serialized.
type LockConfig struct {
	Backend       string        `envconfig:"RESALE_LEDGER_LOCK_BACKEND" default:"memory"`
	TTL           time.Duration `envconfig:"RESALE_LEDGER_LOCK_TTL" default:"30s"`
	RetryInterval time.Duration `envconfig:"RESALE_LEDGER_LOCK_RETRY_INTERVAL" default:"100ms"`
	MaxRetries    int           `envconfig:"RESALE_LEDGER_LOCK_MAX_RETRIES" default:"50"`
}

func (l LockConfig) UsesRedis() bool {
	return strings.EqualFold(strings.TrimSpace(l.Backend), LockBackendRedis)
}

func (l LockConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(l.Backend)) {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvLockBackend, LockBackendMemory, LockBackendRedis, l.Backend)
	}
	if l.TTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvLockTTL)
	}
	return nil
}

type LedgerConfig struct {
	// RestateProfit rewrites profit figures of historical sales when a replay
	// changes the average cost they were booked against.
	RestateProfit bool `envconfig:"RESALE_LEDGER_RESTATE_PROFIT" default:"true"`
	HistoryLimit  int  `envconfig:"RESALE_LEDGER_HISTORY_LIMIT" default:"200"`
}

type CatalogConfig struct {
	CacheTTL time.Duration `envconfig:"RESALE_LEDGER_CATALOG_CACHE_TTL" default:"10m"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"RESALE_LEDGER_AUTO_MIGRATE" default:"false"`
	Idempotency bool `envconfig:"RESALE_LEDGER_IDEMPOTENCY" default:"true"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"RESALE_LEDGER_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"RESALE_LEDGER_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"RESALE_LEDGER_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	DomainTopic        string `envconfig:"RESALE_LEDGER_PUBSUB_DOMAIN_TOPIC" default:"resale-ledger-domain-events"`
	DomainSubscription string `envconfig:"RESALE_LEDGER_PUBSUB_DOMAIN_SUBSCRIPTION"`
	// Ordering publishes with the aggregate id as ordering key so consumers
	// see one inventory's events in commit order.
	Ordering bool `envconfig:"RESALE_LEDGER_PUBSUB_ORDERING" default:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"RESALE_LEDGER_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"RESALE_LEDGER_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"RESALE_LEDGER_OUTBOX_MAX_ATTEMPTS" default:"10"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		db.DSN = DefaultSQLiteDSN
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
