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
	Cache        CacheConfig
	Cart         CartConfig
	Startup      StartupConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Redis.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Cart.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CARTCACHE_APP_ENV" required:"true"`
	Port         string `envconfig:"CARTCACHE_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CARTCACHE_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CARTCACHE_LOG_WARN_STACK" default:"false"`
	// CORSOrigins is a comma-separated allow list for the cart API.
	CORSOrigins []string `envconfig:"CARTCACHE_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type DBConfig struct {
	DSN    string `envconfig:"CARTCACHE_DB_DSN"`
	Driver string `envconfig:"CARTCACHE_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CARTCACHE_DB_HOST"`
	LegacyPort     int    `envconfig:"CARTCACHE_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CARTCACHE_DB_USER"`
	LegacyPassword string `envconfig:"CARTCACHE_DB_PASSWORD"`
	LegacyName     string `envconfig:"CARTCACHE_DB_NAME"`
	LegacySSLMode  string `envconfig:"CARTCACHE_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CARTCACHE_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"CARTCACHE_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"CARTCACHE_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CARTCACHE_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// RedisConfig describes the cache topology: one writable master and N read-only replicas.
type RedisConfig struct {
	MasterURL       string        `envconfig:"CARTCACHE_REDIS_MASTER_URL"`
	MasterAddress   string        `envconfig:"CARTCACHE_REDIS_MASTER_ADDR"`
	ReplicaURLs     []string      `envconfig:"CARTCACHE_REDIS_REPLICA_URLS"`
	ReplicaSelector string        `envconfig:"CARTCACHE_REDIS_REPLICA_SELECTOR" default:"random"`
	Password        string        `envconfig:"CARTCACHE_REDIS_PASSWORD"`
	DB              int           `envconfig:"CARTCACHE_REDIS_DB" default:"0"`
	PoolSize        int           `envconfig:"CARTCACHE_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns    int           `envconfig:"CARTCACHE_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout     time.Duration `envconfig:"CARTCACHE_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"CARTCACHE_REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout    time.Duration `envconfig:"CARTCACHE_REDIS_WRITE_TIMEOUT" default:"3s"`

	BreakerFailures    uint32        `envconfig:"CARTCACHE_REDIS_BREAKER_FAILURES" default:"5"`
	BreakerOpenTimeout time.Duration `envconfig:"CARTCACHE_REDIS_BREAKER_OPEN_TIMEOUT" default:"10s"`
}

type CacheConfig struct {
	CartKeyPrefix      string        `envconfig:"CARTCACHE_CART_KEY_PREFIX" default:"cart:"`
	PopularityKey      string        `envconfig:"CARTCACHE_POPULARITY_KEY" default:"stats:top_products"`
	TTL                time.Duration `envconfig:"CARTCACHE_CACHE_TTL" default:"1800s"`
	TopProductsDefault int           `envconfig:"CARTCACHE_TOP_PRODUCTS_DEFAULT" default:"10"`
}

type CartConfig struct {
	WriteSerialization string        `envconfig:"CARTCACHE_CART_WRITE_SERIALIZATION" default:"none"`
	LockTTL            time.Duration `envconfig:"CARTCACHE_CART_LOCK_TTL" default:"10s"`
	LockWait           time.Duration `envconfig:"CARTCACHE_CART_LOCK_WAIT" default:"3s"`
}

type StartupConfig struct {
	MaxRetries uint64        `envconfig:"CARTCACHE_STARTUP_MAX_RETRIES" default:"5"`
	Backoff    time.Duration `envconfig:"CARTCACHE_STARTUP_BACKOFF" default:"500ms"`
}

type FeatureFlagsConfig struct {
	UseSQLite   bool `envconfig:"CARTCACHE_USE_SQLITE" default:"false"`
	AutoMigrate bool `envconfig:"CARTCACHE_AUTO_MIGRATE" default:"false"`
}

func (r RedisConfig) validate() error {
	if r.MasterURL == "" && r.MasterAddress == "" {
		return fmt.Errorf("either %s or %s is required", EnvRedisMasterURL, EnvRedisMasterAddr)
	}
	switch strings.ToLower(strings.TrimSpace(r.ReplicaSelector)) {
	case "", ReplicaSelectorRandom, ReplicaSelectorRoundRobin:
		return nil
	default:
		return fmt.Errorf("%s must be %q or %q, got %q", EnvRedisReplicaSelect, ReplicaSelectorRandom, ReplicaSelectorRoundRobin, r.ReplicaSelector)
	}
}

func (c CartConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(c.WriteSerialization)) {
	case "", WriteSerializationNone, WriteSerializationLocal, WriteSerializationRedis:
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvWriteSerialization, c.WriteSerialization)
	}
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
