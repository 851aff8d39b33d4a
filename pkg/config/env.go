package config

const (
	EnvPrefix = "CARTCACHE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv = "CARTCACHE_APP_ENV"
	EnvPort   = "CARTCACHE_APP_PORT"

	EnvDBDSN    = "CARTCACHE_DB_DSN"
	EnvDBDriver = "CARTCACHE_DB_DRIVER"
	EnvDBHost   = "CARTCACHE_DB_HOST"
	EnvDBUser   = "CARTCACHE_DB_USER"
	EnvDBName   = "CARTCACHE_DB_NAME"

	EnvRedisMasterURL     = "CARTCACHE_REDIS_MASTER_URL"
	EnvRedisMasterAddr    = "CARTCACHE_REDIS_MASTER_ADDR"
	EnvRedisReplicaURLs   = "CARTCACHE_REDIS_REPLICA_URLS"
	EnvRedisReplicaSelect = "CARTCACHE_REDIS_REPLICA_SELECTOR"

	EnvCartKeyPrefix      = "CARTCACHE_CART_KEY_PREFIX"
	EnvPopularityKey      = "CARTCACHE_POPULARITY_KEY"
	EnvCacheTTL           = "CARTCACHE_CACHE_TTL"
	EnvWriteSerialization = "CARTCACHE_CART_WRITE_SERIALIZATION"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

// Replica selector strategies.
const (
	ReplicaSelectorRandom     = "random"
	ReplicaSelectorRoundRobin = "round_robin"
)

// Write serialization modes for cart mutations.
const (
	WriteSerializationNone  = "none"
	WriteSerializationLocal = "local"
	WriteSerializationRedis = "redis"
)
