package config

import (
	"os"
)

// Store-type and TSDB-type flag values.
const (
	StoreTypeSQL   = "sql"
	StoreTypeRedis = "redis"

	TSDBTypeTDEngine = "tdengine"
	TSDBTypeDuckDB   = "duckdb"
)

// Config holds the core runtime configuration for the service.
// Values are primarily sourced from environment variables, with
// sensible defaults where appropriate. See .env.example.
type Config struct {
	// Project scopes every record and subtable written by this worker.
	Project string

	// DatabaseURL selects the relational metadata store when it carries
	// a postgres:// or postgresql:// scheme. When empty, StoreType
	// decides the variant explicitly.
	DatabaseURL string

	// StoreType selects the metadata store variant ("sql" or "redis")
	// when DatabaseURL does not force the relational one.
	StoreType string

	// TSDBType selects the time-series connector variant
	// ("tdengine" or "duckdb").
	TSDBType string

	// TDEngineDSN is the TDengine connection string (taosRestful DSN).
	TDEngineDSN string

	// DuckDBPath is the DuckDB database file. Empty means in-memory.
	DuckDBPath string

	// RedisAddr is the Redis host:port used by the document store and
	// the result stream.
	RedisAddr string

	// ResultStream is the Redis stream carrying monitoring-application
	// result records.
	ResultStream string

	ListenAddr string
}

// Load reads configuration from environment variables and applies defaults.
func Load() *Config {
	return &Config{
		Project:      getenv("APP_PROJECT", "default"),
		DatabaseURL:  os.Getenv("APP_DATABASE_URL"),
		StoreType:    getenv("APP_STORE_TYPE", StoreTypeSQL),
		TSDBType:     getenv("APP_TSDB_TYPE", TSDBTypeDuckDB),
		TDEngineDSN:  os.Getenv("APP_TDENGINE_DSN"),
		DuckDBPath:   os.Getenv("APP_DUCKDB_PATH"),
		RedisAddr:    getenv("APP_REDIS_ADDR", "localhost:6379"),
		ResultStream: getenv("APP_RESULT_STREAM", "monitoring-app-results"),
		ListenAddr:   getenv("APP_LISTEN_ADDR", ":8080"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
