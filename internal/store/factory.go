package store

import (
	"database/sql"
	"log"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/redis/go-redis/v9"
	_ "github.com/taosdata/driver-go/v3/taosRestful"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"modelmon/internal/config"
	merr "modelmon/internal/errors"
	"modelmon/internal/tsdb"
)

// NewTimeSeriesConnector resolves the configured time-series variant and
// opens its backing connection.
func NewTimeSeriesConnector(cfg *config.Config) (tsdb.Connector, error) {
	switch cfg.TSDBType {
	case config.TSDBTypeTDEngine:
		db, err := sql.Open("taosRestful", cfg.TDEngineDSN)
		if err != nil {
			return nil, merr.Wrap(err, "opening tdengine connection")
		}
		log.Printf("time-series connector: tdengine (project %s)", cfg.Project)
		return tsdb.NewTDEngineConnector(cfg.Project, db), nil
	case config.TSDBTypeDuckDB:
		db, err := sql.Open("duckdb", cfg.DuckDBPath)
		if err != nil {
			return nil, merr.Wrap(err, "opening duckdb database")
		}
		log.Printf("time-series connector: duckdb (project %s)", cfg.Project)
		return tsdb.NewDuckDBConnector(cfg.Project, db), nil
	default:
		return nil, merr.NewInvalidArgument("tsdb type", cfg.TSDBType,
			config.TSDBTypeTDEngine+", "+config.TSDBTypeDuckDB)
	}
}

// NewMetadataStore resolves the configured metadata-store variant. A
// postgres:// or postgresql:// connection string forces the relational
// variant regardless of the store-type flag; otherwise the flag decides.
func NewMetadataStore(cfg *config.Config, reader MetricsReader) (MetadataStore, error) {
	storeType := cfg.StoreType
	if hasPostgresScheme(cfg.DatabaseURL) {
		storeType = config.StoreTypeSQL
	}

	switch storeType {
	case config.StoreTypeSQL:
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{TranslateError: true})
		if err != nil {
			return nil, merr.Wrap(err, "opening metadata database")
		}
		log.Printf("metadata store: sql (project %s)", cfg.Project)
		return NewSQLStore(cfg.Project, db, reader), nil
	case config.StoreTypeRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		log.Printf("metadata store: redis at %s (project %s)", cfg.RedisAddr, cfg.Project)
		return NewRedisStore(cfg.Project, client, reader), nil
	default:
		return nil, merr.NewInvalidArgument("store type", storeType,
			config.StoreTypeSQL+", "+config.StoreTypeRedis)
	}
}

func hasPostgresScheme(url string) bool {
	return strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://")
}
