package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shardmap/shardmap/pkg/config"
)

// PostgreSQL represents a PostgreSQL database connection
type PostgreSQL struct {
	pool *pgxpool.Pool
}

type PostgreSQLConfig struct {
	User              string
	Password          string
	Host              string
	Port              int
	Database          string
	SSLMode           string
	MaxConnections    int32
	ConnectionTimeout time.Duration
}

// New creates a new PostgreSQL instance
func New(ctx context.Context, cfg PostgreSQLConfig) (*PostgreSQL, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user is required")
	}

	// Use pgxpool.ParseConfig to handle special characters in passwords
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to create connection config: %w", err)
	}

	// Set connection parameters individually to avoid URL parsing issues
	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = cfg.Database
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	switch cfg.SSLMode {
	case "disable":
		poolConfig.ConnConfig.TLSConfig = nil
	case "require", "prefer":
		// pgx handles the TLS negotiation automatically
	default:
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MaxConnIdleTime = cfg.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgreSQL{pool: pool}, nil
}

// FromGlobalConfig creates a PostgreSQL config from the global configuration
func FromGlobalConfig(cfg *config.Config) PostgreSQLConfig {
	port := 5432
	if p, err := strconv.Atoi(cfg.Get("metadata.port")); err == nil {
		port = p
	}

	return PostgreSQLConfig{
		User:              cfg.GetWithDefault("metadata.user", "shardmap"),
		Password:          cfg.GetWithDefault("metadata.password", "shardmap"),
		Host:              cfg.GetWithDefault("metadata.host", "localhost"),
		Port:              port,
		Database:          cfg.GetWithDefault("metadata.database", "shardmap"),
		SSLMode:           cfg.GetWithDefault("metadata.sslmode", "disable"),
		MaxConnections:    40,
		ConnectionTimeout: 5 * time.Second,
	}
}

// URI renders the configuration as a connection URI. The catalog stores it
// as the default index-storage location of new partition dimensions.
func (cfg PostgreSQLConfig) URI() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}

// Pool returns the underlying connection pool
func (db *PostgreSQL) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database connection is alive
func (db *PostgreSQL) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close closes the database connection
func (db *PostgreSQL) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}
