package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/revshare/internal/config"
	"go.uber.org/zap"
)

// PostgresDB wraps a pgx connection pool with convenience methods.
type PostgresDB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresDB creates a new PostgreSQL connection pool.
func NewPostgresDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresDB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.DBName),
		zap.Int("max_conns", cfg.MaxConns),
	)

	return &PostgresDB{
		Pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool.
func (db *PostgresDB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info("PostgreSQL connection pool closed")
	}
}

// Health checks if the database is reachable.
func (db *PostgresDB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Stats returns connection pool statistics.
func (db *PostgresDB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}

// Migrate creates the revshare tables when they do not exist yet.
// Ledger and directory tables are written by the ingestion side; they are
// created here only so a fresh database can serve empty reports.
func (db *PostgresDB) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	db.logger.Info("database schema ready", zap.Int("statements", len(schema)))
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS revenue_records (
		owner_id        TEXT NOT NULL,
		platform        TEXT NOT NULL,
		alias           TEXT NOT NULL DEFAULT '',
		stat_date       DATE NOT NULL,
		content_id      TEXT NOT NULL DEFAULT '',
		ad_unit_id      TEXT NOT NULL DEFAULT '',
		ad_unit_name    TEXT NOT NULL DEFAULT '',
		earnings_native NUMERIC(20,4) NOT NULL DEFAULT 0,
		earnings_usd    NUMERIC(20,4) NOT NULL DEFAULT 0,
		clicks          BIGINT NOT NULL DEFAULT 0,
		impressions     BIGINT NOT NULL DEFAULT 0,
		order_count     BIGINT NOT NULL DEFAULT 0,
		total_amount    NUMERIC(20,4) NOT NULL DEFAULT 0,
		PRIMARY KEY (owner_id, platform, alias, stat_date, content_id, ad_unit_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_revenue_records_owner_date ON revenue_records (owner_id, stat_date)`,
	`CREATE TABLE IF NOT EXISTS exchange_rates (
		owner_id   TEXT NOT NULL,
		year_month DATE NOT NULL,
		rate       NUMERIC(12,2) NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (owner_id, year_month)
	)`,
	`CREATE TABLE IF NOT EXISTS publishers (
		external_key TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		level        INT NOT NULL DEFAULT 60
	)`,
	`CREATE TABLE IF NOT EXISTS revenue_share_groups (
		id            UUID PRIMARY KEY,
		owner_id      TEXT NOT NULL,
		publisher_key TEXT NOT NULL,
		group_name    TEXT NOT NULL,
		company_name  TEXT NOT NULL DEFAULT '',
		service_name  TEXT NOT NULL DEFAULT '',
		unit_price    NUMERIC(10,2) NOT NULL,
		unit_type     TEXT NOT NULL,
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		important     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_rs_groups_active ON revenue_share_groups (owner_id, publisher_key) WHERE active`,
	`CREATE TABLE IF NOT EXISTS ad_unit_mappings (
		id           UUID PRIMARY KEY,
		group_id     UUID NOT NULL REFERENCES revenue_share_groups(id),
		platform     TEXT NOT NULL,
		ad_unit_id   TEXT NOT NULL,
		ad_unit_name TEXT NOT NULL DEFAULT '',
		active       BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (group_id, platform, ad_unit_id)
	)`,
	`CREATE TABLE IF NOT EXISTS rate_overrides (
		owner_id      TEXT NOT NULL,
		publisher_key TEXT NOT NULL,
		year_month    DATE NOT NULL,
		unit_price    NUMERIC(10,2) NOT NULL,
		unit_type     TEXT NOT NULL,
		PRIMARY KEY (owner_id, publisher_key, year_month)
	)`,
	`CREATE TABLE IF NOT EXISTS adjustments (
		id        UUID PRIMARY KEY,
		owner_id  TEXT NOT NULL,
		adj_date  DATE NOT NULL,
		section   TEXT NOT NULL,
		amount    NUMERIC(20,2) NOT NULL,
		memo      TEXT NOT NULL DEFAULT '',
		UNIQUE (owner_id, adj_date, section)
	)`,
	`CREATE TABLE IF NOT EXISTS pool_click_stats (
		publisher_key   TEXT NOT NULL,
		stat_date       DATE NOT NULL,
		pool_clicks     BIGINT NOT NULL DEFAULT 0,
		clicks          BIGINT NOT NULL DEFAULT 0,
		pageviews       BIGINT NOT NULL DEFAULT 0,
		valid_pageviews BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (publisher_key, stat_date)
	)`,
}
