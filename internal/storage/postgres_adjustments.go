package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/revshare/internal/models"
)

// PostgresOverrideRepo implements OverrideRepo using PostgreSQL.
type PostgresOverrideRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresOverrideRepo(pool *pgxpool.Pool) *PostgresOverrideRepo {
	return &PostgresOverrideRepo{pool: pool}
}

func (r *PostgresOverrideRepo) ListOverrides(ctx context.Context, owner string, from, to time.Time) ([]*models.RatePolicyOverride, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT publisher_key, year_month, unit_price::text, unit_type
		FROM rate_overrides
		WHERE owner_id = $1 AND year_month >= $2 AND year_month <= $3
		ORDER BY year_month, publisher_key
	`, owner, models.MonthStart(from), models.MonthStart(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list rate overrides: %w", err)
	}
	defer rows.Close()

	var overrides []*models.RatePolicyOverride
	for rows.Next() {
		o := models.RatePolicyOverride{Owner: owner}
		var price, unitType string
		if err := rows.Scan(&o.PublisherKey, &o.YearMonth, &price, &unitType); err != nil {
			return nil, err
		}
		if o.UnitPrice, err = parseDecimal(price); err != nil {
			return nil, fmt.Errorf("invalid override price: %w", err)
		}
		o.UnitType = models.UnitType(unitType)
		o.YearMonth = models.MonthStart(o.YearMonth)
		overrides = append(overrides, &o)
	}
	return overrides, rows.Err()
}

func (r *PostgresOverrideRepo) UpsertOverride(ctx context.Context, o *models.RatePolicyOverride) error {
	if err := o.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rate_overrides (owner_id, publisher_key, year_month, unit_price, unit_type)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (owner_id, publisher_key, year_month) DO UPDATE SET
			unit_price = EXCLUDED.unit_price,
			unit_type = EXCLUDED.unit_type
	`, o.Owner, o.PublisherKey, o.YearMonth, o.UnitPrice.String(), string(o.UnitType))
	if err != nil {
		return fmt.Errorf("failed to upsert rate override: %w", err)
	}
	return nil
}

// PostgresAdjustmentRepo implements AdjustmentRepo using PostgreSQL.
type PostgresAdjustmentRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresAdjustmentRepo(pool *pgxpool.Pool) *PostgresAdjustmentRepo {
	return &PostgresAdjustmentRepo{pool: pool}
}

func (r *PostgresAdjustmentRepo) ListAdjustments(ctx context.Context, owner string, from, to time.Time) ([]*models.Adjustment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, adj_date, section, amount::text, memo
		FROM adjustments
		WHERE owner_id = $1 AND adj_date >= $2 AND adj_date <= $3
		ORDER BY adj_date, section
	`, owner, models.Day(from), models.Day(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	defer rows.Close()

	var adjustments []*models.Adjustment
	for rows.Next() {
		a := models.Adjustment{Owner: owner}
		var id uuid.UUID
		var section, amount string
		if err := rows.Scan(&id, &a.Date, &section, &amount, &a.Memo); err != nil {
			return nil, err
		}
		if a.Amount, err = parseDecimal(amount); err != nil {
			return nil, fmt.Errorf("invalid adjustment amount: %w", err)
		}
		a.ID = id.String()
		a.Section = models.AdjustmentSection(section)
		a.Date = models.Day(a.Date)
		adjustments = append(adjustments, &a)
	}
	return adjustments, rows.Err()
}

func (r *PostgresAdjustmentRepo) UpsertAdjustment(ctx context.Context, a *models.Adjustment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO adjustments (id, owner_id, adj_date, section, amount, memo)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		ON CONFLICT (owner_id, adj_date, section) DO UPDATE SET
			amount = EXCLUDED.amount,
			memo = EXCLUDED.memo
		RETURNING id
	`, a.ID, a.Owner, a.Date, string(a.Section), a.Amount.String(), a.Memo).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to upsert adjustment: %w", err)
	}
	a.ID = id.String()
	return nil
}

// PostgresPoolStats implements PoolStatsSource on the pool_click_stats table.
// It serves deployments without ClickHouse.
type PostgresPoolStats struct {
	pool *pgxpool.Pool
}

func NewPostgresPoolStats(pool *pgxpool.Pool) *PostgresPoolStats {
	return &PostgresPoolStats{pool: pool}
}

func (r *PostgresPoolStats) PoolStats(ctx context.Context, start, end time.Time) (*models.PoolStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT publisher_key, stat_date, pool_clicks, clicks, pageviews, valid_pageviews
		FROM pool_click_stats
		WHERE stat_date >= $1 AND stat_date <= $2
		ORDER BY stat_date, publisher_key
	`, models.Day(start), models.Day(end))
	if err != nil {
		return nil, fmt.Errorf("failed to query pool stats: %w", err)
	}
	defer rows.Close()

	var stats []models.PoolClickStat
	for rows.Next() {
		var s models.PoolClickStat
		if err := rows.Scan(&s.PublisherKey, &s.Date, &s.PoolClicks, &s.Clicks, &s.Pageviews, &s.ValidPageviews); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return models.NewPoolStats(stats), nil
}
