package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/revshare/internal/models"
	"github.com/shopspring/decimal"
)

// Numeric columns are selected as text and parsed with decimal so no
// precision is lost through float conversion.

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// PostgresLedger implements LedgerStore using PostgreSQL.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (r *PostgresLedger) QueryRevenue(ctx context.Context, owner string, q LedgerQuery) ([]*models.RevenueRecord, error) {
	query := `
		SELECT platform, alias, stat_date, content_id, ad_unit_id, ad_unit_name,
			   earnings_native::text, earnings_usd::text, clicks, impressions,
			   order_count, total_amount::text
		FROM revenue_records
		WHERE owner_id = $1 AND stat_date >= $2 AND stat_date <= $3`
	args := []interface{}{owner, models.Day(q.Start), models.Day(q.End)}

	if len(q.Platforms) > 0 {
		args = append(args, q.Platforms)
		query += fmt.Sprintf(" AND platform = ANY($%d)", len(args))
	}
	if len(q.AdUnitIDs) > 0 {
		args = append(args, q.AdUnitIDs)
		query += fmt.Sprintf(" AND ad_unit_id = ANY($%d)", len(args))
	}
	query += " ORDER BY stat_date, platform, alias, ad_unit_id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query revenue records: %w", err)
	}
	defer rows.Close()

	var records []*models.RevenueRecord
	for rows.Next() {
		rec := models.RevenueRecord{Owner: owner}
		var native, usd, total string
		if err := rows.Scan(
			&rec.Platform, &rec.Alias, &rec.Date, &rec.ContentID, &rec.AdUnitID, &rec.AdUnitName,
			&native, &usd, &rec.Clicks, &rec.Impressions,
			&rec.OrderCount, &total,
		); err != nil {
			return nil, fmt.Errorf("failed to scan revenue record: %w", err)
		}
		if rec.EarningsNative, err = parseDecimal(native); err != nil {
			return nil, fmt.Errorf("invalid earnings_native: %w", err)
		}
		if rec.EarningsUSD, err = parseDecimal(usd); err != nil {
			return nil, fmt.Errorf("invalid earnings_usd: %w", err)
		}
		if rec.TotalAmount, err = parseDecimal(total); err != nil {
			return nil, fmt.Errorf("invalid total_amount: %w", err)
		}
		rec.Date = models.Day(rec.Date)
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// PostgresExchangeRateRepo implements ExchangeRateRepo using PostgreSQL.
type PostgresExchangeRateRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresExchangeRateRepo(pool *pgxpool.Pool) *PostgresExchangeRateRepo {
	return &PostgresExchangeRateRepo{pool: pool}
}

func (r *PostgresExchangeRateRepo) GetRate(ctx context.Context, owner string, month time.Time) (*models.ExchangeRate, error) {
	rate := models.ExchangeRate{Owner: owner}
	var value string
	err := r.pool.QueryRow(ctx, `
		SELECT year_month, rate::text FROM exchange_rates
		WHERE owner_id = $1 AND year_month = $2
	`, owner, models.MonthStart(month)).Scan(&rate.YearMonth, &value)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange rate: %w", err)
	}
	if rate.Rate, err = parseDecimal(value); err != nil {
		return nil, fmt.Errorf("invalid exchange rate: %w", err)
	}
	rate.YearMonth = models.MonthStart(rate.YearMonth)
	return &rate, nil
}

func (r *PostgresExchangeRateRepo) ListRates(ctx context.Context, owner string, from, to time.Time) ([]*models.ExchangeRate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT year_month, rate::text FROM exchange_rates
		WHERE owner_id = $1 AND year_month >= $2 AND year_month <= $3
		ORDER BY year_month
	`, owner, models.MonthStart(from), models.MonthStart(to))
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange rates: %w", err)
	}
	defer rows.Close()

	var rates []*models.ExchangeRate
	for rows.Next() {
		rate := models.ExchangeRate{Owner: owner}
		var value string
		if err := rows.Scan(&rate.YearMonth, &value); err != nil {
			return nil, err
		}
		if rate.Rate, err = parseDecimal(value); err != nil {
			return nil, fmt.Errorf("invalid exchange rate: %w", err)
		}
		rate.YearMonth = models.MonthStart(rate.YearMonth)
		rates = append(rates, &rate)
	}
	return rates, rows.Err()
}

func (r *PostgresExchangeRateRepo) UpsertRate(ctx context.Context, rate *models.ExchangeRate) error {
	if err := rate.Validate(); err != nil {
		return err
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO exchange_rates (owner_id, year_month, rate, updated_at)
		VALUES ($1, $2, $3::numeric, NOW())
		ON CONFLICT (owner_id, year_month) DO UPDATE SET
			rate = EXCLUDED.rate,
			updated_at = NOW()
	`, rate.Owner, rate.YearMonth, rate.Rate.String())
	if err != nil {
		return fmt.Errorf("failed to upsert exchange rate: %w", err)
	}
	return nil
}

// PostgresDirectory implements Directory on the publishers table.
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

func (r *PostgresDirectory) GetPublisher(ctx context.Context, key string) (*models.Publisher, error) {
	var name string
	var level int
	err := r.pool.QueryRow(ctx, `
		SELECT display_name, level FROM publishers WHERE external_key = $1
	`, key).Scan(&name, &level)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get publisher: %w", err)
	}
	return models.NewPublisher(key, name, level), nil
}

func (r *PostgresDirectory) ListPublishers(ctx context.Context, keys []string) ([]*models.Publisher, error) {
	if len(keys) == 0 {
		return r.queryPublishers(ctx, `
			SELECT external_key, display_name, level FROM publishers ORDER BY external_key
		`)
	}
	return r.queryPublishers(ctx, `
		SELECT external_key, display_name, level FROM publishers
		WHERE external_key = ANY($1) ORDER BY external_key
	`, keys)
}

func (r *PostgresDirectory) SearchPublishers(ctx context.Context, terms []string) ([]*models.Publisher, error) {
	patterns := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		patterns = append(patterns, "%"+escapeLike(t)+"%")
	}
	if len(patterns) == 0 {
		return nil, nil
	}
	return r.queryPublishers(ctx, `
		SELECT external_key, display_name, level FROM publishers
		WHERE external_key ILIKE ANY($1) OR display_name ILIKE ANY($1)
		ORDER BY external_key
	`, patterns)
}

func (r *PostgresDirectory) queryPublishers(ctx context.Context, query string, args ...interface{}) ([]*models.Publisher, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query publishers: %w", err)
	}
	defer rows.Close()

	var publishers []*models.Publisher
	for rows.Next() {
		var key, name string
		var level int
		if err := rows.Scan(&key, &name, &level); err != nil {
			return nil, err
		}
		publishers = append(publishers, models.NewPublisher(key, name, level))
	}
	return publishers, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
