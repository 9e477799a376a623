package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/radiusdt/revshare/internal/models"
)

// ClickHousePoolStats reads pool click statistics from the traffic warehouse.
type ClickHousePoolStats struct {
	conn  driver.Conn
	table string
}

func NewClickHousePoolStats(conn driver.Conn) *ClickHousePoolStats {
	return &ClickHousePoolStats{conn: conn, table: "pool_click_stats"}
}

func (r *ClickHousePoolStats) PoolStats(ctx context.Context, start, end time.Time) (*models.PoolStats, error) {
	query := fmt.Sprintf(`
		SELECT publisher_key, stat_date,
			sum(pool_clicks), sum(clicks), sum(pageviews), sum(valid_pageviews)
		FROM %s
		WHERE stat_date >= toDate(?) AND stat_date <= toDate(?)
		GROUP BY publisher_key, stat_date
		ORDER BY stat_date, publisher_key`, r.table)

	rows, err := r.conn.Query(ctx, query,
		models.Day(start).Format(models.DateLayout),
		models.Day(end).Format(models.DateLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query clickhouse pool stats: %w", err)
	}
	defer rows.Close()

	var stats []models.PoolClickStat
	for rows.Next() {
		var (
			key                             string
			date                            time.Time
			poolClicks, clicks, pv, validPV uint64
		)
		if err := rows.Scan(&key, &date, &poolClicks, &clicks, &pv, &validPV); err != nil {
			return nil, fmt.Errorf("failed to scan clickhouse pool stats: %w", err)
		}
		stats = append(stats, models.PoolClickStat{
			PublisherKey:   key,
			Date:           date,
			PoolClicks:     int64(poolClicks),
			Clicks:         int64(clicks),
			Pageviews:      int64(pv),
			ValidPageviews: int64(validPV),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return models.NewPoolStats(stats), nil
}
