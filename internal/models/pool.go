package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolClickStat is one publisher's traffic on one day.
type PoolClickStat struct {
	PublisherKey   string    `json:"publisher_key"`
	Date           time.Time `json:"date"`
	PoolClicks     int64     `json:"pool_clicks"`
	Clicks         int64     `json:"clicks"`
	Pageviews      int64     `json:"pageviews"`
	ValidPageviews int64     `json:"valid_pageviews"`
}

// PoolStats is the traffic picture for a date range.
type PoolStats struct {
	// NetworkTotals is the pool click count over all publishers per day.
	NetworkTotals map[time.Time]int64 `json:"network_totals"`
	Publishers    []PoolClickStat     `json:"publishers"`
}

// NewPoolStats indexes rows and derives network totals from them.
func NewPoolStats(rows []PoolClickStat) *PoolStats {
	s := &PoolStats{
		NetworkTotals: make(map[time.Time]int64),
		Publishers:    make([]PoolClickStat, 0, len(rows)),
	}
	for _, row := range rows {
		row.Date = Day(row.Date)
		s.NetworkTotals[row.Date] += row.PoolClicks
		s.Publishers = append(s.Publishers, row)
	}
	return s
}

// ByDate groups publisher rows per day.
func (s *PoolStats) ByDate() map[time.Time][]PoolClickStat {
	out := make(map[time.Time][]PoolClickStat)
	if s == nil {
		return out
	}
	for _, row := range s.Publishers {
		out[row.Date] = append(out[row.Date], row)
	}
	return out
}

// PoolRevenueStat is the reported revenue of the shared placement on one day.
type PoolRevenueStat struct {
	Date     time.Time       `json:"date"`
	Earnings decimal.Decimal `json:"earnings"`
	Clicks   int64           `json:"clicks"`
}
