package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// AccountKey identifies one ad-network account. Alias separates multiple
// accounts on the same platform.
type AccountKey struct {
	Platform string `json:"platform"`
	Alias    string `json:"alias"`
}

func (k AccountKey) String() string {
	if k.Alias == "" {
		return k.Platform
	}
	return k.Platform + ":" + k.Alias
}

// RevenueRecord is one per-day, per-ad-unit ledger row written by ingestion.
type RevenueRecord struct {
	Owner          string          `json:"owner"`
	Platform       string          `json:"platform"`
	Alias          string          `json:"alias"`
	Date           time.Time       `json:"date"`
	ContentID      string          `json:"content_id,omitempty"`
	AdUnitID       string          `json:"ad_unit_id"`
	AdUnitName     string          `json:"ad_unit_name,omitempty"`
	EarningsNative decimal.Decimal `json:"earnings_native"`
	EarningsUSD    decimal.Decimal `json:"earnings_usd"`
	Clicks         int64           `json:"clicks"`
	Impressions    int64           `json:"impressions"`
	OrderCount     int64           `json:"order_count"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
}

// Account returns the account the record was reported by.
func (r *RevenueRecord) Account() AccountKey {
	return AccountKey{Platform: r.Platform, Alias: r.Alias}
}

// Validate checks the fields ingestion must always provide.
func (r *RevenueRecord) Validate() error {
	if r == nil {
		return errors.New("revenue record is nil")
	}
	if r.Owner == "" {
		return errors.New("owner is required")
	}
	if r.Platform == "" {
		return errors.New("platform is required")
	}
	if r.Date.IsZero() {
		return errors.New("date is required")
	}
	if r.EarningsNative.IsNegative() || r.EarningsUSD.IsNegative() {
		return errors.New("earnings must not be negative")
	}
	return nil
}

// ExchangeRate converts USD earnings into the reporting currency for one month.
type ExchangeRate struct {
	Owner     string          `json:"owner"`
	YearMonth time.Time       `json:"year_month"`
	Rate      decimal.Decimal `json:"rate"`
}

// Validate checks the rate and normalizes YearMonth to the first of its month.
func (e *ExchangeRate) Validate() error {
	if e == nil {
		return errors.New("exchange rate is nil")
	}
	if e.Owner == "" {
		return errors.New("owner is required")
	}
	if e.YearMonth.IsZero() {
		return errors.New("year_month is required")
	}
	if !e.Rate.IsPositive() {
		return errors.New("rate must be positive")
	}
	e.YearMonth = MonthStart(e.YearMonth)
	return nil
}
