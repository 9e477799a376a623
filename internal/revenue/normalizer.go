package revenue

import (
	"time"

	"github.com/radiusdt/revshare/internal/models"
	"github.com/shopspring/decimal"
)

// RateTable holds an owner's monthly exchange rates keyed by month start.
type RateTable struct {
	rates map[time.Time]decimal.Decimal
}

// NewRateTable indexes rates by the first day of their month.
func NewRateTable(rates []*models.ExchangeRate) *RateTable {
	t := &RateTable{rates: make(map[time.Time]decimal.Decimal, len(rates))}
	for _, r := range rates {
		t.rates[models.MonthStart(r.YearMonth)] = r.Rate
	}
	return t
}

// Lookup returns the rate for the month containing date.
func (t *RateTable) Lookup(date time.Time) (decimal.Decimal, bool) {
	if t == nil {
		return decimal.Zero, false
	}
	rate, ok := t.rates[models.MonthStart(date)]
	return rate, ok
}

// Normalizer converts ledger earnings into the reporting currency.
type Normalizer struct {
	usd         map[string]bool
	defaultRate decimal.Decimal
}

func NewNormalizer(usdPlatforms []string, defaultRate decimal.Decimal) *Normalizer {
	n := &Normalizer{
		usd:         make(map[string]bool, len(usdPlatforms)),
		defaultRate: defaultRate,
	}
	for _, p := range usdPlatforms {
		n.usd[p] = true
	}
	return n
}

// ReportsUSD reports whether platform earnings are converted from USD.
func (n *Normalizer) ReportsUSD(platform string) bool {
	return n.usd[platform]
}

// Rate returns the month's rate, falling back to the default rate.
func (n *Normalizer) Rate(rates *RateTable, date time.Time) decimal.Decimal {
	if rate, ok := rates.Lookup(date); ok {
		return rate
	}
	return n.defaultRate
}

// Normalize returns the record's earnings in the reporting currency. It never
// fails: a missing month uses the default rate.
func (n *Normalizer) Normalize(rec *models.RevenueRecord, rates *RateTable) decimal.Decimal {
	if n.usd[rec.Platform] {
		return rec.EarningsUSD.Mul(n.Rate(rates, rec.Date))
	}
	return rec.EarningsNative
}
