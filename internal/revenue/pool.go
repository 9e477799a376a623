package revenue

import (
	"sort"
	"time"

	"github.com/radiusdt/revshare/internal/models"
	"github.com/shopspring/decimal"
)

// PoolDay holds the per-day pricing of the shared placement.
type PoolDay struct {
	Date time.Time `json:"date"`
	// Earnings and Clicks are what the placement itself reported.
	Earnings decimal.Decimal `json:"earnings"`
	Clicks   int64           `json:"clicks"`
	// NetworkClicks is the pool click count over every publisher.
	NetworkClicks   int64           `json:"network_clicks"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	RecognitionRate decimal.Decimal `json:"recognition_rate"`
	NetCPC          decimal.Decimal `json:"net_cpc"`
}

// PoolAllocation is the split of one day's pool revenue.
type PoolAllocation struct {
	Day PoolDay `json:"day"`
	// ByPublisher is each publisher's own allocation, used for RS costs.
	ByPublisher map[string]decimal.Decimal `json:"by_publisher"`
	// Partner is the sum of partner-bucket publisher allocations.
	Partner       decimal.Decimal `json:"partner"`
	PartnerClicks int64           `json:"partner_clicks"`
	// Remaining is the allocation of clicks not claimed by partners, owned by
	// the publisher bucket.
	Remaining       decimal.Decimal `json:"remaining"`
	RemainingClicks int64           `json:"remaining_clicks"`
}

// PoolDistributor splits the shared placement's revenue by click share.
type PoolDistributor struct {
	factor decimal.Decimal
}

func NewPoolDistributor(factor decimal.Decimal) *PoolDistributor {
	return &PoolDistributor{factor: factor}
}

var hundred = decimal.NewFromInt(100)

// Price computes the unit price and recognition rate for a day. Zero
// denominators yield zero values.
func (p *PoolDistributor) Price(rev models.PoolRevenueStat, networkClicks int64) PoolDay {
	day := PoolDay{
		Date:            models.Day(rev.Date),
		Earnings:        rev.Earnings,
		Clicks:          rev.Clicks,
		NetworkClicks:   networkClicks,
		UnitPrice:       decimal.Zero,
		RecognitionRate: decimal.Zero,
		NetCPC:          decimal.Zero,
	}
	if rev.Clicks > 0 {
		day.UnitPrice = rev.Earnings.Div(decimal.NewFromInt(rev.Clicks)).Round(2)
	}
	if networkClicks > 0 {
		day.RecognitionRate = decimal.NewFromInt(rev.Clicks).Div(decimal.NewFromInt(networkClicks))
	}
	day.NetCPC = day.RecognitionRate.Mul(day.UnitPrice).Mul(p.factor).Round(2)
	return day
}

// Allocate returns the revenue for clicks pool clicks on day, rounded half-up
// to whole currency units.
func (p *PoolDistributor) Allocate(day PoolDay, clicks int64) decimal.Decimal {
	if clicks <= 0 || day.Clicks <= 0 || day.NetworkClicks <= 0 || !day.UnitPrice.IsPositive() {
		return decimal.Zero
	}
	// unit_price × clicks × factor × (pool_clicks / network_clicks), dividing last.
	return day.UnitPrice.
		Mul(decimal.NewFromInt(clicks)).
		Mul(p.factor).
		Mul(decimal.NewFromInt(day.Clicks)).
		Div(decimal.NewFromInt(day.NetworkClicks)).
		Round(0)
}

// Distribute allocates the day to every publisher. bucketOf classifies
// publisher keys; partner-bucket clicks are subtracted from the network total
// to get the publisher bucket's remaining clicks.
func (p *PoolDistributor) Distribute(day PoolDay, clicks map[string]int64, bucketOf func(string) models.Bucket) PoolAllocation {
	alloc := PoolAllocation{
		Day:         day,
		ByPublisher: make(map[string]decimal.Decimal, len(clicks)),
		Partner:     decimal.Zero,
		Remaining:   decimal.Zero,
	}

	keys := make([]string, 0, len(clicks))
	for k := range clicks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		n := clicks[key]
		amount := p.Allocate(day, n)
		alloc.ByPublisher[key] = amount
		if bucketOf(key) == models.BucketPartner {
			alloc.Partner = alloc.Partner.Add(amount)
			alloc.PartnerClicks += n
		}
	}

	alloc.RemainingClicks = day.NetworkClicks - alloc.PartnerClicks
	if alloc.RemainingClicks < 0 {
		alloc.RemainingClicks = 0
	}
	alloc.Remaining = p.Allocate(day, alloc.RemainingClicks)
	return alloc
}

// Total is the bucket-level pool revenue for the day.
func (a PoolAllocation) Total() decimal.Decimal {
	return a.Partner.Add(a.Remaining)
}
