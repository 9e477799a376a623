package revenue

import (
	"fmt"
	"time"

	"github.com/radiusdt/revshare/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// dayFacts is one day's attributed revenue before costs.
type dayFacts struct {
	date    time.Time
	missing bool
	// ledger revenue per bucket, excluding the pool placement
	ledger map[models.Bucket]decimal.Decimal
	// direct revenue per group id
	groupDirect map[string]decimal.Decimal
	poolRevenue models.PoolRevenueStat
	pool        PoolAllocation
	traffic     map[string]models.PoolClickStat
	adjRevenue  map[models.Bucket]decimal.Decimal
	adjCost     map[models.Bucket]decimal.Decimal
}

func newDayFacts(d time.Time) *dayFacts {
	return &dayFacts{
		date:        d,
		ledger:      zeroBuckets(),
		groupDirect: make(map[string]decimal.Decimal),
		poolRevenue: models.PoolRevenueStat{Date: d, Earnings: decimal.Zero},
		traffic:     make(map[string]models.PoolClickStat),
		adjRevenue:  zeroBuckets(),
		adjCost:     zeroBuckets(),
	}
}

func zeroBuckets() map[models.Bucket]decimal.Decimal {
	m := make(map[models.Bucket]decimal.Decimal, len(models.Buckets))
	for _, b := range models.Buckets {
		m[b] = decimal.Zero
	}
	return m
}

// periodFacts holds the attributed days of a range in order.
type periodFacts struct {
	in     *periodInputs
	days   []*dayFacts
	byDate map[time.Time]*dayFacts
}

// PublisherDay is one publisher's revenue-share figures for one day.
type PublisherDay struct {
	Date          time.Time         `json:"date"`
	PublisherKey  string            `json:"publisher_key"`
	DirectRevenue decimal.Decimal   `json:"direct_revenue"`
	PoolRevenue   decimal.Decimal   `json:"pool_revenue"`
	AdRevenue     decimal.Decimal   `json:"ad_revenue"`
	Clicks        int64             `json:"clicks"`
	Policy        models.RatePolicy `json:"policy"`
	Cost          int64             `json:"cost"`
}

// attribute normalizes and buckets every ledger record and splits the pool
// per day.
func (e *Engine) attribute(in *periodInputs) *periodFacts {
	pf := &periodFacts{in: in, byDate: make(map[time.Time]*dayFacts)}
	for _, d := range in.rng.Days() {
		df := newDayFacts(d)
		pf.days = append(pf.days, df)
		pf.byDate[d] = df
	}
	for _, d := range in.missingDays {
		if df, ok := pf.byDate[models.Day(d)]; ok {
			df.missing = true
		}
	}

	unmapped := 0
	for _, rec := range in.records {
		df, ok := pf.byDate[models.Day(rec.Date)]
		if !ok || df.missing {
			continue
		}
		amount := e.normalizer.Normalize(rec, in.rates)

		switch e.classifier.Classify(rec) {
		case KindPool:
			df.poolRevenue.Earnings = df.poolRevenue.Earnings.Add(amount)
			df.poolRevenue.Clicks += rec.Clicks
		case KindPoolOnly:
			df.ledger[models.BucketPoolOnly] = df.ledger[models.BucketPoolOnly].Add(amount)
		case KindPartnerNetwork:
			df.ledger[models.BucketPartner] = df.ledger[models.BucketPartner].Add(amount)
		default:
			bucket, g := in.attribution.Resolve(rec.Platform, rec.AdUnitID)
			df.ledger[bucket] = df.ledger[bucket].Add(amount)
			if g == nil {
				unmapped++
				continue
			}
			df.groupDirect[g.ID] = df.groupDirect[g.ID].Add(amount)
		}
	}
	e.metrics.RecordLedger(len(in.records), unmapped)

	byDate := in.traffic.ByDate()
	for _, df := range pf.days {
		clicks := make(map[string]int64)
		for _, s := range byDate[df.date] {
			df.traffic[s.PublisherKey] = s
			clicks[s.PublisherKey] += s.PoolClicks
		}
		day := e.pool.Price(df.poolRevenue, in.traffic.NetworkTotals[df.date])
		df.pool = e.pool.Distribute(day, clicks, in.bucketOf)
		if df.pool.Partner.IsPositive() {
			e.metrics.RecordPoolAllocation(string(models.BucketPartner))
		}
		if df.pool.Remaining.IsPositive() {
			e.metrics.RecordPoolAllocation(string(models.BucketPublisher))
		}
	}

	for _, a := range in.adjustments {
		df, ok := pf.byDate[models.Day(a.Date)]
		if !ok {
			continue
		}
		bucket, isCost, err := a.Section.Bucket()
		if err != nil {
			e.logger.Warn("skipping adjustment", zap.String("id", a.ID), zap.Error(err))
			continue
		}
		if isCost {
			df.adjCost[bucket] = df.adjCost[bucket].Add(a.Amount)
		} else {
			df.adjRevenue[bucket] = df.adjRevenue[bucket].Add(a.Amount)
		}
	}

	return pf
}

// publisherDay computes one publisher's revenue-share cost for a day. It is
// the single path for grouped and ungrouped publishers; group may be nil.
func (e *Engine) publisherDay(pf *periodFacts, df *dayFacts, key string, group *models.RevenueShareGroup) (PublisherDay, error) {
	pd := PublisherDay{
		Date:          df.date,
		PublisherKey:  key,
		DirectRevenue: decimal.Zero,
		PoolRevenue:   decimal.Zero,
		Policy:        pf.in.policies.Effective(key, group, df.date),
	}
	if df.missing {
		pd.AdRevenue = decimal.Zero
		return pd, nil
	}
	if group != nil {
		if v, ok := df.groupDirect[group.ID]; ok {
			pd.DirectRevenue = v
		}
	}
	if v, ok := df.pool.ByPublisher[key]; ok {
		pd.PoolRevenue = v
	}
	pd.AdRevenue = pd.DirectRevenue.Add(pd.PoolRevenue)
	pd.Clicks = df.traffic[key].Clicks

	cost, err := e.costs.PurchaseCost(pd.Policy, pd.AdRevenue, pd.Clicks)
	if err != nil {
		e.metrics.RecordInvalidPolicy()
		return pd, fmt.Errorf("publisher %s on %s: %w", key, df.date.Format(models.DateLayout), err)
	}
	pd.Cost = cost
	return pd, nil
}

// partnerValidPageviews sums valid pageviews of every non-publisher-tier key.
func (pf *periodFacts) partnerValidPageviews(df *dayFacts) int64 {
	var total int64
	for key, s := range df.traffic {
		if pf.in.bucketOf(key) == models.BucketPartner {
			total += s.ValidPageviews
		}
	}
	return total
}
