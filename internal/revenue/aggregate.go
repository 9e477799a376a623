package revenue

import (
	"context"
	"time"

	"github.com/radiusdt/revshare/internal/models"
	"github.com/shopspring/decimal"
)

// Amounts are the financial figures of one bucket.
type Amounts struct {
	Revenue decimal.Decimal `json:"revenue"`
	Cost    decimal.Decimal `json:"cost"`
	Profit  decimal.Decimal `json:"profit"`
}

func zeroAmounts() Amounts {
	return Amounts{Revenue: decimal.Zero, Cost: decimal.Zero, Profit: decimal.Zero}
}

func (a Amounts) add(b Amounts) Amounts {
	return Amounts{
		Revenue: a.Revenue.Add(b.Revenue),
		Cost:    a.Cost.Add(b.Cost),
		Profit:  a.Profit.Add(b.Profit),
	}
}

// Figures are the amounts of every bucket plus their total.
type Figures struct {
	Publisher Amounts `json:"publisher"`
	Partner   Amounts `json:"partner"`
	PoolOnly  Amounts `json:"pool_only"`
	Total     Amounts `json:"total"`
}

func zeroFigures() Figures {
	return Figures{
		Publisher: zeroAmounts(),
		Partner:   zeroAmounts(),
		PoolOnly:  zeroAmounts(),
		Total:     zeroAmounts(),
	}
}

// Bucket returns the amounts of b.
func (f Figures) Bucket(b models.Bucket) Amounts {
	switch b {
	case models.BucketPublisher:
		return f.Publisher
	case models.BucketPartner:
		return f.Partner
	case models.BucketPoolOnly:
		return f.PoolOnly
	}
	return zeroAmounts()
}

func (f *Figures) set(b models.Bucket, a Amounts) {
	switch b {
	case models.BucketPublisher:
		f.Publisher = a
	case models.BucketPartner:
		f.Partner = a
	case models.BucketPoolOnly:
		f.PoolOnly = a
	}
}

// Add sums two figures bucket by bucket.
func (f Figures) Add(o Figures) Figures {
	return Figures{
		Publisher: f.Publisher.add(o.Publisher),
		Partner:   f.Partner.add(o.Partner),
		PoolOnly:  f.PoolOnly.add(o.PoolOnly),
		Total:     f.Total.add(o.Total),
	}
}

// DayRow is one day of an aggregate.
type DayRow struct {
	Date    time.Time `json:"date"`
	Figures Figures   `json:"figures"`
	Missing bool      `json:"missing,omitempty"`
}

// PeriodTotals are the totals of a comparison window.
type PeriodTotals struct {
	Range       models.DateRange `json:"range"`
	Totals      Figures          `json:"totals"`
	MissingDays []time.Time      `json:"missing_days,omitempty"`
}

// Summary is the aggregate of one owner over a date range.
type Summary struct {
	Owner       string           `json:"owner"`
	Range       models.DateRange `json:"range"`
	Days        []DayRow         `json:"days"`
	Months      []MonthRow       `json:"months"`
	Totals      Figures          `json:"totals"`
	Previous    PeriodTotals     `json:"previous"`
	Change      FiguresChange    `json:"change"`
	MissingDays []time.Time      `json:"missing_days,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
}

// Aggregate computes daily bucket figures for rng, their monthly rollup and
// the comparison against the same-length window one month earlier.
func (e *Engine) Aggregate(ctx context.Context, owner string, rng models.DateRange) (*Summary, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	current, err := e.aggregateRange(ctx, owner, rng)
	if err != nil {
		return nil, err
	}

	prevRange := rng.Previous()
	previous, err := e.aggregateRange(ctx, owner, prevRange)
	if err != nil {
		return nil, err
	}

	s := &Summary{
		Owner:       owner,
		Range:       rng,
		Days:        current.days,
		Months:      RollupMonths(current.days),
		Totals:      current.totals,
		MissingDays: current.missing,
		Warnings:    append(current.warnings, previous.warnings...),
		Previous: PeriodTotals{
			Range:       prevRange,
			Totals:      previous.totals,
			MissingDays: previous.missing,
		},
	}
	s.Change = ChangeBetween(current.totals, previous.totals)
	return s, nil
}

type rangeResult struct {
	days     []DayRow
	totals   Figures
	missing  []time.Time
	warnings []string
}

func (e *Engine) aggregateRange(ctx context.Context, owner string, rng models.DateRange) (*rangeResult, error) {
	in, err := e.load(ctx, owner, rng)
	if err != nil {
		return nil, err
	}
	pf := e.attribute(in)

	res := &rangeResult{
		totals:   zeroFigures(),
		missing:  in.missingDays,
		warnings: in.warnings,
	}
	for _, df := range pf.days {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := e.dayRow(pf, df)
		if err != nil {
			return nil, err
		}
		res.days = append(res.days, row)
		res.totals = res.totals.Add(row.Figures)
	}
	return res, nil
}

// dayRow buckets one day. Publisher cost is the revenue-share cost of active
// publisher-tier groups; partner cost is valid pageviews times the partner
// unit value. Missing days are all zero.
func (e *Engine) dayRow(pf *periodFacts, df *dayFacts) (DayRow, error) {
	row := DayRow{Date: df.date, Figures: zeroFigures(), Missing: df.missing}
	if df.missing {
		return row, nil
	}

	revenue := map[models.Bucket]decimal.Decimal{
		models.BucketPublisher: df.ledger[models.BucketPublisher].Add(df.pool.Remaining),
		models.BucketPartner:   df.ledger[models.BucketPartner].Add(df.pool.Partner),
		models.BucketPoolOnly:  df.ledger[models.BucketPoolOnly],
	}

	var publisherCost int64
	for _, g := range pf.in.groups {
		if !g.Active || pf.in.bucketOf(g.PublisherKey) != models.BucketPublisher {
			continue
		}
		pd, err := e.publisherDay(pf, df, g.PublisherKey, g)
		if err != nil {
			return row, err
		}
		publisherCost += pd.Cost
	}
	cost := map[models.Bucket]decimal.Decimal{
		models.BucketPublisher: decimal.NewFromInt(publisherCost),
		models.BucketPartner:   decimal.NewFromInt(e.costs.PartnerCost(pf.partnerValidPageviews(df))),
		models.BucketPoolOnly:  decimal.Zero,
	}

	for _, b := range models.Buckets {
		a := Amounts{
			Revenue: revenue[b].Add(df.adjRevenue[b]),
			Cost:    cost[b].Add(df.adjCost[b]),
		}
		a.Profit = a.Revenue.Sub(a.Cost)
		row.Figures.set(b, a)
		row.Figures.Total = row.Figures.Total.add(a)
	}
	return row, nil
}
