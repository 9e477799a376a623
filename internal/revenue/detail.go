package revenue

import (
	"context"
	"errors"
	"time"

	"github.com/radiusdt/revshare/internal/models"
	"github.com/shopspring/decimal"
)

// DetailRow is one day of a publisher's revenue-share computation.
type DetailRow struct {
	Date          time.Time       `json:"date"`
	DirectRevenue decimal.Decimal `json:"direct_revenue"`
	PoolRevenue   decimal.Decimal `json:"pool_revenue"`
	Clicks        int64           `json:"clicks"`
	// Basis is ad revenue for percent policies and clicks for flat policies.
	Basis decimal.Decimal `json:"basis"`
	Rate  string          `json:"rate"`
	Cost  int64           `json:"cost"`
}

// PublisherDetail is the daily breakdown for one publisher.
type PublisherDetail struct {
	PublisherKey string            `json:"publisher_key"`
	DisplayName  string            `json:"display_name"`
	Bucket       models.Bucket     `json:"bucket"`
	HasGroup     bool              `json:"has_group"`
	Policy       models.RatePolicy `json:"policy"`
	Days         []DetailRow       `json:"days"`
	TotalRevenue decimal.Decimal   `json:"total_revenue"`
	TotalClicks  int64             `json:"total_clicks"`
	TotalCost    int64             `json:"total_cost"`
}

// PublisherDetailReport holds the breakdown of every requested publisher.
type PublisherDetailReport struct {
	Owner      string            `json:"owner"`
	Range      models.DateRange  `json:"range"`
	Publishers []PublisherDetail `json:"publishers"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// PublisherDetail returns daily cost rows for keys over rng.
func (e *Engine) PublisherDetail(ctx context.Context, owner string, rng models.DateRange, keys []string) (*PublisherDetailReport, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, errors.New("at least one publisher key is required")
	}
	in, err := e.load(ctx, owner, rng)
	if err != nil {
		return nil, err
	}

	missing := make(map[string]struct{})
	for _, k := range keys {
		if _, ok := in.publishers[k]; !ok {
			missing[k] = struct{}{}
		}
	}
	if len(missing) > 0 {
		extra, err := e.loadPublishers(ctx, missing)
		if err != nil {
			return nil, err
		}
		for k, p := range extra {
			in.publishers[k] = p
		}
	}

	pf := e.attribute(in)
	report := &PublisherDetailReport{Owner: owner, Range: rng, Warnings: in.warnings}

	for _, key := range keys {
		group := in.activeGroupFor(key)
		p := in.publisher(key)
		detail := PublisherDetail{
			PublisherKey: key,
			DisplayName:  p.DisplayName,
			Bucket:       p.Bucket(),
			HasGroup:     group != nil,
			Policy:       e.settings.DefaultPolicy,
			TotalRevenue: decimal.Zero,
		}
		if group != nil {
			detail.Policy = group.Policy()
		}

		for _, df := range pf.days {
			pd, err := e.publisherDay(pf, df, key, group)
			if err != nil {
				return nil, err
			}
			row := DetailRow{
				Date:          df.date,
				DirectRevenue: pd.DirectRevenue,
				PoolRevenue:   pd.PoolRevenue,
				Clicks:        pd.Clicks,
				Basis:         pd.AdRevenue,
				Rate:          pd.Policy.String(),
				Cost:          pd.Cost,
			}
			if pd.Policy.UnitType == models.UnitTypeFlatPerClick {
				row.Basis = decimal.NewFromInt(pd.Clicks)
			}
			detail.Days = append(detail.Days, row)
			detail.TotalRevenue = detail.TotalRevenue.Add(pd.AdRevenue)
			detail.TotalClicks += pd.Clicks
			detail.TotalCost += pd.Cost
		}
		report.Publishers = append(report.Publishers, detail)
	}
	return report, nil
}

// PoolDetailRow is one day of the shared placement split.
type PoolDetailRow struct {
	PoolDay
	PublisherClicks  int64           `json:"publisher_clicks"`
	PublisherRevenue decimal.Decimal `json:"publisher_revenue"`
	PartnerClicks    int64           `json:"partner_clicks"`
	PartnerRevenue   decimal.Decimal `json:"partner_revenue"`
}

// PoolDetailTotals sums the pool detail rows.
type PoolDetailTotals struct {
	Earnings         decimal.Decimal `json:"earnings"`
	Clicks           int64           `json:"clicks"`
	NetworkClicks    int64           `json:"network_clicks"`
	PublisherClicks  int64           `json:"publisher_clicks"`
	PublisherRevenue decimal.Decimal `json:"publisher_revenue"`
	PartnerClicks    int64           `json:"partner_clicks"`
	PartnerRevenue   decimal.Decimal `json:"partner_revenue"`
}

// PoolDetailReport shows how the shared placement was split per day.
type PoolDetailReport struct {
	Owner    string           `json:"owner"`
	Range    models.DateRange `json:"range"`
	Days     []PoolDetailRow  `json:"days"`
	Totals   PoolDetailTotals `json:"totals"`
	Warnings []string         `json:"warnings,omitempty"`
}

// PoolDetail returns per-day unit price, recognition rate, net CPC and the
// publisher/partner split of the shared placement.
func (e *Engine) PoolDetail(ctx context.Context, owner string, rng models.DateRange) (*PoolDetailReport, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	in, err := e.load(ctx, owner, rng)
	if err != nil {
		return nil, err
	}
	pf := e.attribute(in)

	report := &PoolDetailReport{
		Owner:    owner,
		Range:    rng,
		Warnings: in.warnings,
		Totals: PoolDetailTotals{
			Earnings:         decimal.Zero,
			PublisherRevenue: decimal.Zero,
			PartnerRevenue:   decimal.Zero,
		},
	}
	for _, df := range pf.days {
		row := PoolDetailRow{
			PoolDay:          df.pool.Day,
			PublisherClicks:  df.pool.RemainingClicks,
			PublisherRevenue: df.pool.Remaining,
			PartnerClicks:    df.pool.PartnerClicks,
			PartnerRevenue:   df.pool.Partner,
		}
		report.Days = append(report.Days, row)

		t := &report.Totals
		t.Earnings = t.Earnings.Add(row.Earnings)
		t.Clicks += row.Clicks
		t.NetworkClicks += row.NetworkClicks
		t.PublisherClicks += row.PublisherClicks
		t.PublisherRevenue = t.PublisherRevenue.Add(row.PublisherRevenue)
		t.PartnerClicks += row.PartnerClicks
		t.PartnerRevenue = t.PartnerRevenue.Add(row.PartnerRevenue)
	}
	return report, nil
}
