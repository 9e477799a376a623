package revenue

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/radiusdt/revshare/internal/models"
	"github.com/shopspring/decimal"
)

// maxListedPublishers bounds the unfiltered purchase listing.
const maxListedPublishers = 1000

// PurchaseQuery selects the rows of a purchase report.
type PurchaseQuery struct {
	Year          int    `json:"year"`
	Search        string `json:"search,omitempty"`
	ImportantOnly bool   `json:"important_only"`
}

// Terms splits the comma-separated search into trimmed, non-empty terms.
func (q PurchaseQuery) Terms() []string {
	var terms []string
	for _, t := range strings.Split(q.Search, ",") {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// PurchaseRow is one publisher's revenue-share cost by month.
type PurchaseRow struct {
	PublisherKey string            `json:"publisher_key"`
	DisplayName  string            `json:"display_name"`
	CompanyName  string            `json:"company_name,omitempty"`
	ServiceName  string            `json:"service_name,omitempty"`
	GroupID      string            `json:"group_id,omitempty"`
	Bucket       models.Bucket     `json:"bucket"`
	Policy       models.RatePolicy `json:"policy"`
	HasGroup     bool              `json:"has_group"`
	Important    bool              `json:"important"`
	MonthlyCost  []int64           `json:"monthly_cost"`
	Changes      []Delta           `json:"changes"`
	Total        int64             `json:"total"`
}

// MonthlySeries is a twelve-month total with month-over-month changes.
type MonthlySeries struct {
	Monthly []int64 `json:"monthly"`
	Changes []Delta `json:"changes"`
	Total   int64   `json:"total"`
}

// PurchaseReport lists revenue-share costs per publisher for a year.
type PurchaseReport struct {
	Owner     string        `json:"owner"`
	Query     PurchaseQuery `json:"query"`
	Rows      []PurchaseRow `json:"rows"`
	Publisher MonthlySeries `json:"publisher"`
	Partner   MonthlySeries `json:"partner"`
	Total     MonthlySeries `json:"total"`
	Warnings  []string      `json:"warnings,omitempty"`
}

// monthlyChanges computes deltas over a January-first series.
func monthlyChanges(monthly []int64) []Delta {
	changes := make([]Delta, len(monthly))
	for i, v := range monthly {
		cur := decimal.NewFromInt(v)
		if i == 0 {
			changes[i] = NewDelta(cur, decimal.Zero, true)
			continue
		}
		changes[i] = NewDelta(cur, decimal.NewFromInt(monthly[i-1]), false)
	}
	return changes
}

func newSeries(monthly []int64) MonthlySeries {
	s := MonthlySeries{Monthly: monthly, Changes: monthlyChanges(monthly)}
	for _, v := range monthly {
		s.Total += v
	}
	return s
}

type purchaseCandidate struct {
	publisher *models.Publisher
	group     *models.RevenueShareGroup
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func groupMatches(g *models.RevenueShareGroup, p *models.Publisher, terms []string) bool {
	for _, t := range terms {
		if containsFold(g.PublisherKey, t) || containsFold(g.CompanyName, t) ||
			containsFold(g.ServiceName, t) || (p != nil && containsFold(p.DisplayName, t)) {
			return true
		}
	}
	return false
}

// listedLevel reports whether directory entries of level appear in listings
// without a group.
func listedLevel(level int) bool {
	return level == models.LevelPublisher || level == models.LevelPartner
}

// PurchaseReport computes the yearly revenue-share cost of the publishers
// selected by q. With search terms, matching groups and matching directory
// publishers are listed; ungrouped publishers use the default policy. Without
// search, ImportantOnly restricts the listing to important groups, otherwise
// every active group and listed directory publisher appears.
func (e *Engine) PurchaseReport(ctx context.Context, owner string, q PurchaseQuery) (*PurchaseReport, error) {
	if q.Year < 1 {
		return nil, fmt.Errorf("invalid year %d", q.Year)
	}
	in, err := e.load(ctx, owner, models.YearRange(q.Year))
	if err != nil {
		return nil, err
	}

	candidates, err := e.purchaseCandidates(ctx, in, q)
	if err != nil {
		return nil, err
	}
	pf := e.attribute(in)

	report := &PurchaseReport{Owner: owner, Query: q, Warnings: in.warnings}
	publisherTotal := make([]int64, 12)
	partnerTotal := make([]int64, 12)

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := PurchaseRow{
			PublisherKey: c.publisher.ExternalKey,
			DisplayName:  c.publisher.DisplayName,
			Bucket:       c.publisher.Bucket(),
			Policy:       e.settings.DefaultPolicy,
			MonthlyCost:  make([]int64, 12),
		}
		if c.group != nil {
			row.GroupID = c.group.ID
			row.CompanyName = c.group.CompanyName
			row.ServiceName = c.group.ServiceName
			row.Policy = c.group.Policy()
			row.HasGroup = true
			row.Important = c.group.Important
		}

		for _, df := range pf.days {
			pd, err := e.publisherDay(pf, df, row.PublisherKey, c.group)
			if err != nil {
				return nil, err
			}
			row.MonthlyCost[df.date.Month()-1] += pd.Cost
		}
		row.Changes = monthlyChanges(row.MonthlyCost)
		for i, v := range row.MonthlyCost {
			row.Total += v
			if row.Bucket == models.BucketPublisher {
				publisherTotal[i] += v
			} else {
				partnerTotal[i] += v
			}
		}
		report.Rows = append(report.Rows, row)
	}

	total := make([]int64, 12)
	for i := range total {
		total[i] = publisherTotal[i] + partnerTotal[i]
	}
	report.Publisher = newSeries(publisherTotal)
	report.Partner = newSeries(partnerTotal)
	report.Total = newSeries(total)
	return report, nil
}

func (e *Engine) purchaseCandidates(ctx context.Context, in *periodInputs, q PurchaseQuery) ([]purchaseCandidate, error) {
	terms := q.Terms()
	byKey := make(map[string]purchaseCandidate)

	for _, g := range in.groups {
		if !g.Active {
			continue
		}
		p := in.publisher(g.PublisherKey)
		switch {
		case len(terms) > 0:
			if !groupMatches(g, p, terms) {
				continue
			}
		case q.ImportantOnly:
			if !g.Important {
				continue
			}
		}
		byKey[g.PublisherKey] = purchaseCandidate{publisher: p, group: g}
	}

	var extra []*models.Publisher
	var err error
	switch {
	case len(terms) > 0:
		extra, err = e.deps.Directory.SearchPublishers(ctx, terms)
	case !q.ImportantOnly:
		extra, err = e.deps.Directory.ListPublishers(ctx, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list publishers: %w", err)
	}
	added := 0
	for _, p := range extra {
		if !listedLevel(p.Level) {
			continue
		}
		if _, ok := byKey[p.ExternalKey]; ok {
			continue
		}
		if len(terms) == 0 && added >= maxListedPublishers {
			break
		}
		in.publishers[p.ExternalKey] = p
		byKey[p.ExternalKey] = purchaseCandidate{publisher: p, group: in.activeGroupFor(p.ExternalKey)}
		added++
	}

	out := make([]purchaseCandidate, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		bi, bj := out[i].publisher.Bucket(), out[j].publisher.Bucket()
		if bi != bj {
			return bi == models.BucketPublisher
		}
		if out[i].publisher.DisplayName != out[j].publisher.DisplayName {
			return out[i].publisher.DisplayName < out[j].publisher.DisplayName
		}
		return out[i].publisher.ExternalKey < out[j].publisher.ExternalKey
	})
	return out, nil
}
