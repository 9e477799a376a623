package revenue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/radiusdt/revshare/internal/models"
	"github.com/radiusdt/revshare/internal/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const owner = "owner-1"

type fixture struct {
	ledger      *storage.InMemoryLedger
	rates       *storage.InMemoryExchangeRateRepo
	directory   *storage.InMemoryDirectory
	groups      *storage.InMemoryGroupRepo
	overrides   *storage.InMemoryOverrideRepo
	adjustments *storage.InMemoryAdjustmentRepo
	traffic     *storage.InMemoryPoolStats
}

func newFixture() *fixture {
	return &fixture{
		ledger:      storage.NewInMemoryLedger(),
		rates:       storage.NewInMemoryExchangeRateRepo(),
		directory:   storage.NewInMemoryDirectory(),
		groups:      storage.NewInMemoryGroupRepo(),
		overrides:   storage.NewInMemoryOverrideRepo(),
		adjustments: storage.NewInMemoryAdjustmentRepo(),
		traffic:     storage.NewInMemoryPoolStats(),
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Ledger:      f.ledger,
		Rates:       f.rates,
		Directory:   f.directory,
		Groups:      f.groups,
		Overrides:   f.overrides,
		Adjustments: f.adjustments,
		Traffic:     f.traffic,
	}
}

func (f *fixture) engine() *Engine {
	return NewEngine(f.deps(), DefaultSettings(), zap.NewNop(), nil)
}

func (f *fixture) group(t *testing.T, key string, price string, unit models.UnitType, units ...string) *models.RevenueShareGroup {
	t.Helper()
	g := &models.RevenueShareGroup{
		Owner:        owner,
		PublisherKey: key,
		GroupName:    key + " group",
		UnitPrice:    dec(price),
		UnitType:     unit,
		Active:       true,
	}
	require.NoError(t, f.groups.CreateGroup(context.Background(), g))
	for _, u := range units {
		require.NoError(t, f.groups.AddMapping(context.Background(), owner, &models.AdUnitMapping{
			GroupID:  g.ID,
			Platform: "kakao",
			AdUnitID: u,
		}))
	}
	return g
}

func record(platform, unit string, d time.Time, native string, clicks int64) *models.RevenueRecord {
	return &models.RevenueRecord{
		Owner:          owner,
		Platform:       platform,
		Date:           d,
		AdUnitID:       unit,
		EarningsNative: dec(native),
		EarningsUSD:    decimal.Zero,
		Clicks:         clicks,
	}
}

// poolDay seeds the shared placement: 50000 earned over 500 placement clicks,
// pub-a drives 100 of 1000 network pool clicks.
func (f *fixture) poolDay(d time.Time) {
	f.directory.Put(models.NewPublisher("pub-a", "Alpha", models.LevelPublisher))
	f.ledger.Add(record("adpost", "mobile_content", d, "50000", 500))
	f.traffic.Add(
		models.PoolClickStat{PublisherKey: "pub-a", Date: d, PoolClicks: 100, Clicks: 120, ValidPageviews: 40},
		models.PoolClickStat{PublisherKey: "partner-1", Date: d, PoolClicks: 900, Clicks: 950, ValidPageviews: 200},
	)
}

func singleDay(d time.Time) models.DateRange {
	return models.DateRange{Start: d, End: d}
}

func TestEngine_PoolAllocation(t *testing.T) {
	f := newFixture()
	d := day(2024, 1, 15)
	f.poolDay(d)

	report, err := f.engine().PoolDetail(context.Background(), owner, singleDay(d))
	require.NoError(t, err)
	require.Len(t, report.Days, 1)

	row := report.Days[0]
	assert.True(t, row.UnitPrice.Equal(dec("100")))
	assert.True(t, row.RecognitionRate.Equal(dec("0.5")))
	assert.Equal(t, int64(100), row.PublisherClicks)
	assert.True(t, row.PublisherRevenue.Equal(dec("2975")), row.PublisherRevenue.String())
	assert.Equal(t, int64(900), row.PartnerClicks)
	assert.True(t, row.PartnerRevenue.Equal(dec("26775")))
	assert.True(t, report.Totals.Earnings.Equal(dec("50000")))
}

func TestEngine_AggregatePoolBuckets(t *testing.T) {
	f := newFixture()
	d := day(2024, 1, 15)
	f.poolDay(d)
	f.group(t, "pub-a", "50", models.UnitTypePercent)

	s, err := f.engine().Aggregate(context.Background(), owner, singleDay(d))
	require.NoError(t, err)

	assert.True(t, s.Totals.Publisher.Revenue.Equal(dec("2975")))
	// 50% of the publisher's own allocation, truncated
	assert.True(t, s.Totals.Publisher.Cost.Equal(dec("1487")), s.Totals.Publisher.Cost.String())
	assert.True(t, s.Totals.Partner.Revenue.Equal(dec("26775")))
	// partner-1 is unknown to the directory, so its valid pageviews are billed
	assert.True(t, s.Totals.Partner.Cost.Equal(dec("1000")))
	assert.True(t, s.Totals.Total.Revenue.Equal(dec("29750")))
	assert.True(t, s.Totals.Total.Profit.Equal(s.Totals.Total.Revenue.Sub(s.Totals.Total.Cost)))
	assert.Empty(t, s.Warnings)
}

func TestEngine_PercentGroupCost(t *testing.T) {
	f := newFixture()
	d := day(2024, 3, 2)
	f.directory.Put(models.NewPublisher("pub-a", "Alpha", models.LevelPublisher))
	f.group(t, "pub-a", "50", models.UnitTypePercent, "u1")
	f.ledger.Add(record("kakao", "u1", d, "10000", 40))

	report, err := f.engine().PublisherDetail(context.Background(), owner, singleDay(d), []string{"pub-a"})
	require.NoError(t, err)
	require.Len(t, report.Publishers, 1)

	p := report.Publishers[0]
	assert.True(t, p.HasGroup)
	assert.Equal(t, models.BucketPublisher, p.Bucket)
	assert.Equal(t, int64(5000), p.TotalCost)
	assert.True(t, p.TotalRevenue.Equal(dec("10000")))
	assert.Equal(t, "50%", p.Days[0].Rate)

	s, err := f.engine().Aggregate(context.Background(), owner, singleDay(d))
	require.NoError(t, err)
	assert.True(t, s.Totals.Publisher.Revenue.Equal(dec("10000")))
	assert.True(t, s.Totals.Publisher.Cost.Equal(dec("5000")))
	assert.True(t, s.Totals.Publisher.Profit.Equal(dec("5000")))
}

func TestEngine_FlatGroupCost(t *testing.T) {
	f := newFixture()
	d := day(2024, 3, 2)
	f.directory.Put(models.NewPublisher("pub-a", "Alpha", models.LevelPublisher))
	f.group(t, "pub-a", "5", models.UnitTypeFlatPerClick, "u1")
	f.ledger.Add(record("kakao", "u1", d, "987654", 1))
	f.traffic.Add(models.PoolClickStat{PublisherKey: "pub-a", Date: d, Clicks: 200})

	report, err := f.engine().PublisherDetail(context.Background(), owner, singleDay(d), []string{"pub-a"})
	require.NoError(t, err)

	p := report.Publishers[0]
	assert.Equal(t, int64(1000), p.TotalCost)
	assert.Equal(t, "5/click", p.Days[0].Rate)
	assert.True(t, p.Days[0].Basis.Equal(dec("200")))
}

func TestEngine_ExchangeRateFallback(t *testing.T) {
	f := newFixture()
	d := day(2024, 5, 9)
	f.ledger.Add(&models.RevenueRecord{
		Owner:       owner,
		Platform:    "adsense",
		Date:        d,
		AdUnitID:    "slot-1",
		EarningsUSD: dec("10"),
	})

	s, err := f.engine().Aggregate(context.Background(), owner, singleDay(d))
	require.NoError(t, err)
	assert.True(t, s.Totals.Total.Revenue.Equal(dec("13700")), s.Totals.Total.Revenue.String())

	require.NoError(t, f.rates.UpsertRate(context.Background(), &models.ExchangeRate{Owner: owner, YearMonth: d, Rate: dec("1300")}))
	s, err = f.engine().Aggregate(context.Background(), owner, singleDay(d))
	require.NoError(t, err)
	assert.True(t, s.Totals.Total.Revenue.Equal(dec("13000")))
}

func TestEngine_UnmappedRevenueGoesToPartner(t *testing.T) {
	f := newFixture()
	d := day(2024, 5, 9)
	f.ledger.Add(record("kakao", "unmapped", d, "500", 3))

	s, err := f.engine().Aggregate(context.Background(), owner, singleDay(d))
	require.NoError(t, err)
	assert.True(t, s.Totals.Partner.Revenue.Equal(dec("500")))
	assert.True(t, s.Totals.Publisher.Revenue.IsZero())
	assert.True(t, s.Totals.Total.Revenue.Equal(dec("500")))
}

func TestEngine_PlatformClassification(t *testing.T) {
	f := newFixture()
	d := day(2024, 5, 9)
	f.ledger.Add(
		record("teads", "any", d, "700", 0),
		&models.RevenueRecord{Owner: owner, Platform: "adsense", Alias: "network", Date: d, AdUnitID: "x", EarningsUSD: dec("1")},
	)
	settings := DefaultSettings()
	settings.PoolOnlyAccounts = []string{"adsense:network"}
	e := NewEngine(f.deps(), settings, zap.NewNop(), nil)

	s, err := e.Aggregate(context.Background(), owner, singleDay(d))
	require.NoError(t, err)
	assert.True(t, s.Totals.Partner.Revenue.Equal(dec("700")))
	assert.True(t, s.Totals.PoolOnly.Revenue.Equal(dec("1370")))
	assert.True(t, s.Totals.PoolOnly.Cost.IsZero())
}

func TestEngine_Adjustments(t *testing.T) {
	f := newFixture()
	d := day(2024, 5, 9)
	ctx := context.Background()
	require.NoError(t, f.adjustments.UpsertAdjustment(ctx, &models.Adjustment{Owner: owner, Date: d, Section: models.SectionPublisher, Amount: dec("300")}))
	require.NoError(t, f.adjustments.UpsertAdjustment(ctx, &models.Adjustment{Owner: owner, Date: d, Section: models.SectionPartnerCost, Amount: dec("120")}))

	s, err := f.engine().Aggregate(ctx, owner, singleDay(d))
	require.NoError(t, err)
	assert.True(t, s.Totals.Publisher.Revenue.Equal(dec("300")))
	assert.True(t, s.Totals.Partner.Cost.Equal(dec("120")))
	assert.True(t, s.Totals.Total.Profit.Equal(dec("180")))
}

func TestEngine_OverrideAppliesToMonth(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.directory.Put(models.NewPublisher("pub-a", "Alpha", models.LevelPublisher))
	f.group(t, "pub-a", "50", models.UnitTypePercent, "u1")
	f.ledger.Add(
		record("kakao", "u1", day(2024, 1, 31), "1000", 1),
		record("kakao", "u1", day(2024, 2, 1), "1000", 1),
	)
	require.NoError(t, f.overrides.UpsertOverride(ctx, &models.RatePolicyOverride{
		Owner:        owner,
		PublisherKey: "pub-a",
		YearMonth:    day(2024, 2, 1),
		UnitPrice:    dec("20"),
		UnitType:     models.UnitTypePercent,
	}))

	report, err := f.engine().PublisherDetail(ctx, owner, models.DateRange{Start: day(2024, 1, 31), End: day(2024, 2, 1)}, []string{"pub-a"})
	require.NoError(t, err)
	days := report.Publishers[0].Days
	require.Len(t, days, 2)
	assert.Equal(t, int64(500), days[0].Cost)
	assert.Equal(t, int64(200), days[1].Cost)
}

func TestEngine_UngroupedPublisherUsesDefaultPolicy(t *testing.T) {
	f := newFixture()
	d := day(2024, 1, 15)
	f.poolDay(d)

	report, err := f.engine().PublisherDetail(context.Background(), owner, singleDay(d), []string{"pub-a"})
	require.NoError(t, err)
	p := report.Publishers[0]
	assert.False(t, p.HasGroup)
	assert.Equal(t, "50%", p.Policy.String())
	assert.Equal(t, int64(1487), p.TotalCost)
}

func TestEngine_InvalidStoredPolicy(t *testing.T) {
	f := newFixture()
	d := day(2024, 1, 15)
	f.poolDay(d)
	f.group(t, "pub-a", "50", models.UnitTypePercent)

	deps := f.deps()
	deps.Groups = corruptGroups{f.groups}
	e := NewEngine(deps, DefaultSettings(), zap.NewNop(), nil)

	_, err := e.Aggregate(context.Background(), owner, singleDay(d))
	assert.ErrorIs(t, err, models.ErrInvalidRatePolicy)
}

// corruptGroups returns groups whose unit type no calculator understands,
// as a row edited outside the service would.
type corruptGroups struct {
	*storage.InMemoryGroupRepo
}

func (c corruptGroups) ListGroups(ctx context.Context, owner string, activeOnly bool) ([]*models.RevenueShareGroup, error) {
	groups, err := c.InMemoryGroupRepo.ListGroups(ctx, owner, activeOnly)
	for _, g := range groups {
		g.UnitType = "per_mille"
	}
	return groups, err
}

// flakyLedger fails every multi-day query and the listed days.
type flakyLedger struct {
	*storage.InMemoryLedger
	failing map[time.Time]bool
}

func (l flakyLedger) QueryRevenue(ctx context.Context, owner string, q storage.LedgerQuery) ([]*models.RevenueRecord, error) {
	if !q.Start.Equal(q.End) || l.failing[models.Day(q.Start)] {
		return nil, errors.New("connection reset")
	}
	return l.InMemoryLedger.QueryRevenue(ctx, owner, q)
}

func TestEngine_PartialLedgerFailure(t *testing.T) {
	f := newFixture()
	f.ledger.Add(
		record("kakao", "u1", day(2024, 4, 1), "100", 1),
		record("kakao", "u1", day(2024, 4, 2), "200", 1),
		record("kakao", "u1", day(2024, 4, 3), "300", 1),
	)
	f.traffic.Add(models.PoolClickStat{PublisherKey: "partner-1", Date: day(2024, 4, 2), ValidPageviews: 10})

	deps := f.deps()
	deps.Ledger = flakyLedger{InMemoryLedger: f.ledger, failing: map[time.Time]bool{day(2024, 4, 2): true}}
	e := NewEngine(deps, DefaultSettings(), zap.NewNop(), nil)

	s, err := e.Aggregate(context.Background(), owner, models.DateRange{Start: day(2024, 4, 1), End: day(2024, 4, 3)})
	require.NoError(t, err)

	require.Len(t, s.Days, 3)
	assert.Equal(t, []time.Time{day(2024, 4, 2)}, s.MissingDays)
	assert.True(t, s.Days[1].Missing)
	// a missing day is zero everywhere, traffic-based cost included
	assert.True(t, s.Days[1].Figures.Total.Revenue.IsZero())
	assert.True(t, s.Days[1].Figures.Total.Cost.IsZero())
	assert.True(t, s.Totals.Total.Revenue.Equal(dec("400")))
	assert.NotEmpty(t, s.Warnings)
}

type failingTraffic struct{}

func (failingTraffic) PoolStats(ctx context.Context, start, end time.Time) (*models.PoolStats, error) {
	return nil, errors.New("clickhouse: timeout")
}

func TestEngine_TrafficFailureDegrades(t *testing.T) {
	f := newFixture()
	d := day(2024, 1, 15)
	f.poolDay(d)

	deps := f.deps()
	deps.Traffic = failingTraffic{}
	e := NewEngine(deps, DefaultSettings(), zap.NewNop(), nil)

	s, err := e.Aggregate(context.Background(), owner, singleDay(d))
	require.NoError(t, err)
	assert.True(t, s.Totals.Total.Revenue.IsZero())
	assert.True(t, s.Totals.Partner.Cost.IsZero())
	assert.NotEmpty(t, s.Warnings)
}

func TestEngine_CancelledContext(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine().Aggregate(ctx, owner, singleDay(day(2024, 1, 1)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngine_PreviousWindow(t *testing.T) {
	f := newFixture()
	f.ledger.Add(
		record("kakao", "u1", day(2024, 2, 10), "1000", 1),
		record("kakao", "u1", day(2024, 3, 10), "1500", 1),
	)

	s, err := f.engine().Aggregate(context.Background(), owner, models.DateRange{Start: day(2024, 3, 1), End: day(2024, 3, 31)})
	require.NoError(t, err)

	assert.Equal(t, day(2024, 2, 1), s.Previous.Range.Start)
	assert.True(t, s.Previous.Totals.Total.Revenue.Equal(dec("1000")))
	assert.True(t, s.Change.Total.Revenue.Amount.Equal(dec("500")))
	assert.True(t, s.Change.Total.Revenue.Percent.Equal(dec("50")))
}

func TestEngine_RejectsInvalidRange(t *testing.T) {
	f := newFixture()
	_, err := f.engine().Aggregate(context.Background(), owner, models.DateRange{Start: day(2024, 2, 1), End: day(2024, 1, 1)})
	assert.Error(t, err)
}

func TestEngine_Idempotent(t *testing.T) {
	f := newFixture()
	d := day(2024, 1, 15)
	f.poolDay(d)
	f.group(t, "pub-a", "50", models.UnitTypePercent, "u1")
	f.ledger.Add(record("kakao", "u1", d, "3333", 2), record("kakao", "other", d, "77", 1))
	rng := models.DateRange{Start: day(2024, 1, 1), End: day(2024, 1, 31)}

	first, err := f.engine().Aggregate(context.Background(), owner, rng)
	require.NoError(t, err)
	second, err := f.engine().Aggregate(context.Background(), owner, rng)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestEngine_MonthlyTotalsSumDailyRows(t *testing.T) {
	f := newFixture()
	f.directory.Put(models.NewPublisher("pub-a", "Alpha", models.LevelPublisher))
	f.group(t, "pub-a", "33", models.UnitTypePercent, "u1")
	for i := 1; i <= 20; i++ {
		f.ledger.Add(record("kakao", "u1", day(2024, 1, i), "1001", 1))
	}
	ctx := context.Background()
	e := f.engine()

	year, err := e.MonthlyReport(ctx, owner, 2024)
	require.NoError(t, err)
	require.Len(t, year.Months, 12)

	s, err := e.Aggregate(ctx, owner, models.DateRange{Start: day(2024, 1, 1), End: day(2024, 1, 31)})
	require.NoError(t, err)

	var cost int64
	for _, row := range s.Days {
		cost += row.Figures.Publisher.Cost.IntPart()
	}
	// 1001 × 33% truncates to 330 each day
	assert.Equal(t, int64(20*330), cost)
	assert.True(t, year.Months[0].Figures.Publisher.Cost.Equal(decimal.NewFromInt(cost)))
	assert.True(t, year.Total.Publisher.Cost.Equal(decimal.NewFromInt(cost)))
	assert.True(t, year.Months[0].Change.Total.Revenue.Percent.Equal(dec("100")))
	assert.True(t, year.Months[1].Change.Total.Revenue.Percent.Equal(dec("-100")))
}

func TestEngine_PurchaseReport(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.directory.Put(models.NewPublisher("pub-a", "Alpha", models.LevelPublisher))
	f.directory.Put(models.NewPublisher("pub-b", "Bravo", models.LevelPartner))
	f.directory.Put(models.NewPublisher("pub-c", "Gamma News", models.LevelPublisher))
	f.directory.Put(models.NewPublisher("pub-d", "Delta", 70))

	a := f.group(t, "pub-a", "50", models.UnitTypePercent, "u1")
	a.Important = true
	require.NoError(t, f.groups.UpdateGroup(ctx, a))
	f.group(t, "pub-b", "10", models.UnitTypePercent, "u2")

	f.ledger.Add(
		record("kakao", "u1", day(2024, 1, 10), "1000", 1),
		record("kakao", "u1", day(2024, 2, 10), "3000", 1),
		record("kakao", "u2", day(2024, 2, 10), "2000", 1),
	)
	e := f.engine()

	all, err := e.PurchaseReport(ctx, owner, PurchaseQuery{Year: 2024})
	require.NoError(t, err)
	keys := make([]string, 0, len(all.Rows))
	for _, r := range all.Rows {
		keys = append(keys, r.PublisherKey)
	}
	// publisher bucket first, then display name; level 70 is never listed
	assert.Equal(t, []string{"pub-a", "pub-c", "pub-b"}, keys)

	rowA := all.Rows[0]
	assert.Equal(t, int64(500), rowA.MonthlyCost[0])
	assert.Equal(t, int64(1500), rowA.MonthlyCost[1])
	assert.Equal(t, int64(2000), rowA.Total)
	assert.True(t, rowA.Changes[1].Percent.Equal(dec("200")))
	assert.False(t, all.Rows[1].HasGroup)
	assert.Equal(t, int64(2000), all.Publisher.Total)
	assert.Equal(t, int64(200), all.Partner.Total)
	assert.Equal(t, int64(2200), all.Total.Total)

	important, err := e.PurchaseReport(ctx, owner, PurchaseQuery{Year: 2024, ImportantOnly: true})
	require.NoError(t, err)
	require.Len(t, important.Rows, 1)
	assert.Equal(t, "pub-a", important.Rows[0].PublisherKey)

	search, err := e.PurchaseReport(ctx, owner, PurchaseQuery{Year: 2024, Search: " gamma , nothing-matches "})
	require.NoError(t, err)
	require.Len(t, search.Rows, 1)
	assert.Equal(t, "pub-c", search.Rows[0].PublisherKey)

	_, err = e.PurchaseReport(ctx, owner, PurchaseQuery{Year: 0})
	assert.Error(t, err)
}

func TestEngine_PublisherDetailRequiresKeys(t *testing.T) {
	f := newFixture()
	_, err := f.engine().PublisherDetail(context.Background(), owner, singleDay(day(2024, 1, 1)), nil)
	assert.Error(t, err)
}
