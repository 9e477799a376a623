package revenue

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/radiusdt/revshare/internal/metrics"
	"github.com/radiusdt/revshare/internal/models"
	"github.com/radiusdt/revshare/internal/storage"
	"go.uber.org/zap"
)

// Deps are the read sides the engine computes from.
type Deps struct {
	Ledger      storage.LedgerStore
	Rates       storage.ExchangeRateRepo
	Directory   storage.Directory
	Groups      storage.GroupRepo
	Overrides   storage.OverrideRepo
	Adjustments storage.AdjustmentRepo
	Traffic     storage.PoolStatsSource
}

// Engine computes attribution, pool allocation, costs and rollups. It holds
// no per-request state; every report is a pure function of its inputs.
type Engine struct {
	deps       Deps
	settings   Settings
	normalizer *Normalizer
	classifier *Classifier
	pool       *PoolDistributor
	costs      *CostCalculator
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewEngine creates an engine. m may be nil.
func NewEngine(deps Deps, settings Settings, logger *zap.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		deps:       deps,
		settings:   settings,
		normalizer: NewNormalizer(settings.USDPlatforms, settings.DefaultExchangeRate),
		classifier: NewClassifier(settings),
		pool:       NewPoolDistributor(settings.EcosystemFactor),
		costs:      NewCostCalculator(settings.DefaultPolicy, settings.PartnerUnitValue),
		logger:     logger,
		metrics:    m,
	}
}

// Settings returns the engine's allocation settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// periodInputs is everything loaded for one owner and date range.
type periodInputs struct {
	owner       string
	rng         models.DateRange
	records     []*models.RevenueRecord
	missingDays []time.Time
	rates       *RateTable
	groups      []*models.RevenueShareGroup
	attribution *Attribution
	publishers  map[string]*models.Publisher
	policies    *PolicyBook
	adjustments []*models.Adjustment
	traffic     *models.PoolStats
	warnings    []string
}

// publisher returns the directory entry for key, or the default partner entry.
func (in *periodInputs) publisher(key string) *models.Publisher {
	if p, ok := in.publishers[key]; ok {
		return p
	}
	return models.UnknownPublisher(key)
}

func (in *periodInputs) bucketOf(key string) models.Bucket {
	return in.publisher(key).Bucket()
}

// activeGroupFor returns the active group of a publisher, or nil.
func (in *periodInputs) activeGroupFor(key string) *models.RevenueShareGroup {
	for _, g := range in.groups {
		if g.Active && g.PublisherKey == key {
			return g
		}
	}
	return nil
}

func (e *Engine) load(ctx context.Context, owner string, rng models.DateRange) (*periodInputs, error) {
	in := &periodInputs{owner: owner, rng: rng}

	rates, err := e.deps.Rates.ListRates(ctx, owner, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load exchange rates: %w", err)
	}
	in.rates = NewRateTable(rates)

	groups, err := e.deps.Groups.ListGroups(ctx, owner, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups: %w", err)
	}
	in.groups = groups

	mappings, err := e.deps.Groups.ListMappings(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to load ad unit mappings: %w", err)
	}

	overrides, err := e.deps.Overrides.ListOverrides(ctx, owner, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load rate overrides: %w", err)
	}
	in.policies = NewPolicyBook(overrides, e.settings.DefaultPolicy)

	in.adjustments, err = e.deps.Adjustments.ListAdjustments(ctx, owner, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("failed to load adjustments: %w", err)
	}

	in.records, in.missingDays = e.loadLedger(ctx, owner, rng)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(in.missingDays) > 0 {
		e.metrics.RecordMissingDays(len(in.missingDays))
		in.warnings = append(in.warnings, fmt.Sprintf("ledger unavailable for %d day(s); counted as zero", len(in.missingDays)))
	}

	in.traffic, err = e.deps.Traffic.PoolStats(ctx, rng.Start, rng.End)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.metrics.RecordSourceFailure("traffic")
		e.logger.Warn("traffic statistics unavailable, pool allocation and partner cost zeroed",
			zap.String("owner", owner),
			zap.Time("start", rng.Start),
			zap.Time("end", rng.End),
			zap.Error(err),
		)
		in.traffic = models.NewPoolStats(nil)
		in.warnings = append(in.warnings, "traffic statistics unavailable; pool allocation and partner cost are zero")
	}

	keys := make(map[string]struct{})
	for _, g := range groups {
		keys[g.PublisherKey] = struct{}{}
	}
	for _, s := range in.traffic.Publishers {
		keys[s.PublisherKey] = struct{}{}
	}
	in.publishers, err = e.loadPublishers(ctx, keys)
	if err != nil {
		return nil, err
	}

	in.attribution = NewAttribution(groups, mappings, in.publishers)
	return in, nil
}

func (e *Engine) loadPublishers(ctx context.Context, keys map[string]struct{}) (map[string]*models.Publisher, error) {
	out := make(map[string]*models.Publisher, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	list := make([]string, 0, len(keys))
	for k := range keys {
		list = append(list, k)
	}
	sort.Strings(list)

	pubs, err := e.deps.Directory.ListPublishers(ctx, list)
	if err != nil {
		return nil, fmt.Errorf("failed to load publishers: %w", err)
	}
	for _, p := range pubs {
		out[p.ExternalKey] = p
	}
	return out, nil
}

// loadLedger reads the range in one query. If that fails it retries day by
// day; days that still fail are returned as missing and count as zero.
func (e *Engine) loadLedger(ctx context.Context, owner string, rng models.DateRange) ([]*models.RevenueRecord, []time.Time) {
	records, err := e.deps.Ledger.QueryRevenue(ctx, owner, storage.LedgerQuery{Start: rng.Start, End: rng.End})
	if err == nil {
		return records, nil
	}
	e.metrics.RecordSourceFailure("ledger")
	e.logger.Warn("bulk ledger query failed, retrying per day",
		zap.String("owner", owner),
		zap.Error(err),
	)

	var missing []time.Time
	records = nil
	for _, d := range rng.Days() {
		if ctx.Err() != nil {
			missing = append(missing, d)
			continue
		}
		dayRecords, err := e.deps.Ledger.QueryRevenue(ctx, owner, storage.LedgerQuery{Start: d, End: d})
		if err != nil {
			e.logger.Warn("ledger query failed for day",
				zap.String("owner", owner),
				zap.String("date", d.Format(models.DateLayout)),
				zap.Error(err),
			)
			missing = append(missing, d)
			continue
		}
		records = append(records, dayRecords...)
	}
	return records, missing
}
