package revenue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/revshare/internal/cache"
	"github.com/radiusdt/revshare/internal/metrics"
	"github.com/radiusdt/revshare/internal/models"
	"go.uber.org/zap"
)

// Service is the application layer over the engine: reports are served
// through the aggregate cache and every write invalidates the owner's
// cached reports.
type Service struct {
	engine  *Engine
	deps    Deps
	loader  *cache.Loader
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewService(engine *Engine, loader *cache.Loader, logger *zap.Logger, m *metrics.Metrics) *Service {
	return &Service{
		engine:  engine,
		deps:    engine.deps,
		loader:  loader,
		logger:  logger,
		metrics: m,
	}
}

// Engine returns the uncached engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

func periodKey(rng models.DateRange) string {
	return rng.Start.Format(models.DateLayout) + ".." + rng.End.Format(models.DateLayout)
}

func (s *Service) serve(ctx context.Context, key cache.Key, dst any, compute func(ctx context.Context) (any, error)) error {
	start := time.Now()
	cached, err := s.loader.GetOrCompute(ctx, key, dst, compute)
	if err != nil {
		s.metrics.RecordReportError(key.Report)
		return err
	}
	s.metrics.RecordReport(key.Report, cached, time.Since(start))
	return nil
}

// Summary returns the cached aggregate for rng.
func (s *Service) Summary(ctx context.Context, owner string, rng models.DateRange) (*Summary, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	key := cache.Key{Owner: owner, Report: cache.ReportSummary, Period: periodKey(rng)}
	var out Summary
	err := s.serve(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.engine.Aggregate(ctx, owner, rng)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Monthly returns the cached monthly report for year.
func (s *Service) Monthly(ctx context.Context, owner string, year int) (*YearReport, error) {
	if year < 1 {
		return nil, fmt.Errorf("invalid year %d", year)
	}
	key := cache.Key{Owner: owner, Report: cache.ReportMonthly, Period: strconv.Itoa(year)}
	var out YearReport
	err := s.serve(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.engine.MonthlyReport(ctx, owner, year)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Purchase returns the cached purchase report for q.
func (s *Service) Purchase(ctx context.Context, owner string, q PurchaseQuery) (*PurchaseReport, error) {
	if q.Year < 1 {
		return nil, fmt.Errorf("invalid year %d", q.Year)
	}
	key := cache.Key{
		Owner:         owner,
		Report:        cache.ReportPurchase,
		Period:        strconv.Itoa(q.Year),
		Search:        q.Search,
		ImportantOnly: q.ImportantOnly,
	}
	var out PurchaseReport
	err := s.serve(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.engine.PurchaseReport(ctx, owner, q)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PublisherDetail returns the cached daily breakdown of keys.
func (s *Service) PublisherDetail(ctx context.Context, owner string, rng models.DateRange, keys []string) (*PublisherDetailReport, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	// publisher keys are case sensitive, so they go into the period, not the search
	key := cache.Key{
		Owner:  owner,
		Report: cache.ReportPublisherDetail,
		Period: periodKey(rng) + "|" + strings.Join(keys, ","),
	}
	var out PublisherDetailReport
	err := s.serve(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.engine.PublisherDetail(ctx, owner, rng, keys)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PoolDetail returns the cached pool split for rng.
func (s *Service) PoolDetail(ctx context.Context, owner string, rng models.DateRange) (*PoolDetailReport, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	key := cache.Key{Owner: owner, Report: cache.ReportPool, Period: periodKey(rng)}
	var out PoolDetailReport
	err := s.serve(ctx, key, &out, func(ctx context.Context) (any, error) {
		return s.engine.PoolDetail(ctx, owner, rng)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Invalidate drops the owner's cached reports.
func (s *Service) Invalidate(ctx context.Context, owner, trigger string) {
	s.loader.Invalidate(ctx, owner, trigger)
}

// GroupDetail is a group with all of its mappings, inactive ones included.
type GroupDetail struct {
	Group    *models.RevenueShareGroup `json:"group"`
	Mappings []*models.AdUnitMapping   `json:"mappings"`
}

func (s *Service) ListGroups(ctx context.Context, owner string, activeOnly bool) ([]*models.RevenueShareGroup, error) {
	return s.deps.Groups.ListGroups(ctx, owner, activeOnly)
}

func (s *Service) GetGroup(ctx context.Context, owner, id string) (*GroupDetail, error) {
	g, err := s.deps.Groups.GetGroup(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	mappings, err := s.deps.Groups.ListGroupMappings(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	return &GroupDetail{Group: g, Mappings: mappings}, nil
}

// CreateGroup stores a new group. The group starts active.
func (s *Service) CreateGroup(ctx context.Context, g *models.RevenueShareGroup) error {
	g.Active = true
	if err := s.deps.Groups.CreateGroup(ctx, g); err != nil {
		return err
	}
	s.logger.Info("revenue share group created",
		zap.String("owner", g.Owner),
		zap.String("group_id", g.ID),
		zap.String("publisher_key", g.PublisherKey),
		zap.String("policy", g.Policy().String()),
	)
	s.Invalidate(ctx, g.Owner, "group_create")
	return nil
}

func (s *Service) UpdateGroup(ctx context.Context, g *models.RevenueShareGroup) error {
	if err := s.deps.Groups.UpdateGroup(ctx, g); err != nil {
		return err
	}
	s.Invalidate(ctx, g.Owner, "group_update")
	return nil
}

// DeactivateGroup retires a group; its history stays.
func (s *Service) DeactivateGroup(ctx context.Context, owner, id string) error {
	if err := s.deps.Groups.DeactivateGroup(ctx, owner, id); err != nil {
		return err
	}
	s.Invalidate(ctx, owner, "group_deactivate")
	return nil
}

func (s *Service) AddMapping(ctx context.Context, owner string, m *models.AdUnitMapping) error {
	if err := s.deps.Groups.AddMapping(ctx, owner, m); err != nil {
		return err
	}
	s.Invalidate(ctx, owner, "mapping_add")
	return nil
}

func (s *Service) DeactivateMapping(ctx context.Context, owner, groupID, mappingID string) error {
	if err := s.deps.Groups.DeactivateMapping(ctx, owner, groupID, mappingID); err != nil {
		return err
	}
	s.Invalidate(ctx, owner, "mapping_deactivate")
	return nil
}

// SetImportant flags the active groups of keys. Marking a publisher without
// an active group creates one with the default policy.
func (s *Service) SetImportant(ctx context.Context, owner string, keys []string, important bool) ([]*models.RevenueShareGroup, error) {
	var out []*models.RevenueShareGroup
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		g, err := s.deps.Groups.GetActiveGroupByPublisher(ctx, owner, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load group of %s: %w", key, err)
		}

		if g == nil {
			if !important {
				continue
			}
			g, err = s.newDefaultGroup(ctx, owner, key)
			if err != nil {
				return nil, err
			}
			g.Important = true
			if err := s.deps.Groups.CreateGroup(ctx, g); err != nil {
				return nil, fmt.Errorf("failed to create group for %s: %w", key, err)
			}
			out = append(out, g)
			continue
		}

		if g.Important != important {
			g.Important = important
			if err := s.deps.Groups.UpdateGroup(ctx, g); err != nil {
				return nil, fmt.Errorf("failed to update group of %s: %w", key, err)
			}
		}
		out = append(out, g)
	}
	s.Invalidate(ctx, owner, "important")
	return out, nil
}

func (s *Service) newDefaultGroup(ctx context.Context, owner, key string) (*models.RevenueShareGroup, error) {
	name := key
	p, err := s.deps.Directory.GetPublisher(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load publisher %s: %w", key, err)
	}
	if p != nil && p.DisplayName != "" {
		name = p.DisplayName
	}
	policy := s.engine.settings.DefaultPolicy
	return &models.RevenueShareGroup{
		Owner:        owner,
		PublisherKey: key,
		GroupName:    name + " group",
		UnitPrice:    policy.UnitPrice,
		UnitType:     policy.UnitType,
		Active:       true,
	}, nil
}

func (s *Service) ListRates(ctx context.Context, owner string, from, to time.Time) ([]*models.ExchangeRate, error) {
	return s.deps.Rates.ListRates(ctx, owner, from, to)
}

func (s *Service) UpsertRate(ctx context.Context, rate *models.ExchangeRate) error {
	if err := s.deps.Rates.UpsertRate(ctx, rate); err != nil {
		return err
	}
	s.Invalidate(ctx, rate.Owner, "exchange_rate")
	return nil
}

func (s *Service) UpsertOverride(ctx context.Context, o *models.RatePolicyOverride) error {
	if err := s.deps.Overrides.UpsertOverride(ctx, o); err != nil {
		return err
	}
	s.Invalidate(ctx, o.Owner, "rate_override")
	return nil
}

func (s *Service) UpsertAdjustment(ctx context.Context, a *models.Adjustment) error {
	if err := s.deps.Adjustments.UpsertAdjustment(ctx, a); err != nil {
		return err
	}
	s.Invalidate(ctx, a.Owner, "adjustment")
	return nil
}
