package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/revshare/internal/models"
)

// In-memory implementations. They back tests and local runs without a database.

func inRange(t, from, to time.Time) bool {
	d := models.Day(t)
	return !d.Before(models.Day(from)) && !d.After(models.Day(to))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// InMemoryLedger stores revenue records in memory.
type InMemoryLedger struct {
	mu      sync.RWMutex
	records []*models.RevenueRecord
}

func NewInMemoryLedger() *InMemoryLedger {
	return &InMemoryLedger{}
}

// Add appends records, replacing any with the same unique key.
func (l *InMemoryLedger) Add(records ...*models.RevenueRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, rec := range records {
		cp := *rec
		cp.Date = models.Day(cp.Date)
		replaced := false
		for i, existing := range l.records {
			if existing.Owner == cp.Owner && existing.Platform == cp.Platform &&
				existing.Alias == cp.Alias && existing.Date.Equal(cp.Date) &&
				existing.ContentID == cp.ContentID && existing.AdUnitID == cp.AdUnitID {
				l.records[i] = &cp
				replaced = true
				break
			}
		}
		if !replaced {
			l.records = append(l.records, &cp)
		}
	}
}

func (l *InMemoryLedger) QueryRevenue(ctx context.Context, owner string, q LedgerQuery) ([]*models.RevenueRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var res []*models.RevenueRecord
	for _, rec := range l.records {
		if rec.Owner != owner || !inRange(rec.Date, q.Start, q.End) {
			continue
		}
		if len(q.Platforms) > 0 && !containsString(q.Platforms, rec.Platform) {
			continue
		}
		if len(q.AdUnitIDs) > 0 && !containsString(q.AdUnitIDs, rec.AdUnitID) {
			continue
		}
		cp := *rec
		res = append(res, &cp)
	}
	return res, nil
}

// InMemoryExchangeRateRepo stores exchange rates in memory.
type InMemoryExchangeRateRepo struct {
	mu    sync.RWMutex
	rates map[string]map[time.Time]*models.ExchangeRate
}

func NewInMemoryExchangeRateRepo() *InMemoryExchangeRateRepo {
	return &InMemoryExchangeRateRepo{
		rates: make(map[string]map[time.Time]*models.ExchangeRate),
	}
}

func (r *InMemoryExchangeRateRepo) GetRate(ctx context.Context, owner string, month time.Time) (*models.ExchangeRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rate, ok := r.rates[owner][models.MonthStart(month)]; ok {
		cp := *rate
		return &cp, nil
	}
	return nil, nil
}

func (r *InMemoryExchangeRateRepo) ListRates(ctx context.Context, owner string, from, to time.Time) ([]*models.ExchangeRate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	from, to = models.MonthStart(from), models.MonthStart(to)
	var res []*models.ExchangeRate
	for month, rate := range r.rates[owner] {
		if month.Before(from) || month.After(to) {
			continue
		}
		cp := *rate
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].YearMonth.Before(res[j].YearMonth) })
	return res, nil
}

func (r *InMemoryExchangeRateRepo) UpsertRate(ctx context.Context, rate *models.ExchangeRate) error {
	if err := rate.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rates[rate.Owner] == nil {
		r.rates[rate.Owner] = make(map[time.Time]*models.ExchangeRate)
	}
	cp := *rate
	r.rates[rate.Owner][rate.YearMonth] = &cp
	return nil
}

// InMemoryDirectory stores publisher entries in memory.
type InMemoryDirectory struct {
	mu         sync.RWMutex
	publishers map[string]*models.Publisher
}

func NewInMemoryDirectory(publishers ...*models.Publisher) *InMemoryDirectory {
	d := &InMemoryDirectory{publishers: make(map[string]*models.Publisher)}
	for _, p := range publishers {
		d.Put(p)
	}
	return d
}

// Put adds or replaces an entry. Tier is derived from level.
func (d *InMemoryDirectory) Put(p *models.Publisher) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.publishers[p.ExternalKey] = models.NewPublisher(p.ExternalKey, p.DisplayName, p.Level)
}

func (d *InMemoryDirectory) GetPublisher(ctx context.Context, key string) (*models.Publisher, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if p, ok := d.publishers[key]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (d *InMemoryDirectory) ListPublishers(ctx context.Context, keys []string) ([]*models.Publisher, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var res []*models.Publisher
	for key, p := range d.publishers {
		if len(keys) > 0 && !containsString(keys, key) {
			continue
		}
		cp := *p
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ExternalKey < res[j].ExternalKey })
	return res, nil
}

func (d *InMemoryDirectory) SearchPublishers(ctx context.Context, terms []string) ([]*models.Publisher, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var res []*models.Publisher
	for _, p := range d.publishers {
		key, name := strings.ToLower(p.ExternalKey), strings.ToLower(p.DisplayName)
		for _, term := range terms {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				continue
			}
			if strings.Contains(key, term) || strings.Contains(name, term) {
				cp := *p
				res = append(res, &cp)
				break
			}
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ExternalKey < res[j].ExternalKey })
	return res, nil
}

// InMemoryGroupRepo stores revenue-share groups and mappings in memory.
type InMemoryGroupRepo struct {
	mu       sync.RWMutex
	groups   map[string]*models.RevenueShareGroup
	mappings map[string]*models.AdUnitMapping
	now      func() time.Time
}

func NewInMemoryGroupRepo() *InMemoryGroupRepo {
	return &InMemoryGroupRepo{
		groups:   make(map[string]*models.RevenueShareGroup),
		mappings: make(map[string]*models.AdUnitMapping),
		now:      time.Now,
	}
}

func (r *InMemoryGroupRepo) ListGroups(ctx context.Context, owner string, activeOnly bool) ([]*models.RevenueShareGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.RevenueShareGroup
	for _, g := range r.groups {
		if g.Owner != owner || (activeOnly && !g.Active) {
			continue
		}
		cp := *g
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (r *InMemoryGroupRepo) GetGroup(ctx context.Context, owner, id string) (*models.RevenueShareGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok || g.Owner != owner {
		return nil, fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	cp := *g
	return &cp, nil
}

func (r *InMemoryGroupRepo) GetActiveGroupByPublisher(ctx context.Context, owner, publisherKey string) (*models.RevenueShareGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if g := r.activeFor(owner, publisherKey, ""); g != nil {
		cp := *g
		return &cp, nil
	}
	return nil, nil
}

// activeFor must be called with mu held.
func (r *InMemoryGroupRepo) activeFor(owner, publisherKey, exceptID string) *models.RevenueShareGroup {
	for id, g := range r.groups {
		if id != exceptID && g.Active && g.Owner == owner && g.PublisherKey == publisherKey {
			return g
		}
	}
	return nil
}

func (r *InMemoryGroupRepo) CreateGroup(ctx context.Context, g *models.RevenueShareGroup) error {
	if err := g.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g.Active && r.activeFor(g.Owner, g.PublisherKey, "") != nil {
		return ErrDuplicateActiveGroup
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := r.now()
	g.CreatedAt, g.UpdatedAt = now, now
	cp := *g
	r.groups[g.ID] = &cp
	return nil
}

func (r *InMemoryGroupRepo) UpdateGroup(ctx context.Context, g *models.RevenueShareGroup) error {
	if err := g.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.groups[g.ID]
	if !ok || existing.Owner != g.Owner {
		return fmt.Errorf("group %s: %w", g.ID, ErrNotFound)
	}
	if g.Active && r.activeFor(g.Owner, g.PublisherKey, g.ID) != nil {
		return ErrDuplicateActiveGroup
	}
	g.CreatedAt = existing.CreatedAt
	g.UpdatedAt = r.now()
	cp := *g
	r.groups[g.ID] = &cp
	return nil
}

func (r *InMemoryGroupRepo) DeactivateGroup(ctx context.Context, owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[id]
	if !ok || g.Owner != owner {
		return fmt.Errorf("group %s: %w", id, ErrNotFound)
	}
	g.Active = false
	g.UpdatedAt = r.now()
	return nil
}

func (r *InMemoryGroupRepo) ListMappings(ctx context.Context, owner string) ([]*models.AdUnitMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.AdUnitMapping
	for _, m := range r.mappings {
		g, ok := r.groups[m.GroupID]
		if !ok || g.Owner != owner || !g.Active || !m.Active {
			continue
		}
		cp := *m
		res = append(res, &cp)
	}
	sortMappings(res)
	return res, nil
}

func (r *InMemoryGroupRepo) ListGroupMappings(ctx context.Context, owner, groupID string) ([]*models.AdUnitMapping, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[groupID]
	if !ok || g.Owner != owner {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	var res []*models.AdUnitMapping
	for _, m := range r.mappings {
		if m.GroupID == groupID {
			cp := *m
			res = append(res, &cp)
		}
	}
	sortMappings(res)
	return res, nil
}

func (r *InMemoryGroupRepo) AddMapping(ctx context.Context, owner string, m *models.AdUnitMapping) error {
	if err := m.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.groups[m.GroupID]
	if !ok || g.Owner != owner {
		return fmt.Errorf("group %s: %w", m.GroupID, ErrNotFound)
	}
	// (group, platform, ad unit) is unique; re-adding reactivates.
	for _, existing := range r.mappings {
		if existing.GroupID == m.GroupID && existing.Platform == m.Platform && existing.AdUnitID == m.AdUnitID {
			existing.Active = true
			existing.AdUnitName = m.AdUnitName
			*m = *existing
			return nil
		}
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.Active = true
	m.CreatedAt = r.now()
	cp := *m
	r.mappings[m.ID] = &cp
	return nil
}

func (r *InMemoryGroupRepo) DeactivateMapping(ctx context.Context, owner, groupID, mappingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.mappings[mappingID]
	if !ok || m.GroupID != groupID {
		return fmt.Errorf("mapping %s: %w", mappingID, ErrNotFound)
	}
	if g, ok := r.groups[groupID]; !ok || g.Owner != owner {
		return fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	m.Active = false
	return nil
}

func sortMappings(ms []*models.AdUnitMapping) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Platform != ms[j].Platform {
			return ms[i].Platform < ms[j].Platform
		}
		return ms[i].AdUnitID < ms[j].AdUnitID
	})
}

// InMemoryOverrideRepo stores rate overrides in memory.
type InMemoryOverrideRepo struct {
	mu        sync.RWMutex
	overrides map[string]*models.RatePolicyOverride
}

func NewInMemoryOverrideRepo() *InMemoryOverrideRepo {
	return &InMemoryOverrideRepo{overrides: make(map[string]*models.RatePolicyOverride)}
}

func (r *InMemoryOverrideRepo) ListOverrides(ctx context.Context, owner string, from, to time.Time) ([]*models.RatePolicyOverride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	from, to = models.MonthStart(from), models.MonthStart(to)
	var res []*models.RatePolicyOverride
	for _, o := range r.overrides {
		if o.Owner != owner || o.YearMonth.Before(from) || o.YearMonth.After(to) {
			continue
		}
		cp := *o
		res = append(res, &cp)
	}
	return res, nil
}

func (r *InMemoryOverrideRepo) UpsertOverride(ctx context.Context, o *models.RatePolicyOverride) error {
	if err := o.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *o
	r.overrides[o.Owner+"\x00"+o.PublisherKey+"\x00"+o.YearMonth.Format(models.DateLayout)] = &cp
	return nil
}

// InMemoryAdjustmentRepo stores adjustments in memory.
type InMemoryAdjustmentRepo struct {
	mu          sync.RWMutex
	adjustments map[string]*models.Adjustment
}

func NewInMemoryAdjustmentRepo() *InMemoryAdjustmentRepo {
	return &InMemoryAdjustmentRepo{adjustments: make(map[string]*models.Adjustment)}
}

func (r *InMemoryAdjustmentRepo) ListAdjustments(ctx context.Context, owner string, from, to time.Time) ([]*models.Adjustment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []*models.Adjustment
	for _, a := range r.adjustments {
		if a.Owner != owner || !inRange(a.Date, from, to) {
			continue
		}
		cp := *a
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Date.Before(res[j].Date) })
	return res, nil
}

func (r *InMemoryAdjustmentRepo) UpsertAdjustment(ctx context.Context, a *models.Adjustment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := a.Owner + "\x00" + a.Date.Format(models.DateLayout) + "\x00" + string(a.Section)
	if existing, ok := r.adjustments[key]; ok {
		a.ID = existing.ID
	} else if a.ID == "" {
		a.ID = uuid.NewString()
	}
	cp := *a
	r.adjustments[key] = &cp
	return nil
}

// InMemoryPoolStats stores pool click statistics in memory.
type InMemoryPoolStats struct {
	mu   sync.RWMutex
	rows []models.PoolClickStat
}

func NewInMemoryPoolStats(rows ...models.PoolClickStat) *InMemoryPoolStats {
	s := &InMemoryPoolStats{}
	s.Add(rows...)
	return s
}

func (s *InMemoryPoolStats) Add(rows ...models.PoolClickStat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		row.Date = models.Day(row.Date)
		s.rows = append(s.rows, row)
	}
}

func (s *InMemoryPoolStats) PoolStats(ctx context.Context, start, end time.Time) (*models.PoolStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []models.PoolClickStat
	for _, row := range s.rows {
		if inRange(row.Date, start, end) {
			rows = append(rows, row)
		}
	}
	return models.NewPoolStats(rows), nil
}
