package storage

import (
	"context"
	"errors"
	"time"

	"github.com/radiusdt/revshare/internal/models"
)

var (
	// ErrNotFound is returned when a record addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateActiveGroup is returned when a publisher already has an
	// active revenue-share group for the owner.
	ErrDuplicateActiveGroup = errors.New("publisher already has an active revenue-share group")
)

// =============================================
// LEDGER
// =============================================

// LedgerQuery selects revenue records. Empty filters match everything.
type LedgerQuery struct {
	Start     time.Time
	End       time.Time
	Platforms []string
	AdUnitIDs []string
}

// LedgerStore reads revenue records written by ingestion.
type LedgerStore interface {
	QueryRevenue(ctx context.Context, owner string, q LedgerQuery) ([]*models.RevenueRecord, error)
}

// =============================================
// EXCHANGE RATES
// =============================================

// ExchangeRateRepo stores monthly USD rates per owner.
type ExchangeRateRepo interface {
	// GetRate returns nil without error when the month has no rate.
	GetRate(ctx context.Context, owner string, month time.Time) (*models.ExchangeRate, error)
	ListRates(ctx context.Context, owner string, from, to time.Time) ([]*models.ExchangeRate, error)
	UpsertRate(ctx context.Context, rate *models.ExchangeRate) error
}

// =============================================
// DIRECTORY
// =============================================

// Directory reads publisher entries owned by the member directory.
type Directory interface {
	// GetPublisher returns nil without error for unknown keys.
	GetPublisher(ctx context.Context, key string) (*models.Publisher, error)
	// ListPublishers returns the known entries among keys, or every entry when keys is empty.
	ListPublishers(ctx context.Context, keys []string) ([]*models.Publisher, error)
	// SearchPublishers matches any term as a case-insensitive substring of key or display name.
	SearchPublishers(ctx context.Context, terms []string) ([]*models.Publisher, error)
}

// =============================================
// REVENUE-SHARE GROUPS
// =============================================

// GroupRepo stores revenue-share groups and their ad unit mappings.
type GroupRepo interface {
	ListGroups(ctx context.Context, owner string, activeOnly bool) ([]*models.RevenueShareGroup, error)
	GetGroup(ctx context.Context, owner, id string) (*models.RevenueShareGroup, error)
	GetActiveGroupByPublisher(ctx context.Context, owner, publisherKey string) (*models.RevenueShareGroup, error)
	CreateGroup(ctx context.Context, g *models.RevenueShareGroup) error
	UpdateGroup(ctx context.Context, g *models.RevenueShareGroup) error
	DeactivateGroup(ctx context.Context, owner, id string) error

	// ListMappings returns the active mappings of the owner's active groups.
	ListMappings(ctx context.Context, owner string) ([]*models.AdUnitMapping, error)
	ListGroupMappings(ctx context.Context, owner, groupID string) ([]*models.AdUnitMapping, error)
	AddMapping(ctx context.Context, owner string, m *models.AdUnitMapping) error
	DeactivateMapping(ctx context.Context, owner, groupID, mappingID string) error
}

// =============================================
// OVERRIDES & ADJUSTMENTS
// =============================================

// OverrideRepo stores monthly rate policy overrides.
type OverrideRepo interface {
	ListOverrides(ctx context.Context, owner string, from, to time.Time) ([]*models.RatePolicyOverride, error)
	UpsertOverride(ctx context.Context, o *models.RatePolicyOverride) error
}

// AdjustmentRepo stores manual revenue and cost entries.
type AdjustmentRepo interface {
	ListAdjustments(ctx context.Context, owner string, from, to time.Time) ([]*models.Adjustment, error)
	UpsertAdjustment(ctx context.Context, a *models.Adjustment) error
}

// =============================================
// TRAFFIC STATISTICS
// =============================================

// PoolStatsSource reads per-publisher pool click statistics.
type PoolStatsSource interface {
	PoolStats(ctx context.Context, start, end time.Time) (*models.PoolStats, error)
}
