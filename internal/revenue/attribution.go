package revenue

import (
	"github.com/radiusdt/revshare/internal/models"
)

type unitKey struct {
	platform string
	adUnitID string
}

// Attribution resolves direct-attribution ad units to revenue-share groups.
type Attribution struct {
	byUnit     map[unitKey]*models.RevenueShareGroup
	publishers map[string]*models.Publisher
}

// NewAttribution indexes the active mappings of active groups. When two
// groups map the same unit, the earlier created group wins.
func NewAttribution(groups []*models.RevenueShareGroup, mappings []*models.AdUnitMapping, publishers map[string]*models.Publisher) *Attribution {
	byID := make(map[string]*models.RevenueShareGroup, len(groups))
	for _, g := range groups {
		if g.Active {
			byID[g.ID] = g
		}
	}

	a := &Attribution{
		byUnit:     make(map[unitKey]*models.RevenueShareGroup, len(mappings)),
		publishers: publishers,
	}
	for _, m := range mappings {
		g, ok := byID[m.GroupID]
		if !ok || !m.Active {
			continue
		}
		key := unitKey{platform: m.Platform, adUnitID: m.AdUnitID}
		if prev, ok := a.byUnit[key]; ok && !groupBefore(g, prev) {
			continue
		}
		a.byUnit[key] = g
	}
	return a
}

func groupBefore(a, b *models.RevenueShareGroup) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Resolve returns the bucket and owning group of an ad unit. Unmapped units
// land in the partner bucket with a nil group; revenue is never dropped.
func (a *Attribution) Resolve(platform, adUnitID string) (models.Bucket, *models.RevenueShareGroup) {
	g, ok := a.byUnit[unitKey{platform: platform, adUnitID: adUnitID}]
	if !ok {
		return models.BucketPartner, nil
	}
	return a.publisher(g.PublisherKey).Bucket(), g
}

func (a *Attribution) publisher(key string) *models.Publisher {
	if p, ok := a.publishers[key]; ok && p != nil {
		return p
	}
	return models.UnknownPublisher(key)
}

// PlatformKind says how an account's revenue is bucketed.
type PlatformKind string

const (
	// KindDirect accounts are attributed per ad unit.
	KindDirect PlatformKind = "direct"
	// KindPartnerNetwork accounts go to the partner bucket whole.
	KindPartnerNetwork PlatformKind = "partner_network"
	// KindPoolOnly accounts go to the pool_only bucket and carry no RS cost.
	KindPoolOnly PlatformKind = "pool_only"
	// KindPool is the shared placement split by the pool distributor.
	KindPool PlatformKind = "pool"
)

// Classifier assigns ledger records to a platform kind. Entries in the
// partner and pool-only lists are either "platform" or "platform:alias".
type Classifier struct {
	partner      map[string]bool
	poolOnly     map[string]bool
	poolPlatform string
	poolAdUnitID string
}

func NewClassifier(s Settings) *Classifier {
	c := &Classifier{
		partner:      make(map[string]bool, len(s.PartnerPlatforms)),
		poolOnly:     make(map[string]bool, len(s.PoolOnlyAccounts)),
		poolPlatform: s.PoolPlatform,
		poolAdUnitID: s.PoolAdUnitID,
	}
	for _, p := range s.PartnerPlatforms {
		c.partner[p] = true
	}
	for _, p := range s.PoolOnlyAccounts {
		c.poolOnly[p] = true
	}
	return c
}

func matches(set map[string]bool, k models.AccountKey) bool {
	return set[k.String()] || set[k.Platform]
}

// Classify returns the kind of a record. Unknown platforms are direct.
func (c *Classifier) Classify(rec *models.RevenueRecord) PlatformKind {
	acct := rec.Account()
	switch {
	case c.IsPool(rec):
		return KindPool
	case matches(c.poolOnly, acct):
		return KindPoolOnly
	case matches(c.partner, acct):
		return KindPartnerNetwork
	default:
		return KindDirect
	}
}

// IsPool reports whether the record belongs to the shared placement.
func (c *Classifier) IsPool(rec *models.RevenueRecord) bool {
	return rec.Platform == c.poolPlatform && rec.AdUnitID == c.poolAdUnitID
}
