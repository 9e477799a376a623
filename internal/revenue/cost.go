package revenue

import (
	"fmt"
	"time"

	"github.com/radiusdt/revshare/internal/models"
	"github.com/shopspring/decimal"
)

// CostCalculator applies rate policies to attributed revenue.
type CostCalculator struct {
	defaultPolicy    models.RatePolicy
	partnerUnitValue decimal.Decimal
}

func NewCostCalculator(defaultPolicy models.RatePolicy, partnerUnitValue decimal.Decimal) *CostCalculator {
	return &CostCalculator{defaultPolicy: defaultPolicy, partnerUnitValue: partnerUnitValue}
}

// PurchaseCost returns the daily cost in whole currency units, truncated.
// Percent policies bill a share of adRevenue; flat policies bill per click
// and ignore revenue.
func (c *CostCalculator) PurchaseCost(policy models.RatePolicy, adRevenue decimal.Decimal, clicks int64) (int64, error) {
	switch policy.UnitType {
	case models.UnitTypePercent:
		return adRevenue.Mul(policy.UnitPrice).Div(hundred).IntPart(), nil
	case models.UnitTypeFlatPerClick:
		return decimal.NewFromInt(clicks).Mul(policy.UnitPrice).IntPart(), nil
	}
	return 0, fmt.Errorf("%w: unknown unit type %q", models.ErrInvalidRatePolicy, policy.UnitType)
}

// PartnerCost returns the partner bucket's daily cost from valid pageviews.
func (c *CostCalculator) PartnerCost(validPageviews int64) int64 {
	return decimal.NewFromInt(validPageviews).Mul(c.partnerUnitValue).IntPart()
}

// DefaultPolicy is applied to publishers without a group or override.
func (c *CostCalculator) DefaultPolicy() models.RatePolicy {
	return c.defaultPolicy
}

type overrideKey struct {
	publisherKey string
	month        time.Time
}

// PolicyBook resolves the effective rate policy of a publisher for a day:
// a monthly override first, then the active group, then the default.
type PolicyBook struct {
	overrides     map[overrideKey]models.RatePolicy
	defaultPolicy models.RatePolicy
}

func NewPolicyBook(overrides []*models.RatePolicyOverride, defaultPolicy models.RatePolicy) *PolicyBook {
	b := &PolicyBook{
		overrides:     make(map[overrideKey]models.RatePolicy, len(overrides)),
		defaultPolicy: defaultPolicy,
	}
	for _, o := range overrides {
		b.overrides[overrideKey{publisherKey: o.PublisherKey, month: models.MonthStart(o.YearMonth)}] = o.Policy()
	}
	return b
}

// Effective returns the policy for publisherKey on date. group may be nil.
func (b *PolicyBook) Effective(publisherKey string, group *models.RevenueShareGroup, date time.Time) models.RatePolicy {
	if p, ok := b.overrides[overrideKey{publisherKey: publisherKey, month: models.MonthStart(date)}]; ok {
		return p
	}
	if group != nil {
		return group.Policy()
	}
	return b.defaultPolicy
}
