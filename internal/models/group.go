package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidRatePolicy is returned for a rate policy the cost calculator
// cannot apply.
var ErrInvalidRatePolicy = errors.New("invalid rate policy")

// UnitType selects how a revenue-share cost is computed.
type UnitType string

const (
	// UnitTypePercent bills unit_price percent of attributed revenue.
	UnitTypePercent UnitType = "percent"
	// UnitTypeFlatPerClick bills unit_price per click and ignores revenue.
	UnitTypeFlatPerClick UnitType = "flat_per_click"
)

// ParseUnitType accepts the canonical names and the legacy "won" alias.
func ParseUnitType(s string) (UnitType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(UnitTypePercent):
		return UnitTypePercent, nil
	case string(UnitTypeFlatPerClick), "won", "flat":
		return UnitTypeFlatPerClick, nil
	}
	return "", fmt.Errorf("%w: unknown unit type %q", ErrInvalidRatePolicy, s)
}

// RatePolicy is the price a publisher is paid out of attributed revenue.
type RatePolicy struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitType  UnitType        `json:"unit_type"`
}

func (p RatePolicy) Validate() error {
	switch p.UnitType {
	case UnitTypePercent, UnitTypeFlatPerClick:
	default:
		return fmt.Errorf("%w: unknown unit type %q", ErrInvalidRatePolicy, p.UnitType)
	}
	if p.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price must not be negative", ErrInvalidRatePolicy)
	}
	return nil
}

// String renders the policy the way reports display it, e.g. "50%" or "5/click".
func (p RatePolicy) String() string {
	if p.UnitType == UnitTypeFlatPerClick {
		return p.UnitPrice.String() + "/click"
	}
	return p.UnitPrice.String() + "%"
}

// RevenueShareGroup binds a publisher to a rate policy and a set of ad units.
type RevenueShareGroup struct {
	ID           string          `json:"id"`
	Owner        string          `json:"owner"`
	PublisherKey string          `json:"publisher_key"`
	GroupName    string          `json:"group_name"`
	CompanyName  string          `json:"company_name,omitempty"`
	ServiceName  string          `json:"service_name,omitempty"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	UnitType     UnitType        `json:"unit_type"`
	Active       bool            `json:"active"`
	Important    bool            `json:"important"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Policy returns the group's rate policy.
func (g *RevenueShareGroup) Policy() RatePolicy {
	return RatePolicy{UnitPrice: g.UnitPrice, UnitType: g.UnitType}
}

// Validate checks required fields and the rate policy.
func (g *RevenueShareGroup) Validate() error {
	if g == nil {
		return errors.New("group is nil")
	}
	if g.Owner == "" {
		return errors.New("owner is required")
	}
	if g.PublisherKey == "" {
		return errors.New("publisher_key is required")
	}
	if g.GroupName == "" {
		return errors.New("group_name is required")
	}
	return g.Policy().Validate()
}

// AdUnitMapping assigns a direct-attribution ad unit to a group.
type AdUnitMapping struct {
	ID         string    `json:"id"`
	GroupID    string    `json:"group_id"`
	Platform   string    `json:"platform"`
	AdUnitID   string    `json:"ad_unit_id"`
	AdUnitName string    `json:"ad_unit_name"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks required fields. AdUnitName defaults to AdUnitID.
func (m *AdUnitMapping) Validate() error {
	if m == nil {
		return errors.New("mapping is nil")
	}
	if m.GroupID == "" {
		return errors.New("group_id is required")
	}
	if m.Platform == "" {
		return errors.New("platform is required")
	}
	if m.AdUnitID == "" {
		return errors.New("ad_unit_id is required")
	}
	if m.AdUnitName == "" {
		m.AdUnitName = m.AdUnitID
	}
	return nil
}

// RatePolicyOverride replaces a publisher's policy for a single month.
type RatePolicyOverride struct {
	Owner        string          `json:"owner"`
	PublisherKey string          `json:"publisher_key"`
	YearMonth    time.Time       `json:"year_month"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	UnitType     UnitType        `json:"unit_type"`
}

func (o *RatePolicyOverride) Policy() RatePolicy {
	return RatePolicy{UnitPrice: o.UnitPrice, UnitType: o.UnitType}
}

// Validate checks the override and normalizes YearMonth to the first of its month.
func (o *RatePolicyOverride) Validate() error {
	if o == nil {
		return errors.New("override is nil")
	}
	if o.Owner == "" {
		return errors.New("owner is required")
	}
	if o.PublisherKey == "" {
		return errors.New("publisher_key is required")
	}
	if o.YearMonth.IsZero() {
		return errors.New("year_month is required")
	}
	o.YearMonth = MonthStart(o.YearMonth)
	return o.Policy().Validate()
}
