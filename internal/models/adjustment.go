package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AdjustmentSection names where a manual entry is folded in.
type AdjustmentSection string

const (
	SectionPublisher     AdjustmentSection = "publisher"
	SectionPartner       AdjustmentSection = "partner"
	SectionPoolOnly      AdjustmentSection = "pool_only"
	SectionPublisherCost AdjustmentSection = "publisher_cost"
	SectionPartnerCost   AdjustmentSection = "partner_cost"
	SectionPoolOnlyCost  AdjustmentSection = "pool_only_cost"
)

// Bucket returns the bucket the section belongs to and whether it is a cost entry.
func (s AdjustmentSection) Bucket() (Bucket, bool, error) {
	switch s {
	case SectionPublisher:
		return BucketPublisher, false, nil
	case SectionPartner:
		return BucketPartner, false, nil
	case SectionPoolOnly:
		return BucketPoolOnly, false, nil
	case SectionPublisherCost:
		return BucketPublisher, true, nil
	case SectionPartnerCost:
		return BucketPartner, true, nil
	case SectionPoolOnlyCost:
		return BucketPoolOnly, true, nil
	}
	return "", false, fmt.Errorf("unknown adjustment section %q", s)
}

// Adjustment is a manually entered revenue or cost amount for one day.
type Adjustment struct {
	ID      string            `json:"id"`
	Owner   string            `json:"owner"`
	Date    time.Time         `json:"date"`
	Section AdjustmentSection `json:"section"`
	Amount  decimal.Decimal   `json:"amount"`
	Memo    string            `json:"memo,omitempty"`
}

func (a *Adjustment) Validate() error {
	if a == nil {
		return errors.New("adjustment is nil")
	}
	if a.Owner == "" {
		return errors.New("owner is required")
	}
	if a.Date.IsZero() {
		return errors.New("date is required")
	}
	if _, _, err := a.Section.Bucket(); err != nil {
		return err
	}
	a.Date = Day(a.Date)
	return nil
}
