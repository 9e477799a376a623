package models

// Tier classifies a publisher in the directory.
type Tier string

const (
	TierPublisher Tier = "publisher"
	TierPartner   Tier = "partner"
	TierOther     Tier = "other"
)

// Bucket is the top-level financial classification revenue and cost land in.
type Bucket string

const (
	BucketPublisher Bucket = "publisher"
	BucketPartner   Bucket = "partner"
	BucketPoolOnly  Bucket = "pool_only"
)

// Buckets lists every bucket in report order.
var Buckets = []Bucket{BucketPublisher, BucketPartner, BucketPoolOnly}

// Directory levels.
const (
	LevelPublisher      = 50
	LevelAdmin          = 100
	LevelPartner        = 60
	LevelPartnerPremium = 61
	LevelPartnerAgency  = 65

	// DefaultLevel is assumed for keys missing from the directory.
	DefaultLevel = LevelPartner
)

// TierForLevel maps a directory level to its tier.
func TierForLevel(level int) Tier {
	switch level {
	case LevelPublisher, LevelAdmin:
		return TierPublisher
	case LevelPartner, LevelPartnerPremium, LevelPartnerAgency:
		return TierPartner
	default:
		return TierOther
	}
}

// Publisher is a directory entry. The directory is owned by another system.
type Publisher struct {
	ExternalKey string `json:"external_key"`
	DisplayName string `json:"display_name"`
	Level       int    `json:"level"`
	Tier        Tier   `json:"tier"`
}

// NewPublisher builds a directory entry with its tier derived from level.
func NewPublisher(key, name string, level int) *Publisher {
	return &Publisher{
		ExternalKey: key,
		DisplayName: name,
		Level:       level,
		Tier:        TierForLevel(level),
	}
}

// UnknownPublisher stands in for a key the directory does not know.
func UnknownPublisher(key string) *Publisher {
	return NewPublisher(key, key, DefaultLevel)
}

// Bucket returns the revenue bucket for the publisher's tier.
// Partner and other tiers both land in the partner bucket.
func (p *Publisher) Bucket() Bucket {
	if p != nil && p.Tier == TierPublisher {
		return BucketPublisher
	}
	return BucketPartner
}
