package cache

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Report names used in cache keys.
const (
	ReportSummary         = "summary"
	ReportMonthly         = "monthly"
	ReportPurchase        = "purchase"
	ReportPublisherDetail = "publisher_detail"
	ReportPool            = "pool"
)

// Key identifies one cached report. Every field takes part in the hash, so
// different filter sets never share an entry.
type Key struct {
	Owner         string
	Report        string
	Period        string
	Search        string
	ImportantOnly bool
}

// NormalizeTerms trims and lowercases comma-separated terms, dropping empty
// ones. Order is kept.
func NormalizeTerms(search string) []string {
	var terms []string
	for _, t := range strings.Split(search, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// canonical is the unambiguous encoding hashed into the key.
func (k Key) canonical() string {
	var b strings.Builder
	b.WriteString(k.Report)
	b.WriteByte(0)
	b.WriteString(k.Period)
	b.WriteByte(0)
	b.WriteString(strings.Join(NormalizeTerms(k.Search), ","))
	b.WriteByte(0)
	b.WriteString(strconv.FormatBool(k.ImportantOnly))
	return b.String()
}

// Hash returns the xxhash of the canonical encoding.
func (k Key) Hash() uint64 {
	return xxhash.Sum64String(k.canonical())
}

// Encode returns the storage key "<prefix>:<owner>:<report>:<hash>".
func (k Key) Encode(prefix string) string {
	return prefix + ":" + k.Owner + ":" + k.Report + ":" + strconv.FormatUint(k.Hash(), 16)
}

// ownerPrefix is the storage key prefix shared by all of an owner's entries.
func ownerPrefix(prefix, owner string) string {
	return prefix + ":" + owner + ":"
}
