package models

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTierForLevel(t *testing.T) {
	tests := []struct {
		level int
		want  Tier
	}{
		{50, TierPublisher},
		{100, TierPublisher},
		{60, TierPartner},
		{61, TierPartner},
		{65, TierPartner},
		{70, TierOther},
		{0, TierOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierForLevel(tt.level), "level %d", tt.level)
	}
}

func TestPublisherBucket(t *testing.T) {
	assert.Equal(t, BucketPublisher, NewPublisher("a", "A", 50).Bucket())
	assert.Equal(t, BucketPartner, NewPublisher("b", "B", 61).Bucket())
	assert.Equal(t, BucketPartner, NewPublisher("c", "C", 70).Bucket())
	assert.Equal(t, BucketPartner, UnknownPublisher("d").Bucket())

	var nilPub *Publisher
	assert.Equal(t, BucketPartner, nilPub.Bucket())
}

func TestDateRangePrevious(t *testing.T) {
	tests := []struct {
		name      string
		r         DateRange
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "full month",
			r:         DateRange{Start: date(2024, 3, 1), End: date(2024, 3, 31)},
			wantStart: date(2024, 2, 1),
			wantEnd:   date(2024, 3, 2),
		},
		{
			name:      "january wraps year",
			r:         DateRange{Start: date(2024, 1, 10), End: date(2024, 1, 19)},
			wantStart: date(2023, 12, 10),
			wantEnd:   date(2023, 12, 19),
		},
		{
			name:      "day clamped to short month",
			r:         DateRange{Start: date(2023, 3, 31), End: date(2023, 3, 31)},
			wantStart: date(2023, 2, 28),
			wantEnd:   date(2023, 2, 28),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := tt.r.Previous()
			assert.Equal(t, tt.wantStart, prev.Start)
			assert.Equal(t, tt.wantEnd, prev.End)
			assert.Equal(t, tt.r.NumDays(), prev.NumDays())
		})
	}
}

func TestDateRangeValidate(t *testing.T) {
	_, err := NewDateRange(date(2024, 2, 2), date(2024, 2, 1))
	require.Error(t, err)

	r, err := NewDateRange(time.Date(2024, 2, 1, 15, 30, 0, 0, time.UTC), date(2024, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, date(2024, 2, 1), r.Start)
	assert.Len(t, r.Days(), 3)
	assert.True(t, r.Contains(date(2024, 2, 3)))
	assert.False(t, r.Contains(date(2024, 2, 4)))
}

func TestDateRangeNumDays(t *testing.T) {
	tests := []struct {
		name    string
		start   time.Time
		end     time.Time
		days    int
		tooLong bool
	}{
		{"single day", date(2024, 3, 2), date(2024, 3, 2), 1, false},
		{"leap year", date(2024, 1, 1), date(2024, 12, 31), 366, false},
		{"common year", date(2023, 1, 1), date(2023, 12, 31), 365, false},
		{"across the leap day", date(2024, 2, 28), date(2024, 3, 1), 3, false},
		{"across the epoch", date(1969, 12, 31), date(1970, 1, 1), 2, false},
		{"at the cap", date(2023, 6, 1), date(2025, 5, 31), MaxRangeDays, false},
		{"one past the cap", date(2023, 6, 1), date(2025, 6, 1), MaxRangeDays + 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DateRange{Start: tt.start, End: tt.end}
			assert.Equal(t, tt.days, r.NumDays())

			_, err := NewDateRange(tt.start, tt.end)
			if tt.tooLong {
				assert.ErrorIs(t, err, ErrRangeTooLong)
				return
			}
			require.NoError(t, err)
			days := r.Days()
			require.Len(t, days, tt.days)
			assert.Equal(t, tt.end, days[len(days)-1])
		})
	}
}

func TestDateRangeCenturies(t *testing.T) {
	r := DateRange{Start: date(1700, 1, 1), End: date(2024, 12, 31)}

	want := 0
	for d := r.Start; !d.After(r.End); d = d.AddDate(0, 0, 1) {
		want++
	}
	assert.Equal(t, want, r.NumDays())
	days := r.Days()
	assert.Equal(t, r.End, days[len(days)-1])

	_, err := NewDateRange(r.Start, r.End)
	assert.ErrorIs(t, err, ErrRangeTooLong)
}

func TestRatePolicyValidate(t *testing.T) {
	ok := RatePolicy{UnitPrice: decimal.NewFromInt(50), UnitType: UnitTypePercent}
	require.NoError(t, ok.Validate())

	bad := RatePolicy{UnitPrice: decimal.NewFromInt(50), UnitType: "weekly"}
	assert.True(t, errors.Is(bad.Validate(), ErrInvalidRatePolicy))

	neg := RatePolicy{UnitPrice: decimal.NewFromInt(-1), UnitType: UnitTypeFlatPerClick}
	assert.ErrorIs(t, neg.Validate(), ErrInvalidRatePolicy)
}

func TestParseUnitType(t *testing.T) {
	u, err := ParseUnitType("WON")
	require.NoError(t, err)
	assert.Equal(t, UnitTypeFlatPerClick, u)

	_, err = ParseUnitType("cpm")
	assert.ErrorIs(t, err, ErrInvalidRatePolicy)
}

func TestNormalizationOnValidate(t *testing.T) {
	rate := &ExchangeRate{Owner: "o", YearMonth: date(2024, 5, 17), Rate: decimal.NewFromInt(1380)}
	require.NoError(t, rate.Validate())
	assert.Equal(t, date(2024, 5, 1), rate.YearMonth)

	m := &AdUnitMapping{GroupID: "g", Platform: "adsense", AdUnitID: "unit-1"}
	require.NoError(t, m.Validate())
	assert.Equal(t, "unit-1", m.AdUnitName)

	adj := &Adjustment{Owner: "o", Date: date(2024, 5, 17), Section: "tips"}
	assert.Error(t, adj.Validate())
}

func TestNewPoolStats(t *testing.T) {
	stats := NewPoolStats([]PoolClickStat{
		{PublisherKey: "a", Date: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC), PoolClicks: 10},
		{PublisherKey: "b", Date: date(2024, 1, 1), PoolClicks: 30},
		{PublisherKey: "a", Date: date(2024, 1, 2), PoolClicks: 5},
	})
	assert.Equal(t, int64(40), stats.NetworkTotals[date(2024, 1, 1)])
	assert.Equal(t, int64(5), stats.NetworkTotals[date(2024, 1, 2)])
	assert.Len(t, stats.ByDate()[date(2024, 1, 1)], 2)
}
