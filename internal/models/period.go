package models

import (
	"errors"
	"fmt"
	"time"
)

const DateLayout = "2006-01-02"

// MaxRangeDays bounds a report range; two years covers a summary plus its
// comparison window.
const MaxRangeDays = 731

// ErrRangeTooLong is returned for a range longer than MaxRangeDays.
var ErrRangeTooLong = fmt.Errorf("date range must not exceed %d days", MaxRangeDays)

// Day truncates t to UTC midnight of its calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthStart returns the first day of t's month.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// DaysIn returns the number of days in the month containing t.
func DaysIn(t time.Time) int {
	return MonthStart(t).AddDate(0, 1, -1).Day()
}

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange normalizes both ends to UTC days and validates order.
func NewDateRange(start, end time.Time) (DateRange, error) {
	r := DateRange{Start: Day(start), End: Day(end)}
	return r, r.Validate()
}

// YearRange covers January 1 to December 31 of year.
func YearRange(year int) DateRange {
	return DateRange{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("start and end dates are required")
	}
	if r.End.Before(r.Start) {
		return errors.New("end date must not be before start date")
	}
	if r.NumDays() > MaxRangeDays {
		return ErrRangeTooLong
	}
	return nil
}

// NumDays returns the number of days in the range, both ends included.
func (r DateRange) NumDays() int {
	return int(dayNumber(r.End)-dayNumber(r.Start)) + 1
}

// dayNumber counts calendar days since the Unix epoch. It does not go through
// time.Duration, which saturates after about 292 years.
func dayNumber(t time.Time) int64 {
	// midnight UTC is an exact multiple of a day on either side of the epoch
	return Day(t).Unix() / 86400
}

// Days lists every day of the range in order.
func (r DateRange) Days() []time.Time {
	n := r.NumDays()
	days := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		days = append(days, r.Start.AddDate(0, 0, i))
	}
	return days
}

// Contains reports whether t falls on a day within the range.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(r.Start) && !d.After(r.End)
}

// Previous returns a window of the same length starting one month earlier.
// The start day is clamped to the length of the previous month.
func (r DateRange) Previous() DateRange {
	prevMonth := MonthStart(r.Start).AddDate(0, -1, 0)
	day := r.Start.Day()
	if last := DaysIn(prevMonth); day > last {
		day = last
	}
	start := time.Date(prevMonth.Year(), prevMonth.Month(), day, 0, 0, 0, 0, time.UTC)
	return DateRange{Start: start, End: start.AddDate(0, 0, r.NumDays()-1)}
}
