package revenue

import (
	"context"
	"time"

	"github.com/radiusdt/revshare/internal/models"
	"github.com/shopspring/decimal"
)

// Delta compares a period value with the previous period.
type Delta struct {
	Amount  decimal.Decimal `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
}

// NewDelta computes the change from previous to current. The first period of
// a series has no predecessor, so its delta is the value itself. Percent is
// 100 when there is no positive base and current is positive, else 0.
func NewDelta(current, previous decimal.Decimal, first bool) Delta {
	if first {
		return Delta{Amount: current, Percent: basePercent(current)}
	}
	d := Delta{Amount: current.Sub(previous)}
	if previous.IsPositive() {
		d.Percent = d.Amount.Div(previous).Mul(hundred).Round(2)
	} else {
		d.Percent = basePercent(current)
	}
	return d
}

func basePercent(current decimal.Decimal) decimal.Decimal {
	if current.IsPositive() {
		return hundred
	}
	return decimal.Zero
}

// AmountsChange is the change of each amount of a bucket.
type AmountsChange struct {
	Revenue Delta `json:"revenue"`
	Cost    Delta `json:"cost"`
	Profit  Delta `json:"profit"`
}

// FiguresChange is the change of every bucket.
type FiguresChange struct {
	Publisher AmountsChange `json:"publisher"`
	Partner   AmountsChange `json:"partner"`
	PoolOnly  AmountsChange `json:"pool_only"`
	Total     AmountsChange `json:"total"`
}

func amountsChange(cur, prev Amounts, first bool) AmountsChange {
	return AmountsChange{
		Revenue: NewDelta(cur.Revenue, prev.Revenue, first),
		Cost:    NewDelta(cur.Cost, prev.Cost, first),
		Profit:  NewDelta(cur.Profit, prev.Profit, first),
	}
}

func figuresChange(cur, prev Figures, first bool) FiguresChange {
	return FiguresChange{
		Publisher: amountsChange(cur.Publisher, prev.Publisher, first),
		Partner:   amountsChange(cur.Partner, prev.Partner, first),
		PoolOnly:  amountsChange(cur.PoolOnly, prev.PoolOnly, first),
		Total:     amountsChange(cur.Total, prev.Total, first),
	}
}

// ChangeBetween compares two periods that both exist.
func ChangeBetween(cur, prev Figures) FiguresChange {
	return figuresChange(cur, prev, false)
}

// MonthRow is the sum of a month's daily rows.
type MonthRow struct {
	Month       time.Time     `json:"month"`
	Days        int           `json:"days"`
	MissingDays int           `json:"missing_days,omitempty"`
	Figures     Figures       `json:"figures"`
	Change      FiguresChange `json:"change"`
}

// RollupMonths groups ordered daily rows into months. Month totals are exact
// sums of the daily rows; nothing is rounded again.
func RollupMonths(days []DayRow) []MonthRow {
	var months []MonthRow
	for _, d := range days {
		m := models.MonthStart(d.Date)
		if len(months) == 0 || !months[len(months)-1].Month.Equal(m) {
			months = append(months, MonthRow{Month: m, Figures: zeroFigures()})
		}
		last := &months[len(months)-1]
		last.Days++
		if d.Missing {
			last.MissingDays++
		}
		last.Figures = last.Figures.Add(d.Figures)
	}
	for i := range months {
		if i == 0 {
			months[i].Change = figuresChange(months[i].Figures, zeroFigures(), true)
			continue
		}
		months[i].Change = figuresChange(months[i].Figures, months[i-1].Figures, false)
	}
	return months
}

// YearReport is the monthly breakdown of one calendar year.
type YearReport struct {
	Owner       string      `json:"owner"`
	Year        int         `json:"year"`
	Months      []MonthRow  `json:"months"`
	Total       Figures     `json:"total"`
	MissingDays []time.Time `json:"missing_days,omitempty"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// MonthlyReport returns twelve month rows with month-over-month deltas and
// the yearly total. January is the first period of the series.
func (e *Engine) MonthlyReport(ctx context.Context, owner string, year int) (*YearReport, error) {
	res, err := e.aggregateRange(ctx, owner, models.YearRange(year))
	if err != nil {
		return nil, err
	}
	return &YearReport{
		Owner:       owner,
		Year:        year,
		Months:      RollupMonths(res.days),
		Total:       res.totals,
		MissingDays: res.missing,
		Warnings:    res.warnings,
	}, nil
}
