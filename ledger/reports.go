/*
reports.go - Dashboard figures derived from the transaction log

PURPOSE:
  Read-only aggregates for observers and bartenders. Nothing here is
  stored; every figure is recomputed from the log on each call.

FIGURES:
  Daily:   clients served, litres of alcohol, revenue, since the current
           service day began (06:00 local)
  Monthly: paid and topped-up totals per calendar day of one month
  Yearly:  paid and topped-up totals per month, last 12 months

  Only non-reverted TopUp and Pay records count towards money totals.
  One alcoholic purchase counts as 0.25 litres.

SEE ALSO:
  - time.go: ServiceDayStart
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// LitresPerDrink is the volume counted for one alcoholic purchase.
var LitresPerDrink = decimal.RequireFromString("0.25")

// DailyStats summarises the current service day.
type DailyStats struct {
	Since         time.Time
	Clients       int
	Purchases     int
	AlcoholLitres decimal.Decimal
	Revenue       decimal.Decimal
}

// PeriodTotals are the money totals of one day or month.
type PeriodTotals struct {
	Start    time.Time
	Label    string
	Paid     decimal.Decimal
	ToppedUp decimal.Decimal
}

// Reports computes dashboard figures.
type Reports struct {
	store Store
	opts  Options
}

func NewReports(store Store, opts Options) *Reports {
	return &Reports{store: store, opts: opts.withDefaults()}
}

// DailyStatistics reports on the service day in progress.
func (r *Reports) DailyStatistics(ctx context.Context) (*DailyStats, error) {
	since := ServiceDayStart(r.opts.Now(), r.opts.Location)
	stats := &DailyStats{Since: since, AlcoholLitres: decimal.Zero, Revenue: decimal.Zero}

	all, err := r.store.ListTransactions(ctx, TransactionFilter{Since: &since})
	if err != nil {
		return nil, err
	}
	clients := make(map[UserID]struct{})
	for _, tx := range all {
		if tx.ClientID != nil {
			clients[*tx.ClientID] = struct{}{}
		}
		if tx.Kind == KindPay && !tx.IsReverted && tx.BalanceChange != nil {
			stats.Purchases++
			stats.Revenue = stats.Revenue.Add(tx.BalanceChange.Abs())
		}
	}
	stats.Clients = len(clients)

	drinks, err := r.store.ListTransactions(ctx, TransactionFilter{
		Since:           &since,
		Kind:            KindPay,
		ExcludeReverted: true,
		AlcoholOnly:     true,
	})
	if err != nil {
		return nil, err
	}
	stats.AlcoholLitres = LitresPerDrink.Mul(decimal.NewFromInt(int64(len(drinks))))
	return stats, nil
}

// MonthlyTotals returns one entry per calendar day of the month.
func (r *Reports) MonthlyTotals(ctx context.Context, year int, month time.Month) ([]PeriodTotals, error) {
	loc := r.opts.Location
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0)

	totals := make([]PeriodTotals, daysIn(year, month, loc))
	for i := range totals {
		day := start.AddDate(0, 0, i)
		totals[i] = PeriodTotals{Start: day, Label: day.Format("02/01"), Paid: decimal.Zero, ToppedUp: decimal.Zero}
	}

	err := r.accumulate(ctx, start, end, func(t time.Time) int { return t.Day() - 1 }, totals)
	if err != nil {
		return nil, err
	}
	return totals, nil
}

// YearlyTotals returns one entry per month for the last 12 months,
// the current month last.
func (r *Reports) YearlyTotals(ctx context.Context) ([]PeriodTotals, error) {
	loc := r.opts.Location
	current := startOfMonth(r.opts.Now().In(loc))
	start := current.AddDate(0, -11, 0)
	end := current.AddDate(0, 1, 0)

	totals := make([]PeriodTotals, 12)
	for i := range totals {
		m := start.AddDate(0, i, 0)
		totals[i] = PeriodTotals{Start: m, Label: m.Format("01/2006"), Paid: decimal.Zero, ToppedUp: decimal.Zero}
	}

	index := func(t time.Time) int {
		return (t.Year()-start.Year())*12 + int(t.Month()) - int(start.Month())
	}
	if err := r.accumulate(ctx, start, end, index, totals); err != nil {
		return nil, err
	}
	return totals, nil
}

// accumulate adds every non-reverted record in [from, to) to the bucket
// chosen by index, which receives the record date in the bar's zone.
func (r *Reports) accumulate(ctx context.Context, from, to time.Time, index func(time.Time) int, totals []PeriodTotals) error {
	txs, err := r.store.ListTransactions(ctx, TransactionFilter{
		Since:           &from,
		Until:           &to,
		ExcludeReverted: true,
	})
	if err != nil {
		return err
	}
	for _, tx := range txs {
		if tx.BalanceChange == nil {
			continue
		}
		i := index(tx.Date.In(r.opts.Location))
		if i < 0 || i >= len(totals) {
			continue
		}
		switch tx.Kind {
		case KindPay:
			totals[i].Paid = totals[i].Paid.Sub(*tx.BalanceChange)
		case KindTopUp:
			totals[i].ToppedUp = totals[i].ToppedUp.Add(*tx.BalanceChange)
		}
	}
	return nil
}
