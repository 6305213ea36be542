package overdue

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kopa-credit/kopa/internal/ledger"
)

// IsOverdue reports whether an outstanding obligation has exhausted its
// grace period at the given instant. The obligation turns overdue at
// midnight after the due day plus GraceDays, evaluated in the due date's
// location so month-length and DST boundaries do not shift the day.
func IsOverdue(ob ledger.Obligation, now time.Time) bool {
	if ob.Status != ledger.StatusPending && ob.Status != ledger.StatusOverdue {
		return false
	}
	return !now.Before(deadline(ob))
}

// Penalty computes the simple daily accrual owed on an overdue obligation:
// amount * rate% per full day past the grace deadline. Returns zero while
// the obligation is within grace.
func Penalty(ob ledger.Obligation, now time.Time) decimal.Decimal {
	d := deadline(ob)
	if now.Before(d) {
		return decimal.Zero
	}
	days := int64(now.Sub(d).Hours() / 24)
	if days < 1 {
		return decimal.Zero
	}
	return ob.Amount.Decimal().
		Mul(ob.PenaltyRate).
		Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(days))
}

// deadline is the first instant at which the obligation counts as overdue:
// midnight after the due day plus grace days, in the due date's location. The
// whole final grace day, including its last second, is still within grace.
func deadline(ob ledger.Obligation) time.Time {
	due := ob.DueDate
	return time.Date(due.Year(), due.Month(), due.Day()+1+ob.GraceDays, 0, 0, 0, 0, due.Location())
}
