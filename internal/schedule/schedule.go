package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kopa-credit/kopa/internal/ledger"
	"github.com/kopa-credit/kopa/internal/money"
)

// ErrInvalidParams rejects a schedule request before any obligations are
// generated. The caller corrects the input and retries.
var ErrInvalidParams = errors.New("invalid schedule parameters")

// Params describes an approved loan. The values come from the loan service
// at approval time and are immutable once the schedule exists.
type Params struct {
	LoanID    string
	OwnerID   string
	Principal money.Money
	// TermMonths is the installment count, one per calendar month.
	TermMonths int
	// FirstDue anchors the schedule; installment i falls due i calendar
	// months later. Only the wall-clock fields matter: the calendar day is
	// kept and re-anchored in Location, so a date parsed in UTC stays on
	// the same day in the loan's timezone.
	FirstDue time.Time
	Location *time.Location
	// GraceDays extends each due date before the obligation turns overdue.
	GraceDays int
	// DailyPenaltyRate is the percent-per-day accrual applied once overdue.
	DailyPenaltyRate decimal.Decimal
	// MinInstallment and MaxInstallment bound a single obligation amount.
	// A zero MaxInstallment means unbounded.
	MinInstallment money.Money
	MaxInstallment money.Money
}

// Generate divides the principal into TermMonths obligations whose amounts
// sum to the principal exactly. The base amount is floor(principal/term) and
// the leftover minor units go to the earliest installments, so no rounding
// leaks in either direction. The function is pure: it never touches storage.
func Generate(p Params) ([]ledger.Obligation, error) {
	if err := validate(p); err != nil {
		return nil, err
	}

	amounts, err := p.Principal.Split(p.TermMonths)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	// Re-anchor FirstDue's wall clock in the loan's location. Converting
	// the instant instead would shift a date-only value parsed in UTC onto
	// the previous day for any location west of UTC.
	year, month, day := p.FirstDue.Date()
	hour, minute, sec := p.FirstDue.Clock()
	first := time.Date(year, month, day, hour, minute, sec, p.FirstDue.Nanosecond(), loc)

	obs := make([]ledger.Obligation, 0, p.TermMonths)
	for i, amount := range amounts {
		if amount < p.MinInstallment {
			return nil, fmt.Errorf("%w: installment %d (%s) below minimum %s",
				ErrInvalidParams, i, amount, p.MinInstallment)
		}
		if p.MaxInstallment > 0 && amount > p.MaxInstallment {
			return nil, fmt.Errorf("%w: installment %d (%s) above maximum %s",
				ErrInvalidParams, i, amount, p.MaxInstallment)
		}
		obs = append(obs, ledger.Obligation{
			LoanID:      p.LoanID,
			OwnerID:     p.OwnerID,
			Sequence:    i,
			Amount:      amount,
			DueDate:     addMonths(first, i),
			GraceDays:   p.GraceDays,
			PenaltyRate: p.DailyPenaltyRate,
			Status:      ledger.StatusPending,
		})
	}
	return obs, nil
}

func validate(p Params) error {
	if !p.Principal.IsPositive() {
		return fmt.Errorf("%w: principal must be positive", ErrInvalidParams)
	}
	if p.TermMonths < 1 {
		return fmt.Errorf("%w: term must be at least one month", ErrInvalidParams)
	}
	if p.GraceDays < 0 {
		return fmt.Errorf("%w: grace days must not be negative", ErrInvalidParams)
	}
	if p.DailyPenaltyRate.IsNegative() {
		return fmt.Errorf("%w: penalty rate must not be negative", ErrInvalidParams)
	}
	if p.MinInstallment.IsNegative() || p.MaxInstallment.IsNegative() {
		return fmt.Errorf("%w: installment bounds must not be negative", ErrInvalidParams)
	}
	if p.FirstDue.IsZero() {
		return fmt.Errorf("%w: first due date is required", ErrInvalidParams)
	}
	if p.Principal.MinorUnits() < int64(p.TermMonths) {
		return fmt.Errorf("%w: principal %s cannot fund %d positive installments",
			ErrInvalidParams, p.Principal, p.TermMonths)
	}
	return nil
}

// addMonths shifts t forward by n calendar months in t's location, clamping
// the day of month so Jan 31 + 1 month lands on Feb 28/29 rather than
// rolling into March.
func addMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	target := time.Date(year, month+time.Month(n), 1, hour, minute, sec, t.Nanosecond(), t.Location())
	if last := lastDayOfMonth(target); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func lastDayOfMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
