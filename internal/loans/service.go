package loans

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kopa-credit/kopa/internal/ledger"
	"github.com/kopa-credit/kopa/internal/money"
	"github.com/kopa-credit/kopa/internal/schedule"
)

// Limits bound what the schedule generator will accept, sourced from
// configuration at process start.
type Limits struct {
	MaxTermMonths  int
	MinInstallment money.Money
}

// Service turns an approved loan into a persisted obligation schedule and
// handles loan cancellation. The loan service collaborator supplies the
// terms; this core owns only the resulting obligations and wallet.
type Service struct {
	ledger ledger.Ledger
	limits Limits
	logger *slog.Logger
}

// NewService builds a loan scheduling service.
func NewService(led ledger.Ledger, limits Limits, logger *slog.Logger) *Service {
	return &Service{ledger: led, limits: limits, logger: logger}
}

// ApproveInput carries the approved loan terms.
type ApproveInput struct {
	LoanID           string
	OwnerID          string
	Principal        money.Money
	TermMonths       int
	FirstDue         time.Time
	Timezone         string
	GraceDays        int
	DailyPenaltyRate decimal.Decimal
}

// ApprovedLoan is the persisted outcome of an approval.
type ApprovedLoan struct {
	LoanID   string
	WalletID string
	Schedule []ledger.Obligation
}

// Approve validates the terms, generates the schedule, lazily provisions the
// owner's wallet and persists the obligation batch. Nothing is written when
// validation fails.
func (s *Service) Approve(ctx context.Context, input ApproveInput) (ApprovedLoan, error) {
	if input.LoanID == "" {
		input.LoanID = uuid.NewString()
	}
	if _, err := uuid.Parse(input.OwnerID); err != nil {
		return ApprovedLoan{}, fmt.Errorf("%w: owner id: %v", schedule.ErrInvalidParams, err)
	}
	if s.limits.MaxTermMonths > 0 && input.TermMonths > s.limits.MaxTermMonths {
		return ApprovedLoan{}, fmt.Errorf("%w: term %d exceeds maximum %d months",
			schedule.ErrInvalidParams, input.TermMonths, s.limits.MaxTermMonths)
	}

	loc := time.UTC
	if input.Timezone != "" {
		parsed, err := time.LoadLocation(input.Timezone)
		if err != nil {
			return ApprovedLoan{}, fmt.Errorf("%w: timezone: %v", schedule.ErrInvalidParams, err)
		}
		loc = parsed
	}

	obs, err := schedule.Generate(schedule.Params{
		LoanID:           input.LoanID,
		OwnerID:          input.OwnerID,
		Principal:        input.Principal,
		TermMonths:       input.TermMonths,
		FirstDue:         input.FirstDue,
		Location:         loc,
		GraceDays:        input.GraceDays,
		DailyPenaltyRate: input.DailyPenaltyRate,
		MinInstallment:   s.limits.MinInstallment,
	})
	if err != nil {
		return ApprovedLoan{}, err
	}

	wallet, err := s.ledger.EnsureWallet(ctx, input.OwnerID)
	if err != nil {
		return ApprovedLoan{}, fmt.Errorf("ensure wallet: %w", err)
	}

	for i := range obs {
		obs[i].ID = uuid.NewString()
	}
	if err := s.ledger.CreateObligations(ctx, obs); err != nil {
		return ApprovedLoan{}, fmt.Errorf("persist schedule: %w", err)
	}

	s.logger.Info("loan schedule created",
		"loan_id", input.LoanID, "owner_id", input.OwnerID,
		"installments", len(obs), "principal", input.Principal.String())

	return ApprovedLoan{LoanID: input.LoanID, WalletID: wallet.ID, Schedule: obs}, nil
}

// Cancel marks the loan's unpaid obligations CANCELLED. Already-paid
// installments are never touched.
func (s *Service) Cancel(ctx context.Context, loanID string) (int, error) {
	cancelled, err := s.ledger.CancelLoan(ctx, loanID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("loan cancelled", "loan_id", loanID, "obligations_cancelled", cancelled)
	return cancelled, nil
}

// Schedule returns the loan's obligations for reporting consumers.
func (s *Service) Schedule(ctx context.Context, loanID string) ([]ledger.Obligation, error) {
	return s.ledger.ObligationsByLoan(ctx, loanID)
}
