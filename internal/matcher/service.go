package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kopa-credit/kopa/internal/ledger"
	"github.com/kopa-credit/kopa/internal/money"
	"github.com/kopa-credit/kopa/internal/notification"
)

// Service applies incoming deposits against a wallet and its outstanding
// obligation queue. Settlement order is deterministic: oldest due date
// first, then schedule sequence.
type Service struct {
	ledger   ledger.Ledger
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs a payment matcher service.
func NewService(led ledger.Ledger, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{ledger: led, notifier: notifier, logger: logger}
}

// DepositInput captures an externally verified credit event. The intake
// collaborator guarantees each physical payment maps to exactly one call;
// the ledger itself records every call it receives.
type DepositInput struct {
	WalletID  string
	Amount    money.Money
	Origin    string
	Reference string
	Note      string
}

// Settlement pairs a paid obligation with its settling transaction.
type Settlement struct {
	Obligation  ledger.Obligation
	Transaction ledger.Transaction
}

// DepositResult describes the outcome of a deposit and the settlements it
// funded.
type DepositResult struct {
	Transaction ledger.Transaction
	Settled     []Settlement
	Balance     money.Money
}

// Deposit credits the wallet, then immediately applies the new balance to
// the owner's outstanding obligations. A matching failure after a committed
// credit is not an error for the caller: the money sits safely in the wallet
// and unmatched obligations remain outstanding.
func (s *Service) Deposit(ctx context.Context, input DepositInput) (DepositResult, error) {
	if !input.Amount.IsPositive() {
		return DepositResult{}, ledger.ErrInvalidAmount
	}

	meta := ledger.Metadata{Origin: input.Origin, Reference: input.Reference, Note: input.Note}
	tx, err := s.ledger.Deposit(ctx, input.WalletID, input.Amount, meta)
	if err != nil {
		return DepositResult{}, err
	}

	settled, err := s.Apply(ctx, input.WalletID)
	if err != nil {
		s.logger.Warn("deposit credited but matching incomplete",
			"wallet_id", input.WalletID, "transaction_id", tx.ID, "error", err)
	}

	balance, err := s.ledger.Balance(ctx, input.WalletID)
	if err != nil {
		return DepositResult{}, fmt.Errorf("read balance after deposit: %w", err)
	}

	return DepositResult{Transaction: tx, Settled: settled, Balance: balance}, nil
}

// Apply walks the owner's FIFO obligation queue and settles every
// obligation the current balance fully covers. Obligations are
// all-or-nothing: the walk stops at the first one the remaining balance
// cannot cover, and the remainder stays in the wallet. Safe under
// concurrent invocation for the same wallet: the per-obligation
// compare-and-set inside Settle guarantees at-most-once settlement, and a
// lost race simply means another matcher made progress.
func (s *Service) Apply(ctx context.Context, walletID string) ([]Settlement, error) {
	w, err := s.ledger.Wallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	queue, err := s.ledger.OutstandingByOwner(ctx, w.OwnerID)
	if err != nil {
		return nil, err
	}

	var settled []Settlement
	for _, ob := range queue {
		tx, err := s.ledger.Settle(ctx, walletID, ob.ID)
		if errors.Is(err, ledger.ErrConflict) {
			// Another writer already advanced this obligation.
			continue
		}
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			break
		}
		if err != nil {
			return settled, err
		}

		paid, err := s.ledger.Obligation(ctx, ob.ID)
		if err != nil {
			paid = ob
			paid.Status = ledger.StatusPaid
			paid.SettledBy = tx.ID
		}
		settled = append(settled, Settlement{Obligation: paid, Transaction: tx})
		s.notifySettled(ctx, paid)
	}
	return settled, nil
}

// Withdraw debits the wallet without touching obligations.
func (s *Service) Withdraw(ctx context.Context, walletID string, amount money.Money, meta ledger.Metadata) (ledger.Transaction, error) {
	if !amount.IsPositive() {
		return ledger.Transaction{}, ledger.ErrInvalidAmount
	}
	return s.ledger.Withdraw(ctx, walletID, amount, meta)
}

// Reverse records a compensating entry for a prior transaction, for
// operator corrections. The original entry is never edited or deleted.
func (s *Service) Reverse(ctx context.Context, transactionID string, note string) (ledger.Transaction, error) {
	return s.ledger.Reverse(ctx, transactionID, ledger.Metadata{Origin: "operator", Note: note})
}

// CloseWallet soft-closes the wallet. History stays readable; deposits,
// withdrawals, reversals and settlement are refused from then on.
func (s *Service) CloseWallet(ctx context.Context, walletID string) error {
	if err := s.ledger.CloseWallet(ctx, walletID); err != nil {
		return err
	}
	s.logger.Info("wallet closed", "wallet_id", walletID)
	return nil
}

// Wallet exposes wallet state for read-only consumers.
func (s *Service) Wallet(ctx context.Context, walletID string) (ledger.Wallet, error) {
	return s.ledger.Wallet(ctx, walletID)
}

// Transactions exposes the wallet's ledger entries for read-only consumers.
func (s *Service) Transactions(ctx context.Context, walletID string) ([]ledger.Transaction, error) {
	return s.ledger.Transactions(ctx, walletID)
}

// Outstanding exposes the owner's unsettled obligation queue.
func (s *Service) Outstanding(ctx context.Context, ownerID string) ([]ledger.Obligation, error) {
	return s.ledger.OutstandingByOwner(ctx, ownerID)
}

func (s *Service) notifySettled(ctx context.Context, ob ledger.Obligation) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:         notification.KindObligationSettled,
		Destination:  ob.OwnerID,
		ObligationID: ob.ID,
		Amount:       ob.Amount,
		Body:         fmt.Sprintf("installment %d settled (%s)", ob.Sequence, ob.Amount),
	})
}
