package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kopa-credit/kopa/internal/money"
)

func newTestWallet(t *testing.T, l Ledger) Wallet {
	t.Helper()
	w, err := l.EnsureWallet(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	return w
}

func newTestObligation(t *testing.T, l Ledger, ownerID string, amount int64, due time.Time, seq int) Obligation {
	t.Helper()
	ob := Obligation{
		ID:          uuid.NewString(),
		LoanID:      uuid.NewString(),
		OwnerID:     ownerID,
		Sequence:    seq,
		Amount:      money.FromMinorUnits(amount),
		DueDate:     due,
		GraceDays:   3,
		PenaltyRate: decimal.RequireFromString("0.1"),
		Status:      StatusPending,
	}
	if err := l.CreateObligations(context.Background(), []Obligation{ob}); err != nil {
		t.Fatalf("create obligation: %v", err)
	}
	return ob
}

func assertConservation(t *testing.T, l Ledger, walletID string) {
	t.Helper()
	ctx := context.Background()
	balance, err := l.Balance(ctx, walletID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	txs, err := l.Transactions(ctx, walletID)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	var sum money.Money
	for _, tx := range txs {
		sum = sum.Add(tx.Amount)
	}
	if sum != balance {
		t.Fatalf("conservation violated: balance=%d sum(tx)=%d", balance, sum)
	}
}

func TestEnsureWalletIsIdempotentPerOwner(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	ownerID := uuid.NewString()

	w1, err := l.EnsureWallet(ctx, ownerID)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	w2, err := l.EnsureWallet(ctx, ownerID)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if w1.ID != w2.ID {
		t.Fatalf("expected single wallet per owner, got %s and %s", w1.ID, w2.ID)
	}
}

func TestDepositCreditsBalanceAndWritesEntry(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)

	tx, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(2_500), Metadata{Origin: "intake", Reference: "evt-1"})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if tx.Kind != KindDeposit || tx.Amount != 2_500 {
		t.Fatalf("unexpected transaction: %+v", tx)
	}

	balance, _ := l.Balance(ctx, w.ID)
	if balance != 2_500 {
		t.Fatalf("expected balance 2500, got %d", balance)
	}
	assertConservation(t, l, w.ID)
}

func TestDepositRejectsNonPositiveAmounts(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)

	for _, amount := range []int64{0, -100} {
		if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(amount), Metadata{}); err != ErrInvalidAmount {
			t.Fatalf("amount %d: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestLedgerDoesNotDeduplicateDeposits(t *testing.T) {
	// Idempotent delivery is the intake collaborator's contract. Two distinct
	// deposit calls with identical payloads must produce two entries.
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)

	meta := Metadata{Origin: "intake", Reference: "same-event"}
	if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(1_000), meta); err != nil {
		t.Fatalf("first deposit: %v", err)
	}
	if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(1_000), meta); err != nil {
		t.Fatalf("second deposit: %v", err)
	}

	balance, _ := l.Balance(ctx, w.ID)
	if balance != 2_000 {
		t.Fatalf("expected balance 2000, got %d", balance)
	}
	txs, _ := l.Transactions(ctx, w.ID)
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
}

func TestWithdrawBoundedByBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)

	if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(500), Metadata{}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	if _, err := l.Withdraw(ctx, w.ID, money.FromMinorUnits(501), Metadata{}); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	balance, _ := l.Balance(ctx, w.ID)
	if balance != 500 {
		t.Fatalf("failed withdraw must not change balance, got %d", balance)
	}

	tx, err := l.Withdraw(ctx, w.ID, money.FromMinorUnits(500), Metadata{})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if tx.Amount != -500 || tx.Kind != KindWithdrawal {
		t.Fatalf("unexpected withdrawal entry: %+v", tx)
	}
	assertConservation(t, l, w.ID)
}

func TestReverseCompensatesOnce(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)

	tx, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(1_000), Metadata{})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}

	rev, err := l.Reverse(ctx, tx.ID, Metadata{Note: "operator correction"})
	if err != nil {
		t.Fatalf("reverse: %v", err)
	}
	if rev.Kind != KindReversal || rev.Amount != -1_000 || rev.Meta.Reference != tx.ID {
		t.Fatalf("unexpected reversal entry: %+v", rev)
	}

	if _, err := l.Reverse(ctx, tx.ID, Metadata{}); err != ErrConflict {
		t.Fatalf("expected ErrConflict on double reversal, got %v", err)
	}

	balance, _ := l.Balance(ctx, w.ID)
	if balance != 0 {
		t.Fatalf("expected balance 0 after reversal, got %d", balance)
	}
	assertConservation(t, l, w.ID)
}

func TestCloseWalletBlocksMutationsKeepsReads(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)

	tx, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(700), Metadata{})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	ob := newTestObligation(t, l, w.OwnerID, 100, time.Now().AddDate(0, 1, 0), 0)

	if err := l.CloseWallet(ctx, w.ID); err != nil {
		t.Fatalf("close wallet: %v", err)
	}
	if err := l.CloseWallet(ctx, w.ID); err != ErrConflict {
		t.Fatalf("expected ErrConflict on double close, got %v", err)
	}
	if err := l.CloseWallet(ctx, uuid.NewString()); err != ErrWalletNotFound {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}

	if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(100), Metadata{}); err != ErrWalletClosed {
		t.Fatalf("deposit on closed wallet: expected ErrWalletClosed, got %v", err)
	}
	if _, err := l.Withdraw(ctx, w.ID, money.FromMinorUnits(100), Metadata{}); err != ErrWalletClosed {
		t.Fatalf("withdraw on closed wallet: expected ErrWalletClosed, got %v", err)
	}
	if _, err := l.Reverse(ctx, tx.ID, Metadata{}); err != ErrWalletClosed {
		t.Fatalf("reverse on closed wallet: expected ErrWalletClosed, got %v", err)
	}
	if _, err := l.Settle(ctx, w.ID, ob.ID); err != ErrWalletClosed {
		t.Fatalf("settle on closed wallet: expected ErrWalletClosed, got %v", err)
	}

	got, err := l.Wallet(ctx, w.ID)
	if err != nil {
		t.Fatalf("wallet read after close: %v", err)
	}
	if got.Status != WalletStatusClosed || got.Balance != 700 {
		t.Fatalf("unexpected closed wallet state: %+v", got)
	}
	txs, err := l.Transactions(ctx, w.ID)
	if err != nil || len(txs) != 1 {
		t.Fatalf("history must stay readable, got %d entries, err %v", len(txs), err)
	}
}

func TestSettleDebitsWalletAndFlipsObligation(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)
	due := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	ob := newTestObligation(t, l, w.OwnerID, 1_500, due, 0)

	if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(2_000), Metadata{}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	tx, err := l.Settle(ctx, w.ID, ob.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if tx.Kind != KindRepayment || tx.Amount != -1_500 || tx.ObligationID != ob.ID {
		t.Fatalf("unexpected repayment entry: %+v", tx)
	}

	settled, err := l.Obligation(ctx, ob.ID)
	if err != nil {
		t.Fatalf("obligation: %v", err)
	}
	if settled.Status != StatusPaid || settled.PaidAt == nil || settled.SettledBy != tx.ID {
		t.Fatalf("obligation not marked paid: %+v", settled)
	}

	balance, _ := l.Balance(ctx, w.ID)
	if balance != 500 {
		t.Fatalf("expected balance 500, got %d", balance)
	}
	assertConservation(t, l, w.ID)
}

func TestSettleConflictsWhenAlreadyPaid(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)
	due := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	ob := newTestObligation(t, l, w.OwnerID, 500, due, 0)

	if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(5_000), Metadata{}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.Settle(ctx, w.ID, ob.ID); err != nil {
		t.Fatalf("first settle: %v", err)
	}
	if _, err := l.Settle(ctx, w.ID, ob.ID); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSettleInsufficientFundsLeavesStateUntouched(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)
	due := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	ob := newTestObligation(t, l, w.OwnerID, 1_000, due, 0)

	if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(999), Metadata{}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.Settle(ctx, w.ID, ob.ID); err != ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	unchanged, _ := l.Obligation(ctx, ob.ID)
	if unchanged.Status != StatusPending {
		t.Fatalf("obligation must stay PENDING, got %s", unchanged.Status)
	}
	balance, _ := l.Balance(ctx, w.ID)
	if balance != 999 {
		t.Fatalf("balance must be unchanged, got %d", balance)
	}
}

func TestOutstandingByOwnerIsFIFO(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)
	base := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)

	// Insert out of order on purpose.
	newTestObligation(t, l, w.OwnerID, 150, base.AddDate(0, 0, 10), 2)
	newTestObligation(t, l, w.OwnerID, 100, base.AddDate(0, 0, 1), 0)
	newTestObligation(t, l, w.OwnerID, 200, base.AddDate(0, 0, 5), 1)

	queue, err := l.OutstandingByOwner(ctx, w.OwnerID)
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	if len(queue) != 3 {
		t.Fatalf("expected 3 obligations, got %d", len(queue))
	}
	for i, want := range []int64{100, 200, 150} {
		if queue[i].Amount.MinorUnits() != want {
			t.Fatalf("position %d: expected amount %d, got %d", i, want, queue[i].Amount.MinorUnits())
		}
	}
}

func TestMarkOverdueTransitions(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)
	due := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	ob := newTestObligation(t, l, w.OwnerID, 100, due, 0)

	if err := l.MarkOverdue(ctx, ob.ID); err != nil {
		t.Fatalf("mark overdue: %v", err)
	}
	if err := l.MarkOverdue(ctx, ob.ID); err != ErrConflict {
		t.Fatalf("expected ErrConflict on second transition, got %v", err)
	}

	// OVERDUE obligations are still settleable.
	if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(100), Metadata{}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.Settle(ctx, w.ID, ob.ID); err != nil {
		t.Fatalf("settle overdue obligation: %v", err)
	}
}

func TestCancelLoanSkipsPaidObligations(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)
	due := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)

	loanID := uuid.NewString()
	obs := []Obligation{
		{ID: uuid.NewString(), LoanID: loanID, OwnerID: w.OwnerID, Sequence: 0, Amount: 100, DueDate: due, Status: StatusPending, PenaltyRate: decimal.Zero},
		{ID: uuid.NewString(), LoanID: loanID, OwnerID: w.OwnerID, Sequence: 1, Amount: 200, DueDate: due.AddDate(0, 1, 0), Status: StatusPending, PenaltyRate: decimal.Zero},
	}
	if err := l.CreateObligations(ctx, obs); err != nil {
		t.Fatalf("create obligations: %v", err)
	}

	if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(100), Metadata{}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := l.Settle(ctx, w.ID, obs[0].ID); err != nil {
		t.Fatalf("settle: %v", err)
	}

	cancelled, err := l.CancelLoan(ctx, loanID)
	if err != nil {
		t.Fatalf("cancel loan: %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("expected 1 cancellation, got %d", cancelled)
	}

	paid, _ := l.Obligation(ctx, obs[0].ID)
	if paid.Status != StatusPaid {
		t.Fatalf("paid obligation must stay PAID, got %s", paid.Status)
	}
	second, _ := l.Obligation(ctx, obs[1].ID)
	if second.Status != StatusCancelled {
		t.Fatalf("unpaid obligation must be CANCELLED, got %s", second.Status)
	}
}

func TestConcurrentDepositsConserveBalance(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)

	const workers = 20
	const amount = int64(500)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(amount), Metadata{}); err != nil {
				t.Errorf("deposit failed: %v", err)
			}
		}()
	}
	wg.Wait()

	balance, _ := l.Balance(ctx, w.ID)
	if balance.MinorUnits() != workers*amount {
		t.Fatalf("expected balance %d, got %d", workers*amount, balance)
	}
	assertConservation(t, l, w.ID)
}

func TestConcurrentSettleIsAtMostOnce(t *testing.T) {
	l := NewInMemory()
	ctx := context.Background()
	w := newTestWallet(t, l)
	due := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	ob := newTestObligation(t, l, w.OwnerID, 1_000, due, 0)

	if _, err := l.Deposit(ctx, w.ID, money.FromMinorUnits(100_000), Metadata{}); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Settle(ctx, w.ID, ob.ID); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one successful settlement, got %d", succeeded)
	}
	balance, _ := l.Balance(ctx, w.ID)
	if balance != 99_000 {
		t.Fatalf("expected balance 99000, got %d", balance)
	}
	assertConservation(t, l, w.ID)
}
