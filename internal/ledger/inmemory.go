package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kopa-credit/kopa/internal/money"
)

type inMemoryLedger struct {
	mu             sync.Mutex
	wallets        map[string]Wallet
	walletsByOwner map[string]string
	transactions   map[string][]Transaction
	obligations    map[string]Obligation
	reversed       map[string]bool
}

// NewInMemory creates a concurrency-safe in-memory ledger. It backs unit
// tests and the dev-mode server when no database is configured.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		wallets:        make(map[string]Wallet),
		walletsByOwner: make(map[string]string),
		transactions:   make(map[string][]Transaction),
		obligations:    make(map[string]Obligation),
		reversed:       make(map[string]bool),
	}
}

func (l *inMemoryLedger) EnsureWallet(_ context.Context, ownerID string) (Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id, ok := l.walletsByOwner[ownerID]; ok {
		return l.wallets[id], nil
	}

	w := Wallet{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Balance:   0,
		Status:    WalletStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	l.wallets[w.ID] = w
	l.walletsByOwner[ownerID] = w.ID
	return w, nil
}

func (l *inMemoryLedger) Wallet(_ context.Context, walletID string) (Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[walletID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (l *inMemoryLedger) WalletByOwner(_ context.Context, ownerID string) (Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.walletsByOwner[ownerID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return l.wallets[id], nil
}

func (l *inMemoryLedger) Balance(_ context.Context, walletID string) (money.Money, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[walletID]
	if !ok {
		return 0, ErrWalletNotFound
	}
	return w.Balance, nil
}

func (l *inMemoryLedger) Transactions(_ context.Context, walletID string) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.wallets[walletID]; !ok {
		return nil, ErrWalletNotFound
	}
	txs := l.transactions[walletID]
	out := make([]Transaction, len(txs))
	copy(out, txs)
	return out, nil
}

func (l *inMemoryLedger) Deposit(_ context.Context, walletID string, amount money.Money, meta Metadata) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[walletID]
	if !ok {
		return Transaction{}, ErrWalletNotFound
	}
	if w.Status == WalletStatusClosed {
		return Transaction{}, ErrWalletClosed
	}

	w.Balance = w.Balance.Add(amount)
	l.wallets[walletID] = w

	tx := l.appendTx(walletID, amount, KindDeposit, "", meta)
	return tx, nil
}

func (l *inMemoryLedger) Withdraw(_ context.Context, walletID string, amount money.Money, meta Metadata) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[walletID]
	if !ok {
		return Transaction{}, ErrWalletNotFound
	}
	if w.Status == WalletStatusClosed {
		return Transaction{}, ErrWalletClosed
	}
	if w.Balance < amount {
		return Transaction{}, ErrInsufficientFunds
	}

	w.Balance = w.Balance.Sub(amount)
	l.wallets[walletID] = w

	tx := l.appendTx(walletID, amount.Neg(), KindWithdrawal, "", meta)
	return tx, nil
}

func (l *inMemoryLedger) Reverse(_ context.Context, transactionID string, meta Metadata) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var original *Transaction
	for walletID := range l.transactions {
		for i := range l.transactions[walletID] {
			if l.transactions[walletID][i].ID == transactionID {
				original = &l.transactions[walletID][i]
				break
			}
		}
	}
	if original == nil {
		return Transaction{}, ErrTransactionNotFound
	}
	if l.reversed[transactionID] {
		return Transaction{}, ErrConflict
	}

	w := l.wallets[original.WalletID]
	if w.Status == WalletStatusClosed {
		return Transaction{}, ErrWalletClosed
	}
	newBalance := w.Balance.Add(original.Amount.Neg())
	if newBalance.IsNegative() {
		return Transaction{}, ErrInsufficientFunds
	}
	w.Balance = newBalance
	l.wallets[original.WalletID] = w
	l.reversed[transactionID] = true

	meta.Reference = transactionID
	tx := l.appendTx(original.WalletID, original.Amount.Neg(), KindReversal, original.ObligationID, meta)
	return tx, nil
}

func (l *inMemoryLedger) CloseWallet(_ context.Context, walletID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.wallets[walletID]
	if !ok {
		return ErrWalletNotFound
	}
	if w.Status == WalletStatusClosed {
		return ErrConflict
	}
	w.Status = WalletStatusClosed
	l.wallets[walletID] = w
	return nil
}

func (l *inMemoryLedger) CreateObligations(_ context.Context, obs []Obligation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ob := range obs {
		if ob.ID == "" {
			ob.ID = uuid.NewString()
		}
		if ob.CreatedAt.IsZero() {
			ob.CreatedAt = time.Now().UTC()
		}
		l.obligations[ob.ID] = ob
	}
	return nil
}

func (l *inMemoryLedger) Obligation(_ context.Context, id string) (Obligation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ob, ok := l.obligations[id]
	if !ok {
		return Obligation{}, ErrObligationNotFound
	}
	return ob, nil
}

func (l *inMemoryLedger) ObligationsByLoan(_ context.Context, loanID string) ([]Obligation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Obligation
	for _, ob := range l.obligations {
		if ob.LoanID == loanID {
			out = append(out, ob)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (l *inMemoryLedger) OutstandingByOwner(_ context.Context, ownerID string) ([]Obligation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Obligation
	for _, ob := range l.obligations {
		if ob.OwnerID == ownerID && ob.Outstanding() {
			out = append(out, ob)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (l *inMemoryLedger) PendingObligations(_ context.Context) ([]Obligation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Obligation
	for _, ob := range l.obligations {
		if ob.Status == StatusPending {
			out = append(out, ob)
		}
	}
	sortFIFO(out)
	return out, nil
}

func (l *inMemoryLedger) Settle(_ context.Context, walletID, obligationID string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.wallets[walletID]
	if !ok {
		return Transaction{}, ErrWalletNotFound
	}
	if w.Status == WalletStatusClosed {
		return Transaction{}, ErrWalletClosed
	}
	ob, ok := l.obligations[obligationID]
	if !ok {
		return Transaction{}, ErrObligationNotFound
	}
	if !ob.Outstanding() {
		return Transaction{}, ErrConflict
	}
	if w.Balance < ob.Amount {
		return Transaction{}, ErrInsufficientFunds
	}

	w.Balance = w.Balance.Sub(ob.Amount)
	l.wallets[walletID] = w

	tx := l.appendTx(walletID, ob.Amount.Neg(), KindRepayment, ob.ID, Metadata{Origin: "matcher"})

	now := time.Now().UTC()
	ob.Status = StatusPaid
	ob.PaidAt = &now
	ob.SettledBy = tx.ID
	l.obligations[obligationID] = ob

	return tx, nil
}

func (l *inMemoryLedger) MarkOverdue(_ context.Context, obligationID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	ob, ok := l.obligations[obligationID]
	if !ok {
		return ErrObligationNotFound
	}
	if ob.Status != StatusPending {
		return ErrConflict
	}
	ob.Status = StatusOverdue
	l.obligations[obligationID] = ob
	return nil
}

func (l *inMemoryLedger) CancelLoan(_ context.Context, loanID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cancelled := 0
	for id, ob := range l.obligations {
		if ob.LoanID == loanID && ob.Outstanding() {
			ob.Status = StatusCancelled
			l.obligations[id] = ob
			cancelled++
		}
	}
	return cancelled, nil
}

// appendTx records a transaction entry. Callers must hold the mutex.
func (l *inMemoryLedger) appendTx(walletID string, amount money.Money, kind Kind, obligationID string, meta Metadata) Transaction {
	tx := Transaction{
		ID:           uuid.NewString(),
		WalletID:     walletID,
		Amount:       amount,
		Kind:         kind,
		ObligationID: obligationID,
		Meta:         meta,
		CreatedAt:    time.Now().UTC(),
	}
	l.transactions[walletID] = append(l.transactions[walletID], tx)
	return tx
}

func sortFIFO(obs []Obligation) {
	sort.Slice(obs, func(i, j int) bool {
		if obs[i].DueDate.Equal(obs[j].DueDate) {
			return obs[i].Sequence < obs[j].Sequence
		}
		return obs[i].DueDate.Before(obs[j].DueDate)
	})
}
