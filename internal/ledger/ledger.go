package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kopa-credit/kopa/internal/money"
)

var (
	// ErrInsufficientFunds occurs when the wallet balance cannot cover a
	// requested debit.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount occurs when a mutation is requested with a zero or
	// negative amount.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrWalletNotFound indicates the referenced wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrObligationNotFound indicates the referenced obligation does not exist.
	ErrObligationNotFound = errors.New("obligation not found")

	// ErrTransactionNotFound indicates the referenced transaction does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrConflict indicates a lost compare-and-set race: another writer
	// already advanced the obligation or reversed the transaction. Callers
	// should re-read state and retry the surrounding operation.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrWalletClosed rejects money movements on a soft-closed wallet.
	ErrWalletClosed = errors.New("wallet is closed")
)

// Kind tags a wallet transaction with its business meaning.
type Kind string

const (
	KindDeposit    Kind = "DEPOSIT"
	KindWithdrawal Kind = "WITHDRAWAL"
	KindRepayment  Kind = "REPAYMENT"
	KindReversal   Kind = "REVERSAL"
)

// Obligation states. PAID and CANCELLED are terminal.
const (
	StatusPending   = "PENDING"
	StatusPaid      = "PAID"
	StatusOverdue   = "OVERDUE"
	StatusCancelled = "CANCELLED"
)

// Wallet lifecycle states. Wallets are never deleted, only soft-closed via
// CloseWallet; the transaction history stays readable.
const (
	WalletStatusActive = "active"
	WalletStatusClosed = "closed"
)

// Metadata is the narrow, typed payload attached to a transaction. Origin
// names the collaborator that produced the money movement, Reference carries
// its external identifier.
type Metadata struct {
	Origin    string
	Reference string
	Note      string
}

// Wallet holds a single owner's stored-value balance. The balance always
// equals the sum of the wallet's signed transaction amounts.
type Wallet struct {
	ID        string
	OwnerID   string
	Balance   money.Money
	Status    string
	CreatedAt time.Time
}

// Transaction is an append-only ledger entry. Amounts are signed: credits
// positive, debits negative. Entries are immutable once written; corrections
// are modeled as new REVERSAL entries.
type Transaction struct {
	ID           string
	WalletID     string
	Amount       money.Money
	Kind         Kind
	ObligationID string // set when Kind == REPAYMENT
	Meta         Metadata
	CreatedAt    time.Time
}

// Obligation is one scheduled installment owed by a borrower.
type Obligation struct {
	ID          string
	LoanID      string
	OwnerID     string
	Sequence    int
	Amount      money.Money
	DueDate     time.Time
	GraceDays   int
	PenaltyRate decimal.Decimal // daily rate, percent
	Status      string
	PaidAt      *time.Time
	SettledBy   string // settling REPAYMENT transaction id
	CreatedAt   time.Time
}

// Outstanding reports whether the obligation can still be settled.
func (o Obligation) Outstanding() bool {
	return o.Status == StatusPending || o.Status == StatusOverdue
}

// Ledger defines the contract implemented by storage backends. It owns the
// three durable collections of the core: wallets, wallet_transactions and
// obligations. Every mutation is a single atomic unit; a reader never
// observes a balance change without its transaction row, nor a PAID
// obligation without its settling REPAYMENT entry.
type Ledger interface {
	// EnsureWallet lazily creates (or returns) the wallet for an owner.
	EnsureWallet(ctx context.Context, ownerID string) (Wallet, error)
	Wallet(ctx context.Context, walletID string) (Wallet, error)
	WalletByOwner(ctx context.Context, ownerID string) (Wallet, error)
	Balance(ctx context.Context, walletID string) (money.Money, error)
	Transactions(ctx context.Context, walletID string) ([]Transaction, error)

	// Deposit credits the wallet and records a transaction atomically.
	Deposit(ctx context.Context, walletID string, amount money.Money, meta Metadata) (Transaction, error)
	// Withdraw debits the wallet only if the balance covers the amount.
	Withdraw(ctx context.Context, walletID string, amount money.Money, meta Metadata) (Transaction, error)
	// Reverse compensates a prior transaction with a REVERSAL entry. A
	// transaction may be reversed at most once.
	Reverse(ctx context.Context, transactionID string, meta Metadata) (Transaction, error)
	// CloseWallet soft-closes the wallet. Reads keep working; any further
	// money movement fails with ErrWalletClosed. ErrConflict if already
	// closed.
	CloseWallet(ctx context.Context, walletID string) error

	CreateObligations(ctx context.Context, obs []Obligation) error
	Obligation(ctx context.Context, id string) (Obligation, error)
	ObligationsByLoan(ctx context.Context, loanID string) ([]Obligation, error)
	// OutstandingByOwner returns PENDING and OVERDUE obligations ordered by
	// due date ascending, then sequence: the FIFO settlement queue.
	OutstandingByOwner(ctx context.Context, ownerID string) ([]Obligation, error)
	// PendingObligations lists every PENDING obligation, for the overdue sweep.
	PendingObligations(ctx context.Context) ([]Obligation, error)

	// Settle debits the wallet by the obligation amount, records a linked
	// REPAYMENT transaction and flips the obligation to PAID, all in one
	// atomic unit. Fails with ErrConflict if the obligation is no longer
	// outstanding, ErrInsufficientFunds if the balance cannot cover it.
	Settle(ctx context.Context, walletID, obligationID string) (Transaction, error)
	// MarkOverdue flips PENDING to OVERDUE; ErrConflict if already advanced.
	MarkOverdue(ctx context.Context, obligationID string) error
	// CancelLoan cancels the loan's unpaid obligations and reports how many
	// were affected. PAID obligations are never touched.
	CancelLoan(ctx context.Context, loanID string) (int, error)
}
