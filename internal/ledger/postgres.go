package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kopa-credit/kopa/internal/money"
)

// PostgresLedger persists the installment ledger in PostgreSQL. Balance
// mutations take a row-level lock on the wallet so operations on the same
// wallet are linearizable; obligation settlement additionally relies on a
// compare-and-set over the status column.
type PostgresLedger struct {
	db *pgxpool.Pool
}

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// EnsureWallet returns the owner's wallet, creating it on first use.
func (l *PostgresLedger) EnsureWallet(ctx context.Context, ownerID string) (Wallet, error) {
	owner, err := uuid.Parse(ownerID)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse owner id: %w", err)
	}

	_, err = l.db.Exec(ctx, `INSERT INTO wallets (id, owner_id, balance, status, created_at)
        VALUES ($1, $2, 0, $3, $4)
        ON CONFLICT (owner_id) DO NOTHING`, uuid.New(), owner, WalletStatusActive, time.Now().UTC())
	if err != nil {
		return Wallet{}, err
	}
	return l.WalletByOwner(ctx, ownerID)
}

// Wallet fetches wallet state by identifier.
func (l *PostgresLedger) Wallet(ctx context.Context, walletID string) (Wallet, error) {
	return l.walletBy(ctx, `SELECT id, owner_id, balance, status, created_at FROM wallets WHERE id = $1`, walletID)
}

// WalletByOwner fetches wallet state by owner identifier.
func (l *PostgresLedger) WalletByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return l.walletBy(ctx, `SELECT id, owner_id, balance, status, created_at FROM wallets WHERE owner_id = $1`, ownerID)
}

func (l *PostgresLedger) walletBy(ctx context.Context, query, arg string) (Wallet, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse wallet key: %w", err)
	}
	row := l.db.QueryRow(ctx, query, id)
	return scanWallet(row)
}

// Balance returns the committed balance for the wallet.
func (l *PostgresLedger) Balance(ctx context.Context, walletID string) (money.Money, error) {
	w, err := l.Wallet(ctx, walletID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// Transactions returns the wallet's ledger entries in insertion order.
func (l *PostgresLedger) Transactions(ctx context.Context, walletID string) ([]Transaction, error) {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return nil, fmt.Errorf("parse wallet id: %w", err)
	}
	rows, err := l.db.Query(ctx, `SELECT id, wallet_id, amount, kind, obligation_id, origin, reference, note, created_at
        FROM wallet_transactions WHERE wallet_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// Deposit credits the wallet and records the transaction as one atomic unit.
func (l *PostgresLedger) Deposit(ctx context.Context, walletID string, amount money.Money, meta Metadata) (Transaction, error) {
	return l.mutateBalance(ctx, walletID, amount, KindDeposit, "", meta)
}

// Withdraw debits the wallet, refusing to let the balance go negative.
func (l *PostgresLedger) Withdraw(ctx context.Context, walletID string, amount money.Money, meta Metadata) (Transaction, error) {
	return l.mutateBalance(ctx, walletID, amount.Neg(), KindWithdrawal, "", meta)
}

func (l *PostgresLedger) mutateBalance(ctx context.Context, walletID string, signed money.Money, kind Kind, obligationID string, meta Metadata) (Transaction, error) {
	if signed == 0 {
		return Transaction{}, ErrInvalidAmount
	}
	if kind == KindDeposit && signed.IsNegative() {
		return Transaction{}, ErrInvalidAmount
	}
	if kind == KindWithdrawal && signed.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}

	id, err := uuid.Parse(walletID)
	if err != nil {
		return Transaction{}, fmt.Errorf("parse wallet id: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := lockWalletBalance(ctx, tx, id)
	if err != nil {
		return Transaction{}, err
	}

	newBalance := balance.Add(signed)
	if newBalance.IsNegative() {
		return Transaction{}, ErrInsufficientFunds
	}

	entry, err := writeEntry(ctx, tx, id, newBalance, signed, kind, obligationID, meta)
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return entry, nil
}

// Reverse records a compensating REVERSAL entry for a prior transaction.
func (l *PostgresLedger) Reverse(ctx context.Context, transactionID string, meta Metadata) (Transaction, error) {
	txID, err := uuid.Parse(transactionID)
	if err != nil {
		return Transaction{}, fmt.Errorf("parse transaction id: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	row := tx.QueryRow(ctx, `SELECT id, wallet_id, amount, kind, obligation_id, origin, reference, note, created_at
        FROM wallet_transactions WHERE id = $1`, txID)
	original, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}

	walletUUID, err := uuid.Parse(original.WalletID)
	if err != nil {
		return Transaction{}, err
	}
	balance, err := lockWalletBalance(ctx, tx, walletUUID)
	if err != nil {
		return Transaction{}, err
	}

	// At most one reversal per entry: the reversal's reference column holds
	// the original transaction id.
	var existing uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM wallet_transactions WHERE kind = $1 AND reference = $2`,
		KindReversal, transactionID).Scan(&existing)
	if err == nil {
		return Transaction{}, ErrConflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, err
	}

	newBalance := balance.Add(original.Amount.Neg())
	if newBalance.IsNegative() {
		return Transaction{}, ErrInsufficientFunds
	}

	meta.Reference = transactionID
	entry, err := writeEntry(ctx, tx, walletUUID, newBalance, original.Amount.Neg(), KindReversal, original.ObligationID, meta)
	if err != nil {
		return Transaction{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return entry, nil
}

// CloseWallet soft-closes the wallet via a compare-and-set on status.
func (l *PostgresLedger) CloseWallet(ctx context.Context, walletID string) error {
	id, err := uuid.Parse(walletID)
	if err != nil {
		return fmt.Errorf("parse wallet id: %w", err)
	}
	tag, err := l.db.Exec(ctx, `UPDATE wallets SET status = $1 WHERE id = $2 AND status = $3`,
		WalletStatusClosed, id, WalletStatusActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM wallets WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrWalletNotFound
		}
		return ErrConflict
	}
	return nil
}

// CreateObligations inserts a generated schedule batch in a single transaction.
func (l *PostgresLedger) CreateObligations(ctx context.Context, obs []Obligation) error {
	if len(obs) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	for _, ob := range obs {
		id := ob.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := ob.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := tx.Exec(ctx, `INSERT INTO obligations
            (id, loan_id, owner_id, sequence, amount, due_date, due_tz, grace_days, penalty_rate, status, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			id, ob.LoanID, ob.OwnerID, ob.Sequence, ob.Amount.MinorUnits(), ob.DueDate,
			ob.DueDate.Location().String(), ob.GraceDays, ob.PenaltyRate.String(), ob.Status, createdAt); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// Obligation fetches a single obligation by identifier.
func (l *PostgresLedger) Obligation(ctx context.Context, id string) (Obligation, error) {
	obID, err := uuid.Parse(id)
	if err != nil {
		return Obligation{}, fmt.Errorf("parse obligation id: %w", err)
	}
	row := l.db.QueryRow(ctx, obligationColumns+` WHERE id = $1`, obID)
	ob, err := scanObligation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Obligation{}, ErrObligationNotFound
	}
	return ob, err
}

// ObligationsByLoan returns the loan's full schedule ordered by sequence.
func (l *PostgresLedger) ObligationsByLoan(ctx context.Context, loanID string) ([]Obligation, error) {
	return l.queryObligations(ctx, obligationColumns+` WHERE loan_id = $1 ORDER BY sequence`, loanID)
}

// OutstandingByOwner returns the owner's FIFO settlement queue.
func (l *PostgresLedger) OutstandingByOwner(ctx context.Context, ownerID string) ([]Obligation, error) {
	return l.queryObligations(ctx, obligationColumns+` WHERE owner_id = $1 AND status IN ($2, $3)
        ORDER BY due_date, sequence`, ownerID, StatusPending, StatusOverdue)
}

// PendingObligations lists every PENDING obligation for the overdue sweep.
func (l *PostgresLedger) PendingObligations(ctx context.Context) ([]Obligation, error) {
	return l.queryObligations(ctx, obligationColumns+` WHERE status = $1 ORDER BY due_date, sequence`, StatusPending)
}

// Settle atomically debits the wallet, records a linked REPAYMENT entry and
// flips the obligation to PAID via a compare-and-set on status.
func (l *PostgresLedger) Settle(ctx context.Context, walletID, obligationID string) (Transaction, error) {
	wID, err := uuid.Parse(walletID)
	if err != nil {
		return Transaction{}, fmt.Errorf("parse wallet id: %w", err)
	}
	obID, err := uuid.Parse(obligationID)
	if err != nil {
		return Transaction{}, fmt.Errorf("parse obligation id: %w", err)
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	balance, err := lockWalletBalance(ctx, tx, wID)
	if err != nil {
		return Transaction{}, err
	}

	row := tx.QueryRow(ctx, obligationColumns+` WHERE id = $1 FOR UPDATE`, obID)
	ob, err := scanObligation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrObligationNotFound
		}
		return Transaction{}, err
	}
	if !ob.Outstanding() {
		return Transaction{}, ErrConflict
	}
	if balance < ob.Amount {
		return Transaction{}, ErrInsufficientFunds
	}

	newBalance := balance.Sub(ob.Amount)
	entry, err := writeEntry(ctx, tx, wID, newBalance, ob.Amount.Neg(), KindRepayment, ob.ID, Metadata{Origin: "matcher"})
	if err != nil {
		return Transaction{}, err
	}

	tag, err := tx.Exec(ctx, `UPDATE obligations SET status = $1, paid_at = $2, settled_by = $3
        WHERE id = $4 AND status IN ($5, $6)`,
		StatusPaid, time.Now().UTC(), entry.ID, obID, StatusPending, StatusOverdue)
	if err != nil {
		return Transaction{}, err
	}
	if tag.RowsAffected() == 0 {
		return Transaction{}, ErrConflict
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return entry, nil
}

// MarkOverdue flips a PENDING obligation to OVERDUE.
func (l *PostgresLedger) MarkOverdue(ctx context.Context, obligationID string) error {
	obID, err := uuid.Parse(obligationID)
	if err != nil {
		return fmt.Errorf("parse obligation id: %w", err)
	}
	tag, err := l.db.Exec(ctx, `UPDATE obligations SET status = $1 WHERE id = $2 AND status = $3`,
		StatusOverdue, obID, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := l.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM obligations WHERE id = $1)`, obID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrObligationNotFound
		}
		return ErrConflict
	}
	return nil
}

// CancelLoan cancels the loan's unpaid obligations.
func (l *PostgresLedger) CancelLoan(ctx context.Context, loanID string) (int, error) {
	id, err := uuid.Parse(loanID)
	if err != nil {
		return 0, fmt.Errorf("parse loan id: %w", err)
	}
	tag, err := l.db.Exec(ctx, `UPDATE obligations SET status = $1 WHERE loan_id = $2 AND status IN ($3, $4)`,
		StatusCancelled, id, StatusPending, StatusOverdue)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const obligationColumns = `SELECT id, loan_id, owner_id, sequence, amount, due_date, due_tz, grace_days, penalty_rate, status, paid_at, settled_by, created_at FROM obligations`

func (l *PostgresLedger) queryObligations(ctx context.Context, query string, args ...any) ([]Obligation, error) {
	rows, err := l.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Obligation
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

// lockWalletBalance takes the wallet row lock and returns the current
// balance. Closed wallets fail here so no mutation path needs its own check.
func lockWalletBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID) (money.Money, error) {
	var (
		balance int64
		status  string
	)
	err := tx.QueryRow(ctx, `SELECT balance, status FROM wallets WHERE id = $1 FOR UPDATE`, walletID).Scan(&balance, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrWalletNotFound
		}
		return 0, err
	}
	if status == WalletStatusClosed {
		return 0, ErrWalletClosed
	}
	return money.FromMinorUnits(balance), nil
}

// writeEntry updates the locked wallet balance and inserts the matching
// transaction row. Callers must hold the wallet row lock in tx.
func writeEntry(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, newBalance, signed money.Money, kind Kind, obligationID string, meta Metadata) (Transaction, error) {
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balance = $1 WHERE id = $2`, newBalance.MinorUnits(), walletID); err != nil {
		return Transaction{}, err
	}

	entry := Transaction{
		ID:           uuid.NewString(),
		WalletID:     walletID.String(),
		Amount:       signed,
		Kind:         kind,
		ObligationID: obligationID,
		Meta:         meta,
		CreatedAt:    time.Now().UTC(),
	}

	var obArg any
	if obligationID != "" {
		obArg = obligationID
	}
	if _, err := tx.Exec(ctx, `INSERT INTO wallet_transactions
        (id, wallet_id, amount, kind, obligation_id, origin, reference, note, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, walletID, signed.MinorUnits(), kind, obArg, meta.Origin, meta.Reference, meta.Note, entry.CreatedAt); err != nil {
		return Transaction{}, err
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (Wallet, error) {
	var (
		w       Wallet
		id      uuid.UUID
		ownerID uuid.UUID
		balance int64
	)
	if err := row.Scan(&id, &ownerID, &balance, &w.Status, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.ID = id.String()
	w.OwnerID = ownerID.String()
	w.Balance = money.FromMinorUnits(balance)
	w.CreatedAt = w.CreatedAt.UTC()
	return w, nil
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		tx       Transaction
		id       uuid.UUID
		walletID uuid.UUID
		amount   int64
		obID     *uuid.UUID
	)
	if err := row.Scan(&id, &walletID, &amount, &tx.Kind, &obID, &tx.Meta.Origin, &tx.Meta.Reference, &tx.Meta.Note, &tx.CreatedAt); err != nil {
		return Transaction{}, err
	}
	tx.ID = id.String()
	tx.WalletID = walletID.String()
	tx.Amount = money.FromMinorUnits(amount)
	if obID != nil {
		tx.ObligationID = obID.String()
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func scanObligation(row rowScanner) (Obligation, error) {
	var (
		ob        Obligation
		id        uuid.UUID
		loanID    uuid.UUID
		ownerID   uuid.UUID
		amount    int64
		dueTZ     string
		rate      string
		paidAt    *time.Time
		settledBy *uuid.UUID
	)
	if err := row.Scan(&id, &loanID, &ownerID, &ob.Sequence, &amount, &ob.DueDate, &dueTZ, &ob.GraceDays, &rate, &ob.Status, &paidAt, &settledBy, &ob.CreatedAt); err != nil {
		return Obligation{}, err
	}
	ob.ID = id.String()
	ob.LoanID = loanID.String()
	ob.OwnerID = ownerID.String()
	ob.Amount = money.FromMinorUnits(amount)
	// timestamptz stores an instant; re-attach the loan's timezone so the
	// civil due day survives the round trip.
	loc, err := time.LoadLocation(dueTZ)
	if err != nil {
		return Obligation{}, fmt.Errorf("load due date timezone %q: %w", dueTZ, err)
	}
	ob.DueDate = ob.DueDate.In(loc)
	parsed, err := decimal.NewFromString(rate)
	if err != nil {
		return Obligation{}, fmt.Errorf("parse penalty rate: %w", err)
	}
	ob.PenaltyRate = parsed
	ob.PaidAt = paidAt
	if settledBy != nil {
		ob.SettledBy = settledBy.String()
	}
	ob.CreatedAt = ob.CreatedAt.UTC()
	return ob, nil
}
