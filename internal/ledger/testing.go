package ledger

import "github.com/kopa-credit/kopa/internal/money"

// SeedBalance is a test helper that sets a wallet balance directly when using
// the in-memory ledger. It bypasses the transaction log on purpose, so tests
// asserting balance/log conservation should fund wallets via Deposit instead.
func SeedBalance(l Ledger, walletID string, amount money.Money) {
	if mem, ok := l.(*inMemoryLedger); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		w := mem.wallets[walletID]
		w.Balance = amount
		mem.wallets[walletID] = w
	}
}
