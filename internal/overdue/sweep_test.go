package overdue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kopa-credit/kopa/internal/ledger"
	"github.com/kopa-credit/kopa/internal/logging"
	"github.com/kopa-credit/kopa/internal/notification"
)

type captureNotifier struct {
	messages []notification.Message
}

func (n *captureNotifier) Send(_ context.Context, msg notification.Message) error {
	n.messages = append(n.messages, msg)
	return nil
}

func TestSweepFlipsOnlyExpiredObligations(t *testing.T) {
	led := ledger.NewInMemory()
	ctx := context.Background()

	w, err := led.EnsureWallet(ctx, uuid.NewString())
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	mk := func(due time.Time, graceDays int) ledger.Obligation {
		ob := ledger.Obligation{
			ID:          uuid.NewString(),
			LoanID:      uuid.NewString(),
			OwnerID:     w.OwnerID,
			Amount:      1_000,
			DueDate:     due,
			GraceDays:   graceDays,
			PenaltyRate: decimal.Zero,
			Status:      ledger.StatusPending,
		}
		if err := led.CreateObligations(ctx, []ledger.Obligation{ob}); err != nil {
			t.Fatalf("create obligation: %v", err)
		}
		return ob
	}

	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)
	expired := mk(now.AddDate(0, 0, -10), 3)
	inGrace := mk(now.AddDate(0, 0, -1), 3)
	future := mk(now.AddDate(0, 0, 10), 3)

	notifier := &captureNotifier{}
	sweep := NewSweep(led, notifier, logging.Discard(), "@hourly")

	flipped, err := sweep.Run(ctx, now)
	if err != nil {
		t.Fatalf("sweep run: %v", err)
	}
	if len(flipped) != 1 || flipped[0].ID != expired.ID {
		t.Fatalf("expected only the expired obligation flipped, got %+v", flipped)
	}

	got, _ := led.Obligation(ctx, expired.ID)
	if got.Status != ledger.StatusOverdue {
		t.Fatalf("expected OVERDUE, got %s", got.Status)
	}
	for _, id := range []string{inGrace.ID, future.ID} {
		ob, _ := led.Obligation(ctx, id)
		if ob.Status != ledger.StatusPending {
			t.Fatalf("obligation %s must stay PENDING, got %s", id, ob.Status)
		}
	}

	if len(notifier.messages) != 1 || notifier.messages[0].Kind != notification.KindObligationOverdue {
		t.Fatalf("expected one overdue notification, got %+v", notifier.messages)
	}
}

func TestSweepIsIdempotentAcrossRuns(t *testing.T) {
	led := ledger.NewInMemory()
	ctx := context.Background()

	w, err := led.EnsureWallet(ctx, uuid.NewString())
	if err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}
	ob := ledger.Obligation{
		ID:          uuid.NewString(),
		LoanID:      uuid.NewString(),
		OwnerID:     w.OwnerID,
		Amount:      500,
		DueDate:     time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
		PenaltyRate: decimal.Zero,
		Status:      ledger.StatusPending,
	}
	if err := led.CreateObligations(ctx, []ledger.Obligation{ob}); err != nil {
		t.Fatalf("create obligation: %v", err)
	}

	sweep := NewSweep(led, nil, logging.Discard(), "@hourly")
	now := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	first, err := sweep.Run(ctx, now)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 flip on first run, got %d", len(first))
	}

	second, err := sweep.Run(ctx, now)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("expected no flips on second run, got %d", len(second))
	}
}
