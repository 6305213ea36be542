package overdue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kopa-credit/kopa/internal/ledger"
	"github.com/kopa-credit/kopa/internal/notification"
)

// Sweep periodically scans PENDING obligations and flips the ones past
// their grace deadline to OVERDUE, emitting a notification for each.
type Sweep struct {
	cron     *cron.Cron
	ledger   ledger.Ledger
	notifier notification.Notifier
	logger   *slog.Logger
	spec     string
}

// NewSweep builds the sweep with the provided cron spec (e.g. "@hourly").
func NewSweep(led ledger.Ledger, notifier notification.Notifier, logger *slog.Logger, spec string) *Sweep {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Sweep{
		cron:     cron.New(cron.WithChain(cron.Recover(cronLogger))),
		ledger:   led,
		notifier: notifier,
		logger:   logger,
		spec:     spec,
	}
}

// Start registers and launches the cron job.
func (s *Sweep) Start() error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := s.Run(ctx, time.Now()); err != nil {
			s.logger.Error("overdue sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduled overdue sweep", "spec", s.spec)
	return nil
}

// Stop halts the scheduler and returns a context that is done once any
// in-flight run finishes.
func (s *Sweep) Stop() context.Context {
	return s.cron.Stop()
}

// Run performs a single sweep pass and returns the obligations it flipped.
// Losing the status compare-and-set is not an error: it means a concurrent
// settlement or cancellation advanced the obligation first.
func (s *Sweep) Run(ctx context.Context, now time.Time) ([]ledger.Obligation, error) {
	pending, err := s.ledger.PendingObligations(ctx)
	if err != nil {
		return nil, err
	}

	var flipped []ledger.Obligation
	for _, ob := range pending {
		if !IsOverdue(ob, now) {
			continue
		}
		if err := s.ledger.MarkOverdue(ctx, ob.ID); err != nil {
			if errors.Is(err, ledger.ErrConflict) || errors.Is(err, ledger.ErrObligationNotFound) {
				continue
			}
			return flipped, err
		}
		ob.Status = ledger.StatusOverdue
		flipped = append(flipped, ob)
		s.notify(ctx, ob)
	}

	if len(flipped) > 0 {
		s.logger.Info("overdue sweep complete", "flipped", len(flipped))
	}
	return flipped, nil
}

func (s *Sweep) notify(ctx context.Context, ob ledger.Obligation) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{
		Kind:         notification.KindObligationOverdue,
		Destination:  ob.OwnerID,
		ObligationID: ob.ID,
		Amount:       ob.Amount,
		Body:         "installment " + ob.Amount.String() + " is overdue",
	})
}
