package services

import (
	"context"
	"time"

	"payment-service/models"
	"payment-service/repository"

	"go.uber.org/zap"
)

const sweepBatchSize = 100

// ExpirySweeper moves transactions that never resolved to EXPIRED: pending
// confirmations whose callback never arrived, and INITIATED rows orphaned by a
// cancelled initiation. It reuses the same guarded update as reconciliation,
// so it cannot race a late legitimate callback: whichever write wins is final.
type ExpirySweeper struct {
	repo      repository.TransactionRepository
	publisher EventPublisher
	logger    *zap.Logger
	deadline  time.Duration
	interval  time.Duration
}

func NewExpirySweeper(repo repository.TransactionRepository, publisher EventPublisher, logger *zap.Logger, deadline, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		deadline:  deadline,
		interval:  interval,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Expiry sweeper started",
		zap.Duration("deadline", s.deadline),
		zap.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if count, err := s.Sweep(ctx, time.Now()); err != nil {
				s.logger.Error("Sweep failed", zap.Error(err))
			} else if count > 0 {
				s.logger.Info("Expired abandoned transactions", zap.Int("count", count))
			}
		}
	}
}

// Sweep expires every unresolved transaction created before now - deadline and
// returns how many transitions it won.
func (s *ExpirySweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.deadline)
	stale, err := s.repo.FindUnresolvedOlderThan(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range stale {
		tx := &stale[i]
		won, err := s.repo.UpdateStatusIf(ctx, tx.ID, tx.Status, models.StatusExpired,
			map[string]interface{}{"failure_reason": "no confirmation within deadline"})
		if err != nil {
			s.logger.Error("Failed to expire transaction",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if !won {
			// A callback settled it between the select and the update.
			continue
		}

		count++
		event := models.PaymentEvent{
			Type:          models.EventPaymentExpired,
			OrderRef:      tx.OrderRef,
			TransactionID: tx.ID.String(),
			Amount:        tx.Amount,
			PhoneNumber:   tx.PhoneNumber,
			Timestamp:     time.Now().UTC(),
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.logger.Error("Failed to publish expiry event",
				zap.String("order_ref", tx.OrderRef),
				zap.Error(err),
			)
		}
	}

	return count, nil
}
