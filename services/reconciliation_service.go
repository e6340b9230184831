package services

import (
	"context"
	"sync"
	"time"

	"payment-service/models"
	"payment-service/repository"

	"go.uber.org/zap"
)

// EventPublisher emits a payment event after a terminal transition.
type EventPublisher interface {
	Publish(ctx context.Context, event models.PaymentEvent) error
}

const (
	raceRetryAttempts = 5
	raceRetryDelay    = 200 * time.Millisecond
)

// ReconciliationService applies gateway callbacks to their transactions.
// Callbacks are enqueued by the HTTP handler and drained by a small worker
// pool so the acknowledgment path never waits on the database. Every status
// mutation goes through the repository's conditional update, which makes
// duplicate deliveries collapse to a single winning transition — only the
// winner publishes the order-status event.
type ReconciliationService struct {
	repo      repository.TransactionRepository
	publisher EventPublisher
	logger    *zap.Logger

	queue   chan models.CallbackResult
	workers int
	wg      sync.WaitGroup
}

func NewReconciliationService(repo repository.TransactionRepository, publisher EventPublisher, logger *zap.Logger, workers, queueSize int) *ReconciliationService {
	if workers <= 0 {
		workers = 1
	}
	return &ReconciliationService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		queue:     make(chan models.CallbackResult, queueSize),
		workers:   workers,
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (s *ReconciliationService) Start(ctx context.Context) {
	s.logger.Info("Starting reconciliation workers", zap.Int("workers", s.workers))
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case res := <-s.queue:
					if err := s.Reconcile(ctx, res); err != nil {
						s.logger.Warn("Reconciliation error",
							zap.String("checkout_request_id", res.CheckoutRequestID),
							zap.Error(err),
						)
					}
				}
			}
		}()
	}
}

// Wait blocks until all workers have exited.
func (s *ReconciliationService) Wait() {
	s.wg.Wait()
}

// Enqueue hands a validated callback to the workers without blocking. A full
// queue drops the callback; the gateway redelivers.
func (s *ReconciliationService) Enqueue(res models.CallbackResult) bool {
	select {
	case s.queue <- res:
		return true
	default:
		s.logger.Error("Callback queue full, dropping callback",
			zap.String("checkout_request_id", res.CheckoutRequestID),
		)
		return false
	}
}

// Reconcile is the idempotent commit for one callback delivery.
func (s *ReconciliationService) Reconcile(ctx context.Context, res models.CallbackResult) error {
	tx, err := s.repo.FindByCheckoutRequestID(ctx, res.CheckoutRequestID)
	if err != nil {
		return err
	}

	// The callback can land before the initiator's acceptance write commits.
	// That write is what stores the CheckoutRequestID, so until it lands the
	// lookup finds nothing. Re-poll briefly before declaring the callback
	// unknown.
	for attempt := 0; tx == nil && attempt < raceRetryAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(raceRetryDelay):
		}
		tx, err = s.repo.FindByCheckoutRequestID(ctx, res.CheckoutRequestID)
		if err != nil {
			return err
		}
	}
	if tx == nil {
		s.logger.Warn("Callback for unknown transaction",
			zap.String("checkout_request_id", res.CheckoutRequestID),
		)
		return ErrUnknownTransaction
	}

	if tx.Status.Terminal() {
		return s.checkTerminal(tx, res)
	}

	// PENDING_CONFIRMATION: apply the result.
	now := time.Now()

	if res.Success() {
		if res.Amount == nil || *res.Amount != tx.Amount {
			won, err := s.repo.UpdateStatusIf(ctx, tx.ID, models.StatusPendingConfirmation, models.StatusFailed,
				map[string]interface{}{"failure_reason": "callback amount does not match requested amount"})
			if err != nil {
				return err
			}
			if won {
				s.logger.Error("Callback amount mismatch",
					zap.String("transaction_id", tx.ID.String()),
					zap.Int64("expected", tx.Amount),
					zap.Any("reported", res.Amount),
				)
				s.publishEvent(ctx, tx, models.EventPaymentFailed, res.Receipt)
			}
			return ErrInconsistentCallback
		}

		updates := map[string]interface{}{"confirmed_at": &now}
		if res.Receipt != "" {
			updates["mpesa_receipt"] = res.Receipt
		}
		won, err := s.repo.UpdateStatusIf(ctx, tx.ID, models.StatusPendingConfirmation, models.StatusConfirmed, updates)
		if err != nil {
			return err
		}
		if won {
			s.logger.Info("Payment confirmed",
				zap.String("transaction_id", tx.ID.String()),
				zap.String("order_ref", tx.OrderRef),
				zap.String("receipt", res.Receipt),
			)
			s.publishEvent(ctx, tx, models.EventPaymentConfirmed, res.Receipt)
		}
		return nil
	}

	won, err := s.repo.UpdateStatusIf(ctx, tx.ID, models.StatusPendingConfirmation, models.StatusFailed,
		map[string]interface{}{"failure_reason": res.ResultDesc, "confirmed_at": &now})
	if err != nil {
		return err
	}
	if won {
		s.logger.Info("Payment failed",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("order_ref", tx.OrderRef),
			zap.String("result_desc", res.ResultDesc),
		)
		s.publishEvent(ctx, tx, models.EventPaymentFailed, res.Receipt)
	}
	return nil
}

// checkTerminal handles redeliveries against an already-settled transaction.
// The stored outcome is never overwritten: first terminal result wins.
func (s *ReconciliationService) checkTerminal(tx *models.PaymentTransaction, res models.CallbackResult) error {
	if res.Success() && tx.Status == models.StatusExpired {
		s.logger.Warn("Late confirmation after expiry",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("order_ref", tx.OrderRef),
			zap.String("receipt", res.Receipt),
		)
		return ErrInconsistentCallback
	}

	sameOutcome := (res.Success() && tx.Status == models.StatusConfirmed) ||
		(!res.Success() && tx.Status == models.StatusFailed)
	if sameOutcome {
		s.logger.Debug("Duplicate callback delivery",
			zap.String("transaction_id", tx.ID.String()),
		)
		return nil
	}

	s.logger.Error("Callback outcome conflicts with settled transaction",
		zap.String("transaction_id", tx.ID.String()),
		zap.String("stored_status", string(tx.Status)),
		zap.Int("result_code", res.ResultCode),
	)
	return ErrInconsistentCallback
}

func (s *ReconciliationService) publishEvent(ctx context.Context, tx *models.PaymentTransaction, eventType, receipt string) {
	event := models.PaymentEvent{
		Type:          eventType,
		OrderRef:      tx.OrderRef,
		TransactionID: tx.ID.String(),
		Amount:        tx.Amount,
		PhoneNumber:   tx.PhoneNumber,
		Receipt:       receipt,
		Timestamp:     time.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Error("Failed to publish payment event",
			zap.String("event_type", eventType),
			zap.String("order_ref", tx.OrderRef),
			zap.Error(err),
		)
	}
}
