package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"payment-service/models"
	"payment-service/repository"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// phoneRe matches Safaricom MSISDNs in international format without the plus.
var phoneRe = regexp.MustCompile(`^254(1|7)\d{8}$`)

const (
	pushAttempts    = 3 // initial call plus two retries
	pushBackoffBase = time.Second
)

// PaymentService drives payment initiation and status lookups.
type PaymentService interface {
	InitiatePayment(ctx context.Context, orderRef string, amount int64, phoneNumber string) (*models.PaymentTransaction, error)
	GetStatus(ctx context.Context, orderRef string) (*models.PaymentTransaction, error)
}

type paymentServiceImpl struct {
	repo    repository.TransactionRepository
	gateway PushGateway
	logger  *zap.Logger
	backoff time.Duration
}

func NewPaymentService(repo repository.TransactionRepository, gateway PushGateway, logger *zap.Logger) PaymentService {
	return &paymentServiceImpl{repo: repo, gateway: gateway, logger: logger, backoff: pushBackoffBase}
}

// InitiatePayment records a transaction for the order and submits the push
// request. The transaction survives every failure path so the attempt stays
// auditable; only its status changes.
func (s *paymentServiceImpl) InitiatePayment(ctx context.Context, orderRef string, amount int64, phoneNumber string) (*models.PaymentTransaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if !phoneRe.MatchString(phoneNumber) {
		return nil, ErrInvalidPhoneNumber
	}

	active, err := s.repo.FindActiveByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, fmt.Errorf("checking for active transaction: %w", err)
	}
	if active != nil {
		return nil, ErrPaymentInProgress
	}

	tx := &models.PaymentTransaction{
		ID:          uuid.New(),
		OrderRef:    orderRef,
		Amount:      amount,
		PhoneNumber: phoneNumber,
		Status:      models.StatusInitiated,
	}
	if err := s.repo.Create(ctx, tx); err != nil {
		// The partial unique index catches initiates racing past the check above.
		if isDuplicateKey(err) {
			return nil, ErrPaymentInProgress
		}
		return nil, fmt.Errorf("creating transaction: %w", err)
	}

	resp, err := s.submitPush(ctx, tx)
	if err != nil {
		// A cancelled request may still have reached the gateway; keep the row
		// in INITIATED so a callback or the sweeper can resolve it.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("initiation cancelled: %w", err)
		}
		reason := err.Error()
		won, markErr := s.repo.UpdateStatusIf(ctx, tx.ID, models.StatusInitiated, models.StatusFailed,
			map[string]interface{}{"failure_reason": reason})
		if markErr != nil {
			s.logger.Error("Failed to mark transaction failed",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(markErr),
			)
		} else if !won {
			// A callback beat us here; leave whatever it decided in place.
			s.logger.Warn("Transaction already transitioned while marking initiation failure",
				zap.String("transaction_id", tx.ID.String()),
			)
		}
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	if err := s.repo.AssignCheckoutRequestID(ctx, tx.ID, resp.CheckoutRequestID, resp.MerchantRequestID); err != nil {
		return nil, fmt.Errorf("recording gateway acceptance: %w", err)
	}

	tx.CheckoutRequestID = &resp.CheckoutRequestID
	tx.MerchantRequestID = &resp.MerchantRequestID
	tx.Status = models.StatusPendingConfirmation

	s.logger.Info("Payment initiated",
		zap.String("order_ref", orderRef),
		zap.String("transaction_id", tx.ID.String()),
		zap.String("checkout_request_id", resp.CheckoutRequestID),
	)

	return tx, nil
}

// submitPush calls the gateway with bounded retries. Cancellation between
// attempts leaves the transaction in INITIATED for the sweeper or a late
// callback to resolve; an accepted remote push is never silently orphaned.
func (s *paymentServiceImpl) submitPush(ctx context.Context, tx *models.PaymentTransaction) (*STKPushResponse, error) {
	var lastErr error
	backoff := s.backoff

	for attempt := 1; attempt <= pushAttempts; attempt++ {
		resp, err := s.gateway.RequestPush(ctx, tx.OrderRef, tx.Amount, tx.PhoneNumber)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		s.logger.Warn("Push request failed",
			zap.String("transaction_id", tx.ID.String()),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if attempt == pushAttempts {
			break
		}
		if err := s.repo.IncrementRetryCount(ctx, tx.ID); err != nil {
			s.logger.Warn("Failed to record retry", zap.Error(err))
		}
		tx.RetryCount++

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return nil, lastErr
}

func (s *paymentServiceImpl) GetStatus(ctx context.Context, orderRef string) (*models.PaymentTransaction, error) {
	tx, err := s.repo.FindByOrderRef(ctx, orderRef)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, ErrTransactionNotFound
	}
	return tx, nil
}

// isDuplicateKey recognizes a unique-constraint violation (SQLSTATE 23505)
// from the active-order index.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
