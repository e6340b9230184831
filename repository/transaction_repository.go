package repository

import (
	"context"
	"errors"
	"time"

	"payment-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TransactionRepository is the storage boundary for payment transactions.
// UpdateStatusIf is the only concurrency-control primitive: a conditional
// update guarded on the current status, so racing writers (callback delivery,
// duplicate delivery, sweeper) serialize per transaction and exactly one wins.
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.PaymentTransaction) error
	FindByOrderRef(ctx context.Context, orderRef string) (*models.PaymentTransaction, error)
	FindActiveByOrderRef(ctx context.Context, orderRef string) (*models.PaymentTransaction, error)
	FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.PaymentTransaction, error)
	AssignCheckoutRequestID(ctx context.Context, id uuid.UUID, checkoutRequestID, merchantRequestID string) error
	UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus, updates map[string]interface{}) (bool, error)
	IncrementRetryCount(ctx context.Context, id uuid.UUID) error
	FindUnresolvedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentTransaction, error)
}

// ErrNotInitiated is returned when a push acceptance races a transition that
// already moved the transaction out of INITIATED.
var ErrNotInitiated = errors.New("transaction is no longer in initiated state")

type gormTransactionRepo struct {
	db *gorm.DB
}

func NewGormTransactionRepo(db *gorm.DB) TransactionRepository {
	return &gormTransactionRepo{db: db}
}

func (r *gormTransactionRepo) Create(ctx context.Context, tx *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *gormTransactionRepo) FindByOrderRef(ctx context.Context, orderRef string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_ref = ?", orderRef).
		Order("created_at DESC").
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

func (r *gormTransactionRepo) FindActiveByOrderRef(ctx context.Context, orderRef string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_ref = ? AND status IN ?", orderRef,
			[]models.TransactionStatus{models.StatusInitiated, models.StatusPendingConfirmation}).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

func (r *gormTransactionRepo) FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*models.PaymentTransaction, error) {
	var tx models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("checkout_request_id = ?", checkoutRequestID).
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tx, nil
}

// AssignCheckoutRequestID records gateway acceptance: it stores the correlation
// ids and moves INITIATED to PENDING_CONFIRMATION in one guarded update.
func (r *gormTransactionRepo) AssignCheckoutRequestID(ctx context.Context, id uuid.UUID, checkoutRequestID, merchantRequestID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, models.StatusInitiated).
		Updates(map[string]interface{}{
			"checkout_request_id": checkoutRequestID,
			"merchant_request_id": merchantRequestID,
			"status":              models.StatusPendingConfirmation,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotInitiated
	}
	return nil
}

func (r *gormTransactionRepo) UpdateStatusIf(ctx context.Context, id uuid.UUID, from, to models.TransactionStatus, updates map[string]interface{}) (bool, error) {
	merged := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for k, v := range updates {
		merged[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", id, from).
		Updates(merged)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *gormTransactionRepo) IncrementRetryCount(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

// FindUnresolvedOlderThan lists non-terminal transactions created before the
// cutoff. INITIATED rows are included: an initiation cancelled mid-flight
// leaves one behind, and it must not hold the order's active slot forever.
func (r *gormTransactionRepo) FindUnresolvedOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentTransaction, error) {
	var txs []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]models.TransactionStatus{models.StatusInitiated, models.StatusPendingConfirmation}, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, err
	}
	return txs, nil
}
