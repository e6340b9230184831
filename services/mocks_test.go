package services_test

import (
	"context"
	"sync"
	"time"

	"payment-service/models"
	"payment-service/repository"
	"payment-service/services"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// memTransactionRepo is an in-memory TransactionRepository with the same
// conditional-update semantics as the gorm implementation, so concurrency
// behavior can be exercised without a database.
type memTransactionRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.PaymentTransaction

	createErr error
	findErr   error
}

func newMemRepo() *memTransactionRepo {
	return &memTransactionRepo{byID: make(map[uuid.UUID]*models.PaymentTransaction)}
}

func (r *memTransactionRepo) put(tx models.PaymentTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := tx
	r.byID[tx.ID] = &cp
}

func (r *memTransactionRepo) get(id uuid.UUID) models.PaymentTransaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.byID[id]
}

func (r *memTransactionRepo) Create(_ context.Context, tx *models.PaymentTransaction) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.OrderRef == tx.OrderRef && !existing.Status.Terminal() {
			return &pgconn.PgError{
				Code:           "23505",
				Message:        "duplicate key value violates unique constraint",
				ConstraintName: "idx_payment_transactions_active_order",
			}
		}
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	cp := *tx
	r.byID[tx.ID] = &cp
	return nil
}

func (r *memTransactionRepo) FindByOrderRef(_ context.Context, orderRef string) (*models.PaymentTransaction, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.PaymentTransaction
	for _, tx := range r.byID {
		if tx.OrderRef != orderRef {
			continue
		}
		if latest == nil || tx.CreatedAt.After(latest.CreatedAt) {
			latest = tx
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memTransactionRepo) FindActiveByOrderRef(_ context.Context, orderRef string) (*models.PaymentTransaction, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.byID {
		if tx.OrderRef == orderRef && !tx.Status.Terminal() {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memTransactionRepo) FindByCheckoutRequestID(_ context.Context, checkoutRequestID string) (*models.PaymentTransaction, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.byID {
		if tx.CheckoutRequestID != nil && *tx.CheckoutRequestID == checkoutRequestID {
			cp := *tx
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memTransactionRepo) AssignCheckoutRequestID(_ context.Context, id uuid.UUID, checkoutRequestID, merchantRequestID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok || tx.Status != models.StatusInitiated {
		return repository.ErrNotInitiated
	}
	tx.CheckoutRequestID = &checkoutRequestID
	tx.MerchantRequestID = &merchantRequestID
	tx.Status = models.StatusPendingConfirmation
	tx.UpdatedAt = time.Now()
	return nil
}

func (r *memTransactionRepo) UpdateStatusIf(_ context.Context, id uuid.UUID, from, to models.TransactionStatus, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx, ok := r.byID[id]
	if !ok || tx.Status != from {
		return false, nil
	}
	tx.Status = to
	tx.UpdatedAt = time.Now()
	if v, ok := updates["failure_reason"].(string); ok {
		tx.FailureReason = &v
	}
	if v, ok := updates["confirmed_at"].(*time.Time); ok {
		tx.ConfirmedAt = v
	}
	if v, ok := updates["mpesa_receipt"].(string); ok {
		tx.MpesaReceipt = &v
	}
	return true, nil
}

func (r *memTransactionRepo) IncrementRetryCount(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tx, ok := r.byID[id]; ok {
		tx.RetryCount++
	}
	return nil
}

func (r *memTransactionRepo) FindUnresolvedOlderThan(_ context.Context, cutoff time.Time, limit int) ([]models.PaymentTransaction, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.PaymentTransaction
	for _, tx := range r.byID {
		if !tx.Status.Terminal() && tx.CreatedAt.Before(cutoff) {
			out = append(out, *tx)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

var _ repository.TransactionRepository = (*memTransactionRepo)(nil)

// ---- mock gateway ----

type mockGateway struct {
	pushFn func(ctx context.Context, orderRef string, amount int64, phone string) (*services.STKPushResponse, error)
}

func (m *mockGateway) RequestPush(ctx context.Context, orderRef string, amount int64, phone string) (*services.STKPushResponse, error) {
	return m.pushFn(ctx, orderRef, amount, phone)
}

// ---- mock publisher ----

type mockPublisher struct {
	mu     sync.Mutex
	events []models.PaymentEvent
	err    error
}

func (m *mockPublisher) Publish(_ context.Context, event models.PaymentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) published() []models.PaymentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PaymentEvent, len(m.events))
	copy(out, m.events)
	return out
}
