package models

import (
	"time"

	"github.com/google/uuid"
)

type TransactionStatus string

const (
	StatusInitiated           TransactionStatus = "INITIATED"
	StatusPendingConfirmation TransactionStatus = "PENDING_CONFIRMATION"
	StatusConfirmed           TransactionStatus = "CONFIRMED"
	StatusFailed              TransactionStatus = "FAILED"
	StatusExpired             TransactionStatus = "EXPIRED"
)

// Terminal reports whether no further status transition is permitted.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// PaymentTransaction is the record of a single STK push attempt against an order.
// CheckoutRequestID is assigned by the gateway once the push is accepted and is
// the key incoming callbacks are matched on.
type PaymentTransaction struct {
	ID                uuid.UUID         `gorm:"type:uuid;primaryKey" json:"transaction_id"`
	OrderRef          string            `gorm:"type:varchar(64);index;not null" json:"order_ref"`
	Amount            int64             `gorm:"not null" json:"amount"` // whole KES
	PhoneNumber       string            `gorm:"type:varchar(15);not null" json:"phone_number"`
	CheckoutRequestID *string           `gorm:"type:varchar(64);uniqueIndex" json:"checkout_request_id,omitempty"`
	MerchantRequestID *string           `gorm:"type:varchar(64)" json:"merchant_request_id,omitempty"`
	Status            TransactionStatus `gorm:"type:varchar(32);not null;index" json:"status"`
	FailureReason     *string           `gorm:"type:varchar(255)" json:"failure_reason,omitempty"`
	MpesaReceipt      *string           `gorm:"type:varchar(32)" json:"mpesa_receipt,omitempty"`
	RetryCount        int               `gorm:"not null;default:0" json:"retry_count"`
	ConfirmedAt       *time.Time        `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}
