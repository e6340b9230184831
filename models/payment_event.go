package models

import "time"

const (
	EventPaymentConfirmed = "payment_confirmed"
	EventPaymentFailed    = "payment_failed"
	EventPaymentExpired   = "payment_expired"
)

// PaymentEvent is published once per terminal transition; the order service
// consumes it to move the order along.
type PaymentEvent struct {
	Type          string    `json:"type"`
	OrderRef      string    `json:"order_ref"`
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	PhoneNumber   string    `json:"phone_number"`
	Receipt       string    `json:"receipt,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
