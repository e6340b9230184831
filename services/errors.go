package services

import "errors"

var (
	// Initiation
	ErrInvalidAmount      = errors.New("amount must be greater than zero")
	ErrInvalidPhoneNumber = errors.New("phone number must be a valid Kenyan MSISDN (2547XXXXXXXX or 2541XXXXXXXX)")
	ErrPaymentInProgress  = errors.New("an active payment already exists for this order")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// Token lifecycle
	ErrTokenFetch = errors.New("gateway token fetch failed")

	// Status lookup
	ErrTransactionNotFound = errors.New("no transaction found for order")

	// Reconciliation
	ErrUnknownTransaction   = errors.New("callback references an unknown transaction")
	ErrInconsistentCallback = errors.New("callback conflicts with the recorded transaction")
)
