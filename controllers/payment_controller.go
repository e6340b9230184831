package controllers

import (
	"errors"
	"net/http"

	"payment-service/models"
	"payment-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CallbackSink accepts validated callback results for asynchronous processing.
type CallbackSink interface {
	Enqueue(res models.CallbackResult) bool
}

type PaymentController struct {
	Service    services.PaymentService
	Reconciler CallbackSink
	Logger     *zap.Logger
}

func NewPaymentController(service services.PaymentService, reconciler CallbackSink, logger *zap.Logger) *PaymentController {
	return &PaymentController{Service: service, Reconciler: reconciler, Logger: logger}
}

// Amount carries no binding tag: zero and negative values must reach the
// service so they surface as a validation error, not a bind failure.
type initiateRequest struct {
	OrderRef    string `json:"order_ref" binding:"required"`
	Amount      int64  `json:"amount"`
	PhoneNumber string `json:"phone_number" binding:"required"`
}

// InitiatePayment starts an STK push for an order.
func (pc *PaymentController) InitiatePayment(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tx, err := pc.Service.InitiatePayment(c.Request.Context(), req.OrderRef, req.Amount, req.PhoneNumber)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAmount), errors.Is(err, services.ErrInvalidPhoneNumber):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrPaymentInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrGatewayUnavailable), errors.Is(err, services.ErrTokenFetch):
			pc.Logger.Error("Gateway failure during initiation",
				zap.String("order_ref", req.OrderRef),
				zap.Error(err),
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": "payment gateway unavailable"})
		default:
			pc.Logger.Error("Initiation failed",
				zap.String("order_ref", req.OrderRef),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"transaction_id":      tx.ID.String(),
		"checkout_request_id": tx.CheckoutRequestID,
	})
}

// darajaAck is the fixed acknowledgment body the gateway expects. Internal
// failures are handled out of band; a non-200 here would only trigger the
// gateway's own retry storm.
var darajaAck = gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

// HandleCallback accepts the gateway's asynchronous result notification.
// It validates the shape, enqueues for reconciliation and acknowledges
// immediately; it never blocks on the database.
func (pc *PaymentController) HandleCallback(c *gin.Context) {
	var envelope models.STKCallbackEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		pc.Logger.Warn("Malformed callback payload", zap.Error(err))
		c.JSON(http.StatusOK, darajaAck)
		return
	}

	res := envelope.Result()
	if res.CheckoutRequestID == "" {
		pc.Logger.Warn("Callback missing CheckoutRequestID")
		c.JSON(http.StatusOK, darajaAck)
		return
	}
	if res.Success() && res.Amount == nil {
		pc.Logger.Warn("Success callback missing amount metadata",
			zap.String("checkout_request_id", res.CheckoutRequestID),
		)
		c.JSON(http.StatusOK, darajaAck)
		return
	}

	pc.Reconciler.Enqueue(res)
	c.JSON(http.StatusOK, darajaAck)
}

// GetStatus returns the current transaction state for polling clients.
func (pc *PaymentController) GetStatus(c *gin.Context) {
	orderRef := c.Param("orderRef")

	tx, err := pc.Service.GetStatus(c.Request.Context(), orderRef)
	if err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no transaction for order"})
			return
		}
		pc.Logger.Error("Status lookup failed",
			zap.String("order_ref", orderRef),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, tx)
}
