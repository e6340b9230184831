package routes

import (
	"net/http"

	"payment-service/controllers"
	"payment-service/middleware"

	"github.com/gin-gonic/gin"
)

func RegisterPaymentRoutes(r *gin.Engine, pc *controllers.PaymentController, jwtSecret []byte) {
	payments := r.Group("/payments")
	payments.Use(middleware.AuthMiddleware(jwtSecret))
	payments.POST("/initiate", middleware.RateLimitMiddleware(), pc.InitiatePayment)
	payments.GET("/status/:orderRef", pc.GetStatus)

	// Gateway callback (no auth; the gateway does not authenticate itself)
	r.POST("/payments/callback", pc.HandleCallback)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
