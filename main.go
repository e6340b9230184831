package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"payment-service/config"
	"payment-service/controllers"
	"payment-service/database"
	"payment-service/kafka"
	"payment-service/repository"
	"payment-service/routes"
	"payment-service/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const callbackQueueSize = 256

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("[PaymentService] Failed to load config: ", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("[PaymentService] Failed to initialize logger: ", err)
	}
	defer logger.Sync()

	db, err := database.ConnectPostgres(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to connect to DB", zap.Error(err))
	}
	defer database.Close(db)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wiring
	txRepo := repository.NewGormTransactionRepo(db)
	tokenSvc := services.NewTokenService(cfg.DarajaBaseURL, cfg.DarajaConsumerKey, cfg.DarajaConsumerSecret, cfg.TokenExpiryMargin, logger)
	gateway := services.NewDarajaClient(cfg.DarajaBaseURL, cfg.DarajaShortCode, cfg.DarajaPasskey, cfg.DarajaCallbackURL, tokenSvc, logger)
	producer := kafka.NewPaymentEventProducer(strings.Split(cfg.KafkaBrokers, ","), cfg.PaymentEventsTopic, logger)
	defer producer.Close()

	paymentSvc := services.NewPaymentService(txRepo, gateway, logger)
	reconciler := services.NewReconciliationService(txRepo, producer, logger, cfg.CallbackWorkers, callbackQueueSize)
	reconciler.Start(ctx)

	sweeper := services.NewExpirySweeper(txRepo, producer, logger, cfg.ExpiryDeadline, cfg.SweepInterval)
	go sweeper.Run(ctx)

	// HTTP server
	r := gin.New()
	r.Use(gin.Recovery())

	pc := controllers.NewPaymentController(paymentSvc, reconciler, logger)
	routes.RegisterPaymentRoutes(r, pc, []byte(cfg.JWTSecret))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Info("Payment service running", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}
	reconciler.Wait()
}
