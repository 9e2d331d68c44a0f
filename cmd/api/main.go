package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/stilldew/storefront-api/internal/config"
	"github.com/stilldew/storefront-api/internal/gateway"
	"github.com/stilldew/storefront-api/internal/handler"
	"github.com/stilldew/storefront-api/internal/middleware"
	"github.com/stilldew/storefront-api/internal/repository"
	"github.com/stilldew/storefront-api/internal/service"
	"github.com/stilldew/storefront-api/internal/worker"
	"github.com/stilldew/storefront-api/migrations"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	policy, err := cfg.Pricing.Policy()
	if err != nil {
		log.Error("parse pricing policy", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// PostgreSQL
	if err := migrations.Up(cfg.DB.MigrateDSN()); err != nil {
		log.Error("run migrations", "error", err)
		os.Exit(1)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		log.Error("parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.DB.MaxConns

	dbPool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("connect to database", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		log.Error("ping database", "error", err)
		os.Exit(1)
	}
	log.Info("connected to PostgreSQL")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Error("connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis")

	// RabbitMQ
	amqpConn, err := amqp.Dial(cfg.RabbitMQ.URL)
	if err != nil {
		log.Error("connect to RabbitMQ", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()

	amqpCh, err := amqpConn.Channel()
	if err != nil {
		log.Error("open RabbitMQ channel", "error", err)
		os.Exit(1)
	}
	defer amqpCh.Close()

	if err := worker.SetupRabbitMQ(amqpCh); err != nil {
		log.Error("setup RabbitMQ", "error", err)
		os.Exit(1)
	}
	log.Info("connected to RabbitMQ")

	// Payment gateway
	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Timeout)

	// Repositories
	userRepo := repository.NewUserRepository(dbPool)
	productRepo := repository.NewProductRepository(dbPool)
	cartRepo := repository.NewCartRepository(dbPool)
	orderRepo := repository.NewOrderRepository(dbPool, productRepo)
	paymentRepo := repository.NewPaymentRepository(dbPool)

	// Services
	productSvc := service.NewProductService(productRepo, redisClient)
	cartSvc := service.NewCartService(cartRepo, productRepo, policy, cfg.Cart.TTL)
	authSvc := service.NewAuthService(userRepo, cartSvc, cfg.JWT.Secret, cfg.JWT.Expiration)
	orderSvc := service.NewOrderService(orderRepo, cartRepo, productRepo, userRepo, policy, amqpCh, worker.OrderQueueName)
	paymentSvc := service.NewPaymentService(paymentRepo, orderRepo, gw, redisClient, cfg.Pricing.Currency, cfg.Gateway.WebhookSecret)

	// Handlers
	authH := handler.NewAuthHandler(authSvc)
	productH := handler.NewProductHandler(productSvc)
	cartH := handler.NewCartHandler(cartSvc)
	orderH := handler.NewOrderHandler(orderSvc)
	paymentH := handler.NewPaymentHandler(paymentSvc)
	healthH := handler.NewHealthHandler(dbPool, redisClient, amqpConn)

	// Worker
	orderWorker := worker.NewOrderWorker(amqpCh, orderRepo, productRepo, redisClient, log)

	// Router
	router := gin.Default()
	router.GET("/healthz", healthH.Healthz)
	router.GET("/readyz", healthH.Readyz)

	auth := middleware.AuthMiddleware(cfg.JWT.Secret)
	optionalAuth := middleware.OptionalAuth(cfg.JWT.Secret)

	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		authGroup.POST("/register", authH.Register)
		authGroup.POST("/login", authH.Login)

		products := v1.Group("/products", optionalAuth)
		products.GET("", productH.List)
		products.GET("/:id", productH.GetByID)

		adminProducts := v1.Group("/products", auth, middleware.AdminOnly())
		adminProducts.POST("", productH.Create)
		adminProducts.PUT("/:id", productH.Update)
		adminProducts.DELETE("/:id", productH.Delete)

		// Guests shop with an X-Session-ID header; logged-in users with a token.
		cart := v1.Group("/cart", optionalAuth)
		cart.GET("", cartH.GetCart)
		cart.POST("/items", cartH.AddItem)
		cart.PUT("/items/:id", cartH.UpdateItem)
		cart.DELETE("/items/:id", cartH.DeleteItem)
		cart.DELETE("", cartH.ClearCart)

		orders := v1.Group("/orders", optionalAuth)
		orders.POST("", orderH.CreateOrder)
		orders.GET("/track/:number", orderH.TrackOrder)

		userOrders := v1.Group("/orders", auth)
		userOrders.GET("", orderH.ListOrders)
		userOrders.GET("/:id", orderH.GetOrder)
		userOrders.POST("/:id/cancel", orderH.CancelOrder)

		payments := v1.Group("/payments", optionalAuth)
		payments.POST("/intent", paymentH.CreateIntent)
		payments.POST("/confirm", paymentH.Confirm)

		// Unauthenticated by design: the HMAC signature is the credential.
		v1.POST("/webhooks/payment", paymentH.Webhook)

		admin := v1.Group("/admin", auth, middleware.AdminOnly())
		admin.GET("/orders", orderH.AdminListOrders)
		admin.GET("/orders/stats", orderH.AdminStats)
		admin.GET("/orders/:id", orderH.AdminGetOrder)
		admin.PUT("/orders/:id/status", orderH.AdminUpdateStatus)
		admin.PUT("/orders/:id/tracking", orderH.AdminUpdateTracking)
		admin.GET("/orders/:id/payments", paymentH.ListByOrder)
		admin.POST("/payments/:id/refund", paymentH.Refund)
	}

	if err := orderWorker.Start(ctx); err != nil {
		log.Error("start order worker", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	orderWorker.Stop()
	time.Sleep(500 * time.Millisecond)
	cancel()
	log.Info("server stopped")
}
