package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/kioscopos/backend/internal/config"
	"github.com/kioscopos/backend/internal/database"
	"github.com/kioscopos/backend/internal/handlers"
	mW "github.com/kioscopos/backend/internal/middleware"
	"github.com/kioscopos/backend/internal/notifications"
	"github.com/kioscopos/backend/internal/observability/logger"
	"github.com/kioscopos/backend/internal/services"
)

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	viper.ReadInConfig()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	logger.Init(logger.Config{
		Env:   os.Getenv("APP_ENV"),
		Level: os.Getenv("LOG_LEVEL"),
	})
	defer logger.Sync()
	log := logger.L()

	ledgerCfg := config.LoadLedgerConfig()
	notifyCfg := config.LoadNotificationConfig()

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	notifier := notifications.New(notifyCfg, ledgerCfg.StaticDir, ledgerCfg.PublicBaseURL)

	ledgerService := services.NewLedgerService(db, ledgerCfg)
	accountService := services.NewAccountService(db)
	queryService := services.NewAccountQueryService(db, ledgerCfg)
	ticketService := services.NewTicketService(db, ledgerService, notifier)
	notificationHandler := handlers.NewNotificationHandler(db, notifier)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mW.IdempotencyKeyHeader},
		ExposedHeaders:   []string{"Link", "X-Idempotency-Hit"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yaml")
	})

	// Receipt QR images land under static/qr.
	r.Handle("/static/*", http.StripPrefix("/static/",
		mW.StaticFileServer(ledgerCfg.StaticDir)))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)
			r.Use(mW.Idempotency(redisClient, ledgerCfg.IdempotencyTTL))

			r.Route("/customers", func(r chi.Router) {
				r.Post("/", accountService.Register)
				r.Get("/", accountService.List)
				r.Get("/search", accountService.Search)
				r.Get("/{id}", accountService.Get)
				r.Put("/{id}", accountService.Update)

				r.Get("/{id}/balance", queryService.BalanceEnquiry)
				r.Get("/{id}/movements", queryService.ListMovements)
				r.Get("/{id}/statement", queryService.Statement)
				r.Get("/{id}/pending-tickets", queryService.PendingTickets)

				r.Post("/{id}/payments", ledgerService.RegisterPayment)
				r.Post("/{id}/deliveries", ledgerService.RegisterPartialDelivery)
				r.Post("/{id}/settle", ledgerService.SettleAccount)
				r.Post("/{id}/tickets", ledgerService.HandleAssociateTicket)
			})

			r.Route("/tickets", func(r chi.Router) {
				r.Post("/", ticketService.CreateTicket)
				r.Get("/", ticketService.ListTickets)
				r.Get("/unassigned", ticketService.UnassignedTickets)
				r.Get("/{id}", ticketService.GetTicket)
				r.Post("/{id}/send", notificationHandler.SendReceipt)
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}
	log.Info("server stopped")
}
