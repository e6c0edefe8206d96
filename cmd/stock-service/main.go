package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/clinicore/clinicore-backend/internal/stock/events"
	"github.com/clinicore/clinicore-backend/internal/stock/handler"
	"github.com/clinicore/clinicore-backend/internal/stock/repository"
	"github.com/clinicore/clinicore-backend/internal/stock/service"
	"github.com/clinicore/clinicore-backend/pkg/batchlock"
	"github.com/clinicore/clinicore-backend/pkg/cache"
	"github.com/clinicore/clinicore-backend/pkg/config"
	"github.com/clinicore/clinicore-backend/pkg/database"
	"github.com/clinicore/clinicore-backend/pkg/httputil"
	"github.com/clinicore/clinicore-backend/pkg/logger"
	"github.com/clinicore/clinicore-backend/pkg/messaging"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("stock-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("stock-service", cfg.Server.Environment)
	log.Info().Msg("starting Stock Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Apply schema migrations
	for _, stmt := range repository.Migrations() {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize event publisher
	publisher, err := events.NewStockEventPublisher(rmq, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	// Optional Redis snapshot cache (disabled when no addr is configured)
	snapshotCache, err := cache.New(&cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer snapshotCache.Close()

	// Initialize repositories
	categoryRepo := repository.NewCategoryRepository(db)
	medicineRepo := repository.NewMedicineRepository(db)
	batchRepo := repository.NewBatchRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	// Initialize service
	locks := batchlock.NewManager()
	stockService := service.NewStockService(
		categoryRepo, medicineRepo, batchRepo, ledgerRepo, notificationRepo,
		publisher, locks, snapshotCache, cfg.Stock, log,
	)

	// Initialize handlers
	categoryHandler := handler.NewCategoryHandler(stockService, log)
	medicineHandler := handler.NewMedicineHandler(stockService, log)
	batchHandler := handler.NewBatchHandler(stockService, log)
	ledgerHandler := handler.NewLedgerHandler(stockService, log)
	availabilityHandler := handler.NewAvailabilityHandler(stockService, log)
	prescriptionHandler := handler.NewPrescriptionHandler(stockService, log)
	notificationHandler := handler.NewNotificationHandler(stockService, log)

	// Start the expiry scanner
	scanner := service.NewExpiryScanner(medicineRepo, batchRepo, notificationRepo, publisher, cfg.Stock, log)
	scheduler := service.NewScanScheduler(scanner, cfg.Stock.ScanInterval, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-User-ID", "X-User-Name", "X-User-Email", "X-User-Role"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(httputil.ActorMiddleware)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "stock-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/stock", func(r chi.Router) {
		// Category routes
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", categoryHandler.List)
			r.Post("/", categoryHandler.Create)
			r.Put("/{id}", categoryHandler.Update)
			r.Delete("/{id}", categoryHandler.Delete)
		})

		// Medicine routes
		r.Route("/medicines", func(r chi.Router) {
			r.Get("/", medicineHandler.List)
			r.Post("/", medicineHandler.Create)
			r.Get("/{id}", medicineHandler.Get)
			r.Put("/{id}", medicineHandler.Update)
			r.Delete("/{id}", medicineHandler.Delete)
			r.Get("/{id}/batches", batchHandler.ListByMedicine)
			r.Post("/{id}/batches", batchHandler.Create)
			r.Get("/{id}/ledger", ledgerHandler.ListByMedicine)
			r.Get("/{id}/availability", availabilityHandler.Get)
			r.Get("/{id}/allocation-plan", availabilityHandler.PlanAllocation)
		})

		// Batch routes
		r.Route("/batches", func(r chi.Router) {
			r.Get("/{id}", batchHandler.Get)
			r.Delete("/{id}", batchHandler.Delete)
			r.Put("/{id}/quantity", batchHandler.CorrectQuantity)
			r.Post("/{id}/reconcile", batchHandler.Reconcile)
			r.Get("/{id}/ledger", ledgerHandler.ListByBatch)
		})

		// Availability overview
		r.Get("/availability", availabilityHandler.Overview)

		// Prescription deduction
		r.Post("/prescriptions", prescriptionHandler.Record)

		// Notification routes
		r.Get("/notifications", notificationHandler.List)
		r.Put("/notifications/{id}/acknowledge", notificationHandler.Acknowledge)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop the scanner
	scheduler.Stop()
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
