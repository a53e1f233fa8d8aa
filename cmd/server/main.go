package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phonelink/server/internal/config"
	"github.com/phonelink/server/internal/handlers"
	custommw "github.com/phonelink/server/internal/middleware"
	"github.com/phonelink/server/internal/observability"
	"github.com/phonelink/server/internal/repository"
	"github.com/phonelink/server/internal/services"
)

const serviceVersion = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize telemetry
	ctx := context.Background()
	telemetry, err := observability.Initialize(ctx, observability.NewConfig("phonelink-server", serviceVersion))
	if err != nil {
		log.Printf("Warning: telemetry initialization failed: %v", err)
	}

	// Initialize database
	var db *sql.DB
	if cfg.UsePostgres() {
		log.Println("Using PostgreSQL database")
		db, err = repository.NewPostgresDB(cfg.DatabaseURL)
	} else {
		log.Println("Using SQLite database")
		db, err = repository.NewSQLiteDB(cfg.DatabasePath)
	}
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Repositories run through the traced wrapper so every query carries a
	// span and feeds the db.query.* instruments. Falls back to the bare
	// connection when the meter provider is unavailable.
	var store repository.DB = db
	if tracedDB, terr := observability.NewTraceDB(db); terr != nil {
		log.Printf("Warning: database tracing disabled: %v", terr)
	} else {
		store = tracedDB
	}

	userRepo := repository.NewUserRepository(store)
	deviceRepo := repository.NewDeviceRepository(store)
	pairingRepo := repository.NewPairingRepository(store)
	contactRepo := repository.NewContactRepository(store)
	messageRepo := repository.NewMessageRepository(store)
	keyExchangeRepo := repository.NewKeyExchangeRepository(store)

	// Metrics (nil when the meter provider is unavailable)
	syncMetrics, err := observability.NewSyncMetrics()
	if err != nil {
		log.Printf("Warning: metrics initialization failed: %v", err)
		syncMetrics = nil
	}
	httpMetrics, err := observability.NewHTTPMetrics()
	if err != nil {
		log.Printf("Warning: HTTP metrics initialization failed: %v", err)
	}

	// Realtime layer comes up first so the session tracker can push
	// connection-level frames through it.
	hub := services.NewHub(time.Duration(cfg.Realtime.HeartbeatSeconds)*time.Second, cfg.Realtime.SendBufferSize)
	go hub.Run()

	// Core services
	tokenService := services.NewTokenService([]byte(cfg.Auth.JWTSecret), cfg.AccessTTL(), cfg.RefreshTTL())
	sessionTracker := services.NewSessionTracker(cfg.SessionTimeout(),
		func(userID string) {
			// Idle session swept: close the user's live connections so the
			// clients notice and re-authenticate.
			hub.DisconnectUser(userID)
		},
		func(userID string) {
			hub.SendToUser(userID, services.WSMessage{Type: services.WSTypeRefreshDue})
		},
	)
	identityService := services.NewIdentityService(userRepo, deviceRepo, messageRepo, contactRepo)
	cleanupService := services.NewCleanupService(
		userRepo, deviceRepo, pairingRepo, keyExchangeRepo,
		time.Duration(cfg.Cleanup.KeyRetentionDays)*24*time.Hour,
		time.Duration(cfg.Cleanup.IdleDeviceDays)*24*time.Hour,
		time.Duration(cfg.Cleanup.OrphanMinAgeMinutes)*time.Minute,
		time.Duration(cfg.Cleanup.IntervalMinutes)*time.Minute,
	)
	pairingService := services.NewPairingService(pairingRepo, deviceRepo, userRepo, cleanupService, cfg.PairingTTL())

	// Optional push sink
	var pushService *services.PushService
	if cfg.Push.Enabled {
		pushService, err = services.NewPushService(cfg.Push.CredentialsPath, deviceRepo)
		if err != nil {
			log.Printf("Warning: push service disabled: %v", err)
			pushService = nil
		}
	}

	notifier := services.NewChangeNotifier(hub, pushService, syncMetrics)
	deviceService := services.NewDeviceService(deviceRepo)
	contactSync := services.NewContactSyncService(contactRepo, notifier)
	messageService := services.NewMessageService(messageRepo, notifier)
	keyExchangeService := services.NewKeyExchangeService(keyExchangeRepo, deviceRepo, notifier)

	// Background loops
	sessionTracker.Start(time.Minute)
	defer sessionTracker.Stop()
	cleanupService.Start()
	defer cleanupService.Stop()

	// Handlers
	authHandler := handlers.NewAuthHandler(identityService, tokenService, sessionTracker, syncMetrics)
	pairingHandler := handlers.NewPairingHandler(pairingService, tokenService, syncMetrics)
	deviceHandler := handlers.NewDeviceHandler(deviceService)
	contactHandler := handlers.NewContactHandler(contactSync, syncMetrics)
	messageHandler := handlers.NewMessageHandler(messageService)
	keyExchangeHandler := handlers.NewKeyExchangeHandler(keyExchangeService)
	wsHandler := handlers.NewWebSocketHandler(hub, deviceService, syncMetrics)
	healthHandler := handlers.NewHealthHandler(hub, cleanupService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.TracingMiddleware("phonelink-server"))
	if httpMetrics != nil {
		r.Use(observability.MetricsMiddleware(httpMetrics))
	}

	bearerAuth := custommw.BearerAuth(tokenService, sessionTracker)

	// Routes
	r.Get("/health", healthHandler.HealthCheck)
	r.Get("/health/status", healthHandler.Status)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/resolve", authHandler.Resolve)
		r.Post("/refresh", authHandler.Refresh)
		r.Group(func(r chi.Router) {
			r.Use(bearerAuth)
			r.Post("/recovery-code", authHandler.IssueRecoveryCode)
			r.Post("/signout", authHandler.SignOut)
		})
	})

	r.Route("/api/pairing", func(r chi.Router) {
		r.Use(bearerAuth)
		r.Post("/", pairingHandler.Create)
		r.Post("/approve", pairingHandler.Approve)
		r.Post("/redeem", pairingHandler.Redeem)
	})

	r.Route("/api/devices", func(r chi.Router) {
		r.Use(bearerAuth)
		r.Get("/", deviceHandler.ListDevices)
		r.Post("/", deviceHandler.RegisterDevice)
		r.Put("/{id}/push-token", deviceHandler.UpdatePushToken)
		r.Delete("/{id}", deviceHandler.DeleteDevice)
	})

	r.Route("/api/contacts", func(r chi.Router) {
		r.Use(bearerAuth)
		r.Get("/", contactHandler.ListContacts)
		r.Post("/sync", contactHandler.SyncContacts)
		r.Delete("/{id}", contactHandler.DeleteContact)
	})

	r.Route("/api/messages", func(r chi.Router) {
		r.Use(bearerAuth)
		r.Get("/", messageHandler.ListMessages)
		r.Post("/", messageHandler.ReportMessage)
	})

	r.Route("/api/keys", func(r chi.Router) {
		r.Use(bearerAuth)
		r.Post("/request", keyExchangeHandler.RequestExchange)
		r.Post("/respond", keyExchangeHandler.RespondExchange)
		r.Get("/pending", keyExchangeHandler.ListPending)
		r.Get("/fulfilled", keyExchangeHandler.ListFulfilled)
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth)
		r.Get("/ws", wsHandler.HandleConnection)
	})

	// Create server
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("PhoneLink Server starting on %s", cfg.ServerAddress)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			log.Printf("Telemetry shutdown error: %v", err)
		}
	}

	log.Println("Server stopped")
}
