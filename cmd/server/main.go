package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rounds/internal/config"
	"rounds/internal/handlers"
	"rounds/internal/logging"
	"rounds/internal/services"
	"rounds/internal/storage"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Rounds Daemon...")

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Load configuration: environment first, then config.json from the data dir
	cfg := config.Load()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("❌ Failed to create data dir %s: %v", cfg.DataDir, err)
	}
	if err := cfg.ApplyFile(); err != nil {
		log.Fatalf("❌ Failed to load config.json: %v", err)
	}
	log.Printf("📋 Configuration loaded (addr: %s, storage: %s, data dir: %s)", cfg.Addr(), cfg.StorageDriver, cfg.DataDir)

	// Open local storage
	kv, err := openStorage(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to open %s storage: %v", cfg.StorageDriver, err)
	}
	defer kv.Close()

	// Initialize services
	backend := services.NewRoundsBackend(kv, services.RoundsBackendConfig{
		DefaultWard: cfg.DefaultWard,
	})
	log.Printf("✅ Rounds backend initialized (default ward: %s)", cfg.DefaultWard)

	sessionStore, err := services.NewSessionStore(kv, services.SessionConfig{
		MaxBytes:      cfg.SessionMaxBytes,
		CheckedTTL:    cfg.CheckedTTL,
		UncheckedTTL:  cfg.UncheckedTTL,
		SweepInterval: cfg.SweepInterval,
	})
	if err != nil {
		log.Fatalf("❌ Failed to initialize session store: %v", err)
	}
	defer sessionStore.Close()

	directory := services.NewClinicianDirectory(kv)
	log.Println("✅ Clinician directory initialized")

	services.InitMetrics(backend, sessionStore)
	log.Println("📊 Metrics initialized")

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Rounds Daemon v1.0",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BodyLimit:    10 * 1024 * 1024, // whole record sets arrive in one POST
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("rounds")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// The daemon binds to loopback; the extension talks to it cross-origin
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(backend)
	roundsHandler := handlers.NewRoundsHandler(backend)
	sessionHandler := handlers.NewSessionHandler(sessionStore)
	clinicianHandler := handlers.NewClinicianHandler(directory)

	// Routes
	app.Get("/health", healthHandler.Handle)

	app.Get("/rounds/patients", roundsHandler.ListPatients)
	app.Post("/rounds/patients", roundsHandler.SavePatients)
	app.Post("/rounds/patients/quick_add", roundsHandler.QuickAdd)

	app.Get("/rounds/clinicians", clinicianHandler.List)
	app.Post("/rounds/clinicians", clinicianHandler.Upsert)
	app.Delete("/rounds/clinicians/:id", clinicianHandler.Remove)
	app.Post("/rounds/clinicians/resolve", clinicianHandler.Resolve)

	app.Get("/rounds/sessions", sessionHandler.List)
	app.Post("/rounds/sessions", sessionHandler.Save)
	app.Post("/rounds/sessions/:id/check", sessionHandler.MarkComplete)
	app.Post("/rounds/sessions/:id/uncheck", sessionHandler.UnmarkComplete)
	app.Delete("/rounds/sessions/:id", sessionHandler.Delete)
	app.Delete("/rounds/sessions", sessionHandler.DeleteAll)
	app.Post("/rounds/storage/cleanup", sessionHandler.Cleanup)
	app.Get("/rounds/storage/stats", sessionHandler.StorageStats)

	// Start server
	log.Printf("✅ Daemon ready on %s", cfg.Addr())
	log.Printf("📡 Health check: http://%s/health", cfg.Addr())
	log.Printf("🏥 Patient API: http://%s/rounds/patients", cfg.Addr())
	log.Printf("🕐 Session retention sweep every %s", cfg.SweepInterval)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("\n🛑 Shutting down daemon...")

		// Stop the retention sweep first
		if err := sessionStore.Close(); err != nil {
			log.Printf("⚠️ Error stopping session store: %v", err)
		}

		// Shutdown Fiber
		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	if err := app.Listen(cfg.Addr()); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}

// openStorage picks the KV driver from configuration. Drivers enforce no byte
// budget at this level; the session store carries its own quota policy.
func openStorage(cfg *config.Config) (storage.KV, error) {
	switch cfg.StorageDriver {
	case "memory":
		return storage.NewMemoryKV(0), nil
	case "file":
		return storage.NewFileKV(cfg.DataDir, 0)
	case "sqlite":
		return storage.NewSQLiteKV(cfg.SQLitePath(), 0)
	case "redis":
		return storage.NewRedisKV(cfg.RedisURL, 0)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
