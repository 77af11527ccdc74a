package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xelth-com/posync/internal/config"
	"github.com/xelth-com/posync/internal/database"
	"github.com/xelth-com/posync/internal/handlers"
	"github.com/xelth-com/posync/internal/middleware"
	"github.com/xelth-com/posync/internal/store"
	"github.com/xelth-com/posync/internal/sync"
	"github.com/xelth-com/posync/internal/websocket"
)

func main() {
	log := config.GetLogger()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	config.ConfigureLogger(cfg.Log)

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema
	log.Info("Synchronizing database schema...")
	st := store.New(db.DB)
	if err := st.Migrate(); err != nil {
		log.Fatalf("Failed to migrate store: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	hub := websocket.NewHub()
	go hub.Run(ctx)

	// 4. Push serialization: Redis when configured, in-process otherwise
	var (
		lock    sync.PushLock
		limiter *middleware.RateLimiter
		rdb     *redis.Client
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Warn("Redis unavailable, falling back to in-process push lock")
			rdb.Close()
			rdb = nil
		}
	}
	if rdb != nil {
		lock = sync.NewRedisPushLock(rdb, 30*time.Second, 30*time.Second)
		limiter = middleware.NewRateLimiter(rdb, 600, time.Minute)
		log.WithField("addr", cfg.RedisAddr).Info("Using Redis push lock and rate limiter")
	} else {
		lock = sync.NewLocalPushLock()
	}

	pushes := sync.NewPushService(db.DB, sync.NewReconciler(st), lock, hub)
	if err := pushes.Migrate(); err != nil {
		log.Fatalf("Failed to migrate sync tables: %v", err)
	}
	log.Info("Schema synchronized successfully")

	// 5. Set up HTTP router
	router := handlers.NewRouter(st, pushes, hub, handlers.Options{
		JWTSecret:   cfg.JWTSecret,
		RateLimiter: limiter,
	})

	// 6. Start server with graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Infof("Server (%s) starting on port %s", cfg.NodeEnv, cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Warnf("Received signal: %v. Shutting down gracefully...", sig)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown error")
	}
	stop()

	if rdb != nil {
		rdb.Close()
	}

	// Close database (this also stops embedded PostgreSQL)
	log.Info("Closing database connection...")
	if err := db.Close(); err != nil {
		log.WithError(err).Error("Database close error")
	}

	log.Info("Shutdown complete")
}
