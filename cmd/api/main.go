package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tably.app/internal/audit"
	"tably.app/internal/auth"
	"tably.app/internal/config"
	"tably.app/internal/httpapi"
	"tably.app/internal/obs"
)

var version = "0.3.1"

func main() {
	log.SetFlags(0)
	configPath := flag.String("config", os.Getenv("TABLY_CONFIG"), "Path to YAML config")
	flag.Parse()

	obs.Init()
	obs.SetBuildInfo(version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// With a DSN everything is durable in PostgreSQL; without one the
	// service runs fully in-process, which is enough for development
	// and a single point-of-sale terminal.
	var (
		db       *sql.DB
		store    auth.Store
		limiter  auth.Limiter
		eventLog audit.Store
	)
	if cfg.Database.DSN != "" {
		db, err = sql.Open("pgx", cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

		pg := auth.NewPGStore(db)
		store = pg
		limiter = auth.NewStoreLimiter(pg.RateLimits(context.Background()))
		eventLog = audit.NewPGStore(db)
	} else {
		mem := auth.NewMemStore()
		store = mem
		limiter = auth.NewMemoryLimiter()
		eventLog = audit.NewMemStore()
	}

	svc, err := auth.NewService(store, limiter, audit.NewRecorder(eventLog),
		auth.WithAdminTTL(cfg.Sessions.AdminTTL),
		auth.WithStaffTTL(cfg.Sessions.StaffTTL),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	api := httpapi.New(svc, eventLog, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(cfg.Throttle.Burst, cfg.Throttle.PerSecond),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Background purge of stale rate-limit and terminal session rows.
	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.Cleanup.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-cleanupCtx.Done():
				return
			case <-ticker.C:
				if err := svc.Cleanup(cleanupCtx); err != nil {
					obs.LogEntry(map[string]any{
						"ts":    time.Now().UTC().Format(time.RFC3339Nano),
						"level": "warn",
						"msg":   "cleanup_failed",
						"error": err.Error(),
					})
				}
			}
		}
	}()

	log.Printf("Starting tably-auth %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancelCleanup()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
