package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-cmcd/internal/collector"
	"hls-cmcd/internal/platform/config"
	"hls-cmcd/internal/platform/logger"
	"hls-cmcd/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	var cfg config.ServerConfig
	if err := config.ParseEnv(&cfg); err != nil {
		logger.New("error", "json").Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	repo := collector.NewInMemoryRepository(cfg.ReportWindow,
		collector.WithMaxSessions(cfg.MaxSessions),
		collector.WithIdleTimeout(cfg.SessionIdleTimeout),
	)
	svc := collector.NewService(repo, collector.DefaultRecentReports)
	met := metrics.New()
	h := collector.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met, "/metrics"))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(svc.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r, cfg.MediaRootPath)

	addr := ":" + cfg.Port
	srv := &http.Server{Addr: addr, Handler: r}

	pruneCtx, stopPrune := context.WithCancel(context.Background())
	defer stopPrune()
	go pruneSessions(pruneCtx, svc, cfg.SessionIdleTimeout, log)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("collector starting",
		"port", cfg.Port,
		"media_root", cfg.MediaRootPath,
		"report_window_size", cfg.ReportWindow,
		"max_sessions", cfg.MaxSessions,
		"session_idle_timeout", cfg.SessionIdleTimeout.String(),
		"log_level", cfg.LogLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("collector stopped")
}

// pruneSessions drops idle sessions every half idle timeout until ctx is done.
func pruneSessions(ctx context.Context, svc *collector.Service, idleTimeout time.Duration, log *slog.Logger) {
	interval := idleTimeout / 2
	if interval <= 0 {
		interval = collector.DefaultIdleTimeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.Prune(); n > 0 {
				log.Info("pruned idle sessions", "count", n)
			}
		}
	}
}
