package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cfhttp "github.com/Strob0t/CoachForge/internal/adapter/http"
	cfotel "github.com/Strob0t/CoachForge/internal/adapter/otel"
	"github.com/Strob0t/CoachForge/internal/config"
	"github.com/Strob0t/CoachForge/internal/logger"
	"github.com/Strob0t/CoachForge/internal/middleware"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"log_level", cfg.Logging.Level,
		"l2_cache", cfg.Cache.L2Backend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTel, err := cfotel.Init(ctx, cfg.OTel, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()

	// --- Infrastructure and services ---

	a, err := buildApp(ctx, cfg, buildOptions{migrate: true, queue: true})
	if err != nil {
		return err
	}
	defer a.close()

	if cfg.Seed.ApplyOnStart {
		rep, err := a.applySeed(ctx, false)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		slog.Info("seed checked", "inserted", len(rep.Changes), "unchanged", rep.Unchanged)
	}

	if a.triggers != nil {
		cancelTriggers, err := a.triggers.Start(ctx)
		if err != nil {
			return fmt.Errorf("trigger consumer: %w", err)
		}
		defer cancelTriggers()
	} else {
		slog.Warn("nats not configured; onboarding triggers are only accepted through the admin command")
	}

	// --- HTTP ---

	handlers := &cfhttp.Handlers{
		Definitions: a.definitions,
		Agents:      a.regs.Agents,
		Workflows:   a.executor,
		Lister:      a.store,
		Drafts:      a.drafts,
		Checks:      a.checks,
		Breakers:    a.router.BreakerStates,
	}
	if a.triggers != nil {
		handlers.Triggers = a.triggers
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimitBurst > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
		stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
		defer stopCleanup()
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr: addr,
		Handler: cfhttp.NewRouter(handlers, cfhttp.RouterOptions{
			ServiceName:    cfg.Logging.Service,
			TriggerLimiter: limiter,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
