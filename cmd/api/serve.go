package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/geocoder89/wascheduler/internal/auth"
	"github.com/geocoder89/wascheduler/internal/cache"
	"github.com/geocoder89/wascheduler/internal/config"
	"github.com/geocoder89/wascheduler/internal/db"
	httpx "github.com/geocoder89/wascheduler/internal/http"
	"github.com/geocoder89/wascheduler/internal/http/handlers"
	"github.com/geocoder89/wascheduler/internal/http/middlewares"
	"github.com/geocoder89/wascheduler/internal/notifications"
	"github.com/geocoder89/wascheduler/internal/observability"
	"github.com/geocoder89/wascheduler/internal/redisclient"
	"github.com/geocoder89/wascheduler/internal/repo/postgres"
	"github.com/geocoder89/wascheduler/internal/security"
	"github.com/geocoder89/wascheduler/internal/service/authsvc"
	"github.com/geocoder89/wascheduler/internal/service/scheduling"
	"github.com/geocoder89/wascheduler/internal/whatsapp"
	"github.com/geocoder89/wascheduler/internal/whatsapp/rodlinker"
)

const shutdownTimeout = 10 * time.Second

func runServe(parent context.Context) error {
	cfg := config.Load()

	log := observability.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
		Environment: cfg.Env,
	})
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	pool, err := db.NewPool(ctx, cfg.DBURL, db.WithMaxConns(cfg.DBMaxConns))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := observability.NewProm(reg)

	checks := map[string]handlers.Check{"postgres": pool.Ping}

	var rateStore middlewares.WindowStore
	if cfg.RedisAddr != "" {
		rc := redisclient.New(redisclient.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rc.Close()

		if err := rc.Ping(ctx); err != nil {
			log.Warn("redis unreachable, rate limits fail open until it recovers", "addr", cfg.RedisAddr, "err", err)
		}
		rateStore = rc.WindowStore(observability.ServiceName + ":ratelimit")
		checks["redis"] = rc.Ping
	}

	mailer, err := buildNotifier(cfg, log, prom)
	if err != nil {
		return err
	}

	authSvc := authsvc.New(authsvc.Deps{
		Users:         postgres.NewUsersRepo(pool, prom),
		Tokens:        auth.NewManager(cfg.JWTSecret, cfg.SessionTTL, cfg.VerifyTTL),
		Passwords:     security.NewHasher(bcrypt.DefaultCost),
		Mailer:        mailer,
		PublicBaseURL: cfg.PublicBaseURL,
		Log:           log,
	})

	registry := whatsapp.NewRegistry(log, prom)
	prom.RegisterSessionGauges(registry.Len, registry.ReadyCount)

	var qrOut io.Writer
	if cfg.IsDev() {
		qrOut = os.Stdout
	}
	linker := rodlinker.New(rodlinker.Config{
		SessionDir:  cfg.WhatsAppSessionDir,
		ChromeBin:   cfg.WhatsAppChromeBin,
		DebuggerURL: cfg.WhatsAppDebuggerURL,
		Headless:    cfg.WhatsAppHeadless,
		QROut:       qrOut,
	}, log)

	schedSvc := scheduling.New(scheduling.Deps{
		Registry: registry,
		Linker:   linker,
		Messages: postgres.NewScheduledMessagesRepo(pool, prom),
		Metrics:  prom,
		Log:      log,
	})

	router := httpx.NewRouter(httpx.Deps{
		Config:     cfg,
		Log:        log,
		Auth:       authSvc,
		Scheduling: schedSvc,
		Prom:       prom,
		Gatherer:   reg,
		RateStore:  rateStore,
		QRCache:    cache.New[[]byte](time.Minute, 256),
		Checks:     checks,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return registry.Run(gctx)
	})

	g.Go(func() error {
		log.Info("server starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down")

		sctx, cancel := config.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
		}
		if err := schedSvc.Shutdown(sctx); err != nil {
			log.Error("close whatsapp sessions", "err", err)
		}
		if err := shutdownTracer(sctx); err != nil {
			log.Error("flush traces", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "err", err)
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// buildNotifier picks SMTP when a relay is configured and the log otherwise;
// either way sends go through the breaker and the rate limit.
func buildNotifier(cfg config.Config, log *slog.Logger, metrics notifications.Metrics) (notifications.Notifier, error) {
	var inner notifications.Notifier

	if cfg.MailConfigured() {
		smtp, err := notifications.NewSMTPNotifier(notifications.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("smtp notifier: %w", err)
		}
		inner = smtp
	} else {
		log.Warn("SMTP_HOST not set, verification links are only logged at debug level", "env", cfg.Env)
		inner = notifications.NewLogNotifier(log)
	}

	return notifications.NewProtectedNotifier(inner, notifications.ProtectedNotifierConfig{
		Timeout:    15 * time.Second,
		RatePerSec: cfg.MailRatePerSec,
		Burst:      cfg.MailBurst,
	}, metrics), nil
}
