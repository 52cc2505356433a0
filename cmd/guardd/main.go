// Command guardd serves OTP login, refresh token rotation and the security
// event admin API over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/internal/httpapi"
	"github.com/MrEthical07/goGuard/internal/sweeper"
	"github.com/MrEthical07/goGuard/store/postgres"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	s, err := loadSettings(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: s.LogLevel}))
	slog.SetDefault(logger)

	if err := run(s, logger); err != nil {
		logger.Error("guardd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(s settings, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, s.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     s.RedisAddr,
		Password: s.RedisPassword,
	})
	defer rdb.Close()

	var sender goGuard.CodeSender = goGuard.LogSender{Logger: logger}
	if s.SMSWebhookURL != "" {
		sender = newWebhookSender(s.SMSWebhookURL)
	}

	builder := goGuard.New().
		WithConfig(s.engineConfig()).
		WithRedis(rdb).
		WithStores(db).
		WithSender(sender).
		WithLogger(logger)
	if s.EventStream != "" {
		builder.WithPublisher(goGuard.NewRedisStreamPublisher(rdb, s.EventStream, 100000))
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	for _, w := range engine.SecurityReport().Warnings {
		logger.Warn("security posture", slog.String("warning", w))
	}

	cfg := engine.Config()
	go sweeper.New(engine, cfg.Retention.SweepInterval, logger).Run(ctx)

	api := httpapi.New(engine, httpapi.Options{
		AdminToken: s.AdminToken,
		Logger:     logger,
	})
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("guardd listening", slog.String("addr", s.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
