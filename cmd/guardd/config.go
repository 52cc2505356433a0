package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

// settings is the process configuration read from the environment.
type settings struct {
	Addr            string
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	JWTSecret       string
	AdminToken      string
	Production      bool
	TrustProxy      bool
	LogLevel        slog.Level
	SMSWebhookURL   string
	EventStream     string
	ShutdownTimeout time.Duration
}

func loadSettings(getenv func(string) string) (settings, error) {
	s := settings{
		Addr:            envOr(getenv, "GUARD_ADDR", ":8080"),
		DatabaseURL:     getenv("DATABASE_URL"),
		RedisAddr:       envOr(getenv, "REDIS_ADDR", "localhost:6379"),
		RedisPassword:   getenv("REDIS_PASSWORD"),
		JWTSecret:       getenv("JWT_SECRET"),
		AdminToken:      getenv("ADMIN_TOKEN"),
		SMSWebhookURL:   getenv("GUARD_SMS_WEBHOOK_URL"),
		EventStream:     getenv("GUARD_EVENT_STREAM"),
		ShutdownTimeout: 10 * time.Second,
	}

	var err error
	if s.Production, err = envBool(getenv, "GUARD_PRODUCTION"); err != nil {
		return settings{}, err
	}
	if s.TrustProxy, err = envBool(getenv, "GUARD_TRUST_PROXY"); err != nil {
		return settings{}, err
	}
	if err := s.LogLevel.UnmarshalText([]byte(envOr(getenv, "GUARD_LOG_LEVEL", "info"))); err != nil {
		return settings{}, fmt.Errorf("GUARD_LOG_LEVEL: %w", err)
	}

	if s.DatabaseURL == "" {
		return settings{}, errors.New("DATABASE_URL is required")
	}
	if s.JWTSecret == "" {
		return settings{}, errors.New("JWT_SECRET is required")
	}
	if s.Production && s.SMSWebhookURL == "" {
		return settings{}, errors.New("GUARD_SMS_WEBHOOK_URL is required in production")
	}
	return s, nil
}

// engineConfig maps settings onto the engine defaults.
func (s settings) engineConfig() goGuard.Config {
	cfg := goGuard.DefaultConfig()
	cfg.ProductionMode = s.Production
	cfg.JWT.PrivateKey = []byte(s.JWTSecret)
	cfg.Security.TrustProxyHeaders = s.TrustProxy
	return cfg
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := strings.TrimSpace(getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(getenv func(string) string, key string) (bool, error) {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

