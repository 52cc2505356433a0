package main

import (
	"log/slog"
	"strings"
	"testing"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := loadSettings(envMap(map[string]string{
		"DATABASE_URL": "postgres://localhost/guard",
		"JWT_SECRET":   "0123456789abcdef0123456789abcdef",
	}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if s.Addr != ":8080" || s.RedisAddr != "localhost:6379" {
		t.Fatalf("unexpected defaults %+v", s)
	}
	if s.LogLevel != slog.LevelInfo || s.Production {
		t.Fatalf("unexpected defaults %+v", s)
	}

	cfg := s.engineConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("engine config invalid: %v", err)
	}
	if string(cfg.JWT.PrivateKey) != "0123456789abcdef0123456789abcdef" {
		t.Fatalf("jwt secret not applied")
	}
}

func TestLoadSettingsErrors(t *testing.T) {
	base := map[string]string{
		"DATABASE_URL": "postgres://localhost/guard",
		"JWT_SECRET":   "secret",
	}
	cases := []struct {
		name string
		set  map[string]string
		want string
	}{
		{"missing database", map[string]string{"DATABASE_URL": ""}, "DATABASE_URL"},
		{"missing secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET"},
		{"bad production flag", map[string]string{"GUARD_PRODUCTION": "maybe"}, "GUARD_PRODUCTION"},
		{"bad log level", map[string]string{"GUARD_LOG_LEVEL": "loud"}, "GUARD_LOG_LEVEL"},
		{"production without sms", map[string]string{"GUARD_PRODUCTION": "true"}, "GUARD_SMS_WEBHOOK_URL"},
	}
	for _, c := range cases {
		env := make(map[string]string, len(base))
		for k, v := range base {
			env[k] = v
		}
		for k, v := range c.set {
			env[k] = v
		}
		_, err := loadSettings(envMap(env))
		if err == nil || !strings.Contains(err.Error(), c.want) {
			t.Fatalf("%s: expected error mentioning %s, got %v", c.name, c.want, err)
		}
	}
}

func TestLoadSettingsProduction(t *testing.T) {
	s, err := loadSettings(envMap(map[string]string{
		"DATABASE_URL":          "postgres://localhost/guard",
		"JWT_SECRET":            "0123456789abcdef0123456789abcdef",
		"GUARD_PRODUCTION":      "true",
		"GUARD_TRUST_PROXY":     "1",
		"GUARD_LOG_LEVEL":       "debug",
		"GUARD_SMS_WEBHOOK_URL": "https://sms.example.com/hook",
	}))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !s.Production || !s.TrustProxy || s.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected settings %+v", s)
	}
	cfg := s.engineConfig()
	if !cfg.ProductionMode || !cfg.Security.TrustProxyHeaders {
		t.Fatalf("settings not applied to engine config")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("production config invalid: %v", err)
	}
}
