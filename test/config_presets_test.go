package test

import (
	"testing"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
)

func TestDefaultConfigPresetValidates(t *testing.T) {
	cfg := goGuard.DefaultConfig()

	if len(cfg.JWT.PrivateKey) != 0 {
		t.Fatal("expected preset to ship without a signing key")
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected preset without a signing key to fail validation")
	}

	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected preset to validate, got %v", err)
	}
}

func TestDefaultPoliciesPreset(t *testing.T) {
	cfg := goGuard.DefaultConfig()

	for _, name := range []string{
		goGuard.PolicyGlobal,
		goGuard.PolicyAuthenticated,
		goGuard.PolicyStrict,
		goGuard.PolicyOTPSend,
		goGuard.PolicyOTPVerify,
		goGuard.PolicyTokenRefresh,
	} {
		p, ok := cfg.RateLimit.Policies[name]
		if !ok {
			t.Fatalf("missing policy %s", name)
		}
		if p.Limit <= 0 || p.Window <= 0 {
			t.Fatalf("policy %s must have a positive limit and window", name)
		}
	}
	if cfg.RateLimit.Policies[goGuard.PolicyStrict].FailOpen {
		t.Fatal("expected strict policy to fail closed")
	}
}

func TestProductionPresetValidates(t *testing.T) {
	cfg := goGuard.DefaultConfig()
	cfg.ProductionMode = true
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected production preset to validate, got %v", err)
	}

	cfg.JWT.AccessTTL = time.Hour
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected production mode to reject long access tokens")
	}
}
