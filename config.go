package goGuard

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/goGuard/internal/phone"
)

// Config is the complete goGuard configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	RateLimit      RateLimitConfig
	Idempotency    IdempotencyConfig
	OTP            OTPConfig
	Tokens         TokenConfig
	JWT            JWTConfig
	Security       SecurityConfig
	Audit          AuditConfig
	Metrics        MetricsConfig
	Retention      RetentionConfig
	ProductionMode bool
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// Built-in policy names.
const (
	PolicyGlobal        = "global"
	PolicyAuthenticated = "authenticated"
	PolicyStrict        = "strict"
	PolicyOTPSend       = "otp_send"
	PolicyOTPVerify     = "otp_verify"
	PolicyTokenRefresh  = "token_refresh"
)

// Policy is a named fixed-window budget. FailOpen decides what happens
// when the counter backend is unreachable.
type Policy struct {
	Name     string
	Limit    int
	Window   time.Duration
	FailOpen bool
}

// RateLimitConfig holds the policy table and the exemptions applied by
// the HTTP middleware.
type RateLimitConfig struct {
	RedisPrefix string
	Policies    map[string]Policy
	ExemptPaths []string
}

/*
====================================
IDEMPOTENCY CONFIG
====================================
*/

// IdempotencyConfig controls response caching for mutating requests.
type IdempotencyConfig struct {
	RedisPrefix          string
	RecordTTL            time.Duration
	LockTTL              time.Duration
	MaxResponseBodyBytes int
	MaxRequestBodyBytes  int64
	MaxKeyLength         int
	ReplayHeaders        []string
}

/*
====================================
OTP CONFIG
====================================
*/

// CodeHashConfig carries argon2id cost parameters for stored OTP hashes.
type CodeHashConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// OTPConfig controls one-time-code issuance and verification.
type OTPConfig struct {
	CodeDigits         int
	CodeTTL            time.Duration
	MaxAttempts        int
	LockoutDuration    time.Duration
	ResendCooldown     time.Duration
	PhoneHourlyLimit   int
	IPHourlyLimit      int
	DefaultCountryCode string
	DefaultPurpose     string
	DefaultChannel     string
	Hash               CodeHashConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls refresh-token lifetime and the access-token
// revocation list.
type TokenConfig struct {
	RefreshTTL       time.Duration
	RevocationPrefix string
}

// JWTConfig controls access-token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig controls client identity extraction and event recording.
type SecurityConfig struct {
	TrustProxyHeaders bool
	RecordTimeout     time.Duration
}

// AuditConfig controls asynchronous publishing of recorded events.
type AuditConfig struct {
	Enabled      bool
	BufferSize   int
	DropIfFull   bool
	MaxAttempts  int
	RetryBackoff time.Duration
}

// MetricsConfig toggles in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// RetentionConfig controls Sweep.
type RetentionConfig struct {
	VerifiedOTPRetention   time.Duration
	RefreshRetention       time.Duration
	ResolvedEventRetention time.Duration
	SweepInterval          time.Duration
}

// DefaultConfig returns development defaults. JWT keys are empty and must
// be supplied before Build.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		RateLimit: RateLimitConfig{
			RedisPrefix: "grl",
			Policies:    defaultPolicies(),
			ExemptPaths: []string{"/healthz", "/health", "/readyz", "/docs", "/swagger", "/metrics"},
		},
		Idempotency: IdempotencyConfig{
			RedisPrefix:          "gidem",
			RecordTTL:            24 * time.Hour,
			LockTTL:              10 * time.Second,
			MaxResponseBodyBytes: 1 << 20,
			MaxRequestBodyBytes:  1 << 20,
			MaxKeyLength:         255,
			ReplayHeaders:        []string{"Content-Type", "Content-Language", "Location", "ETag", "Cache-Control"},
		},
		OTP: OTPConfig{
			CodeDigits:         6,
			CodeTTL:            2 * time.Minute,
			MaxAttempts:        5,
			LockoutDuration:    15 * time.Minute,
			ResendCooldown:     60 * time.Second,
			PhoneHourlyLimit:   5,
			IPHourlyLimit:      20,
			DefaultCountryCode: "98",
			DefaultPurpose:     "login",
			DefaultChannel:     "sms",
			Hash: CodeHashConfig{
				Memory:      19 * 1024,
				Time:        2,
				Parallelism: 1,
				SaltLength:  16,
				KeyLength:   32,
			},
		},
		Tokens: TokenConfig{
			RefreshTTL:       30 * 24 * time.Hour,
			RevocationPrefix: "grev",
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "hs256",
			Issuer:        "goguard",
		},
		Security: SecurityConfig{
			RecordTimeout: 2 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:      true,
			BufferSize:   1024,
			DropIfFull:   true,
			MaxAttempts:  3,
			RetryBackoff: 100 * time.Millisecond,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Retention: RetentionConfig{
			VerifiedOTPRetention:   24 * time.Hour,
			RefreshRetention:       30 * 24 * time.Hour,
			ResolvedEventRetention: 90 * 24 * time.Hour,
			SweepInterval:          10 * time.Minute,
		},
	}
}

func defaultPolicies() map[string]Policy {
	list := []Policy{
		{Name: PolicyGlobal, Limit: 300, Window: time.Minute, FailOpen: true},
		{Name: PolicyAuthenticated, Limit: 600, Window: time.Minute, FailOpen: true},
		{Name: PolicyStrict, Limit: 10, Window: time.Minute},
		{Name: PolicyOTPSend, Limit: 5, Window: time.Minute},
		{Name: PolicyOTPVerify, Limit: 10, Window: time.Minute},
		{Name: PolicyTokenRefresh, Limit: 30, Window: time.Minute},
	}
	out := make(map[string]Policy, len(list))
	for _, p := range list {
		out[p.Name] = p
	}
	return out
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.RateLimit.Policies != nil {
		out.RateLimit.Policies = make(map[string]Policy, len(cfg.RateLimit.Policies))
		for k, v := range cfg.RateLimit.Policies {
			out.RateLimit.Policies[k] = v
		}
	}
	out.RateLimit.ExemptPaths = append([]string(nil), cfg.RateLimit.ExemptPaths...)
	out.Idempotency.ReplayHeaders = append([]string(nil), cfg.Idempotency.ReplayHeaders...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration error.
func (c *Config) Validate() error {
	// Rate limit
	if len(c.RateLimit.Policies) == 0 {
		return errors.New("RateLimit Policies must not be empty")
	}
	for name, p := range c.RateLimit.Policies {
		if p.Name != name {
			return fmt.Errorf("RateLimit policy %q must carry its own name", name)
		}
		if p.Limit <= 0 {
			return fmt.Errorf("RateLimit policy %q Limit must be > 0", name)
		}
		if p.Window < time.Millisecond {
			return fmt.Errorf("RateLimit policy %q Window must be >= 1ms", name)
		}
	}

	// Idempotency
	if c.Idempotency.RecordTTL <= 0 {
		return errors.New("Idempotency RecordTTL must be > 0")
	}
	if c.Idempotency.LockTTL <= 0 {
		return errors.New("Idempotency LockTTL must be > 0")
	}
	if c.Idempotency.LockTTL >= c.Idempotency.RecordTTL {
		return errors.New("Idempotency LockTTL must be shorter than RecordTTL")
	}
	if c.Idempotency.MaxResponseBodyBytes <= 0 {
		return errors.New("Idempotency MaxResponseBodyBytes must be > 0")
	}
	if c.Idempotency.MaxRequestBodyBytes <= 0 {
		return errors.New("Idempotency MaxRequestBodyBytes must be > 0")
	}
	if c.Idempotency.MaxKeyLength <= 0 || c.Idempotency.MaxKeyLength > 255 {
		return errors.New("Idempotency MaxKeyLength must be between 1 and 255")
	}

	// OTP
	if c.OTP.CodeDigits < 6 || c.OTP.CodeDigits > 10 {
		return errors.New("OTP CodeDigits must be between 6 and 10")
	}
	if c.OTP.CodeTTL <= 0 {
		return errors.New("OTP CodeTTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if c.OTP.LockoutDuration <= 0 {
		return errors.New("OTP LockoutDuration must be > 0")
	}
	if c.OTP.ResendCooldown < 0 {
		return errors.New("OTP ResendCooldown must be >= 0")
	}
	if c.OTP.PhoneHourlyLimit < 0 || c.OTP.IPHourlyLimit < 0 {
		return errors.New("OTP hourly limits must be >= 0")
	}
	if _, err := phone.Region(c.OTP.DefaultCountryCode); err != nil {
		return fmt.Errorf("OTP DefaultCountryCode %q must be a known calling code", c.OTP.DefaultCountryCode)
	}
	if c.OTP.DefaultPurpose == "" || c.OTP.DefaultChannel == "" {
		return errors.New("OTP DefaultPurpose and DefaultChannel are required")
	}
	if c.OTP.Hash.Memory < 8*1024 {
		return errors.New("OTP Hash Memory must be >= 8192 KB")
	}
	if c.OTP.Hash.Time < 1 {
		return errors.New("OTP Hash Time must be >= 1")
	}
	if c.OTP.Hash.Parallelism < 1 {
		return errors.New("OTP Hash Parallelism must be >= 1")
	}
	if c.OTP.Hash.SaltLength < 16 {
		return errors.New("OTP Hash SaltLength must be >= 16")
	}
	if c.OTP.Hash.KeyLength < 16 {
		return errors.New("OTP Hash KeyLength must be >= 16")
	}

	// Tokens / JWT
	if c.Tokens.RefreshTTL <= 0 {
		return errors.New("Tokens RefreshTTL must be > 0")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.AccessTTL >= c.Tokens.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than Tokens RefreshTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
		if c.Audit.MaxAttempts <= 0 {
			return errors.New("Audit MaxAttempts must be > 0 when audit is enabled")
		}
	}

	// Retention
	if c.Retention.VerifiedOTPRetention < 0 || c.Retention.RefreshRetention < 0 || c.Retention.ResolvedEventRetention < 0 {
		return errors.New("Retention durations must be >= 0")
	}

	if c.ProductionMode {
		if c.JWT.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires JWT AccessTTL <= 15m")
		}
		if c.Tokens.RefreshTTL > 90*24*time.Hour {
			return errors.New("ProductionMode requires Tokens RefreshTTL <= 90d")
		}
		if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if strict, ok := c.RateLimit.Policies[PolicyStrict]; ok && strict.FailOpen {
			return errors.New("ProductionMode requires the strict policy to fail closed")
		}
		if c.OTP.MaxAttempts > 10 {
			return errors.New("ProductionMode requires OTP MaxAttempts <= 10")
		}
	}

	return nil
}

// replayHeaderSet canonicalizes the replay allow-list.
func (c IdempotencyConfig) replayHeaderSet() map[string]struct{} {
	out := make(map[string]struct{}, len(c.ReplayHeaders))
	for _, h := range c.ReplayHeaders {
		out[http.CanonicalHeaderKey(h)] = struct{}{}
	}
	return out
}
