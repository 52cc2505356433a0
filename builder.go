package goGuard

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goGuard/internal"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/codehash"
	"github.com/MrEthical07/goGuard/internal/flows"
	"github.com/MrEthical07/goGuard/internal/limiters"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/stores"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/store"
)

// Stores is satisfied by a backend that implements every relational store,
// such as store/postgres.Store and store/memory.Store.
type Stores interface {
	store.ChallengeStore
	store.RefreshTokenStore
	store.SecurityEventStore
	store.UserDirectory
}

// Builder assembles an Engine. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	challenges store.ChallengeStore
	tokens     store.RefreshTokenStore
	events     store.SecurityEventStore
	users      store.UserDirectory

	sender    CodeSender
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing counters, idempotency records and the
// access-token revocation list. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStores sets all four relational stores from one backend.
func (b *Builder) WithStores(s Stores) *Builder {
	b.challenges = s
	b.tokens = s
	b.events = s
	b.users = s
	return b
}

func (b *Builder) WithChallengeStore(s store.ChallengeStore) *Builder {
	b.challenges = s
	return b
}

func (b *Builder) WithTokenStore(s store.RefreshTokenStore) *Builder {
	b.tokens = s
	return b
}

func (b *Builder) WithEventStore(s store.SecurityEventStore) *Builder {
	b.events = s
	return b
}

func (b *Builder) WithUserDirectory(s store.UserDirectory) *Builder {
	b.users = s
	return b
}

// WithSender sets the OTP delivery channel. Required.
func (b *Builder) WithSender(s CodeSender) *Builder {
	b.sender = s
	return b
}

// WithPublisher sets where recorded security events are published. The
// default drops them after they are stored.
func (b *Builder) WithPublisher(p EventPublisher) *Builder {
	b.publisher = p
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock overrides time.Now for every timestamp the engine produces.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.challenges == nil || b.tokens == nil || b.events == nil || b.users == nil {
		return nil, errors.New("challenge, token, event and user stores required")
	}
	if b.sender == nil {
		return nil, errors.New("code sender required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.ProductionMode {
		switch b.sender.(type) {
		case LogSender, *LogSender:
			return nil, errors.New("ProductionMode rejects LogSender")
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	hasher, err := codehash.New(codehash.Config{
		Memory:      cfg.OTP.Hash.Memory,
		Time:        cfg.OTP.Hash.Time,
		Parallelism: cfg.OTP.Hash.Parallelism,
		SaltLength:  cfg.OTP.Hash.SaltLength,
		KeyLength:   cfg.OTP.Hash.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:        cloneConfig(cfg),
		redis:         b.redis,
		challenges:    b.challenges,
		tokens:        b.tokens,
		events:        b.events,
		users:         b.users,
		sender:        b.sender,
		logger:        logger,
		now:           now,
		metrics:       NewMetrics(cfg.Metrics),
		jwtManager:    jm,
		exempt:        exemptSet(cfg.RateLimit.ExemptPaths),
		replayHeaders: cfg.Idempotency.replayHeaderSet(),
	}

	engine.limiter = rate.New(b.redis, cfg.RateLimit.RedisPrefix, now)
	engine.otpLimiter = limiters.NewOTPLimiter(engine.limiter, limiters.OTPConfig{
		ResendCooldown:   cfg.OTP.ResendCooldown,
		PhoneHourlyLimit: cfg.OTP.PhoneHourlyLimit,
		IPHourlyLimit:    cfg.OTP.IPHourlyLimit,
	})
	engine.idempotency = stores.NewIdempotencyStore(b.redis, cfg.Idempotency.RedisPrefix)
	engine.revocations = stores.NewRevocationList(b.redis, cfg.Tokens.RevocationPrefix)

	engine.dispatcher = audit.NewDispatcher(audit.Config{
		Enabled:        cfg.Audit.Enabled,
		BufferSize:     cfg.Audit.BufferSize,
		DropIfFull:     cfg.Audit.DropIfFull,
		MaxAttempts:    cfg.Audit.MaxAttempts,
		RetryBackoff:   cfg.Audit.RetryBackoff,
		PublishTimeout: cfg.Security.RecordTimeout,
	}, b.publisher)
	engine.dispatcher.OnFailure(func(event store.SecurityEvent, err error) {
		logger.Error("security event not published",
			slog.String("component", "audit"),
			slog.String("op", "publish"),
			slog.String("event_id", event.ID),
			slog.String("type", event.Type),
			slog.String("error", err.Error()),
		)
	})
	engine.recorder = newSecurityRecorder(b.events, engine.dispatcher, logger, engine.metrics, now, cfg.Security.RecordTimeout)

	sender := b.sender
	engine.flow = flows.New(flows.Deps{
		OTP: flows.OTPDeps{
			CountryCode:     cfg.OTP.DefaultCountryCode,
			CodeDigits:      cfg.OTP.CodeDigits,
			CodeTTL:         cfg.OTP.CodeTTL,
			MaxAttempts:     cfg.OTP.MaxAttempts,
			LockoutDuration: cfg.OTP.LockoutDuration,
			Now:             now,
			GenerateCode:    internal.NewOTP,
			Deliver: func(ctx context.Context, phoneNumber, channel, purpose, code string, expiresAt time.Time) error {
				return sender.SendCode(ctx, CodeMessage{
					Phone:     phoneNumber,
					Channel:   channel,
					Purpose:   purpose,
					Code:      code,
					ExpiresAt: expiresAt,
				})
			},
			Limiter:    engine.otpLimiter,
			Hasher:     hasher,
			Challenges: b.challenges,
			Users:      b.users,
		},
		Tokens: flows.TokenDeps{
			RefreshTTL:       cfg.Tokens.RefreshTTL,
			Now:              now,
			NewRefreshToken:  internal.NewRefreshToken,
			HashRefreshToken: internal.HashRefreshToken,
			ValidShape:       internal.ValidRefreshTokenShape,
			IssueAccess:      jm.CreateAccess,
			RevokeUserAccess: engine.revokeUserAccess,
			Tokens:           b.tokens,
		},
	})

	b.built = true

	return engine, nil
}
