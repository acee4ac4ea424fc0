package pubbleauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	internalaudit "github.com/pubble-team/pubbleauth/internal/audit"
	"github.com/pubble-team/pubbleauth/internal/logging"
	"github.com/pubble-team/pubbleauth/internal/rate"
	"github.com/pubble-team/pubbleauth/jwt"
	"github.com/pubble-team/pubbleauth/password"
	"github.com/pubble-team/pubbleauth/refresh"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	refreshStore refresh.Store
	loginLimiter LoginLimiter
	auditSink    AuditSink
	logger       logging.Logger
	now          func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client used for the refresh store and the login
// limiter when neither is given explicitly.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithRefreshStore overrides the refresh store derived from WithRedis.
func (b *Builder) WithRefreshStore(store refresh.Store) *Builder {
	b.refreshStore = store
	return b
}

func (b *Builder) WithLoginLimiter(l LoginLimiter) *Builder {
	b.loginLimiter = l
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(l logging.Logger) *Builder {
	b.logger = l
	return b
}

// WithClock replaces time.Now for token and record timestamps.
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

// Build validates the configuration and wires the Engine.
//
// Without WithRefreshStore or WithRedis the engine keeps refresh tokens in
// process memory, which only suits a single instance.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = logging.Discard()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- REFRESH STORE --------
	store := b.refreshStore
	switch {
	case store != nil:
	case b.redis != nil:
		store = refresh.NewRedisStore(b.redis, cfg.Refresh.RedisPrefix, now)
	default:
		logger.Warn(context.Background(), "no refresh store configured, using process memory")
		store = refresh.NewMemoryStore(now)
	}

	// -------- LOGIN LIMITER --------
	var limiter LoginLimiter
	if cfg.Security.EnableLoginThrottle {
		rcfg := rate.Config{
			EnableIPThrottle: cfg.Security.EnableIPThrottle,
			MaxAttempts:      cfg.Security.MaxLoginAttempts,
			Cooldown:         cfg.Security.LoginCooldown,
			Prefix:           cfg.Refresh.RedisPrefix,
		}
		switch {
		case b.loginLimiter != nil:
			limiter = b.loginLimiter
		case b.redis != nil:
			limiter = rate.NewRedis(b.redis, rcfg)
		default:
			limiter = rate.NewMemory(rcfg, now)
		}
	}

	// -------- PASSWORDS --------
	hasher, err := password.New(password.Config{
		Algorithm:  password.Algorithm(cfg.Password.Algorithm),
		BcryptCost: cfg.Password.BcryptCost,
		Argon2: password.Argon2Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		},
	})
	if err != nil {
		return nil, err
	}
	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
		KeyID:         cfg.JWT.KeyID,
		VerifyKeys:    cfg.JWT.VerifyKeys,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:       cfg,
		jwtManager:   jm,
		hasher:       hasher,
		dummyHash:    dummyHash,
		refreshStore: store,
		userProvider: b.userProvider,
		loginLimiter: limiter,
		logger:       logger,
		now:          now,
	}
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Observer:   auditMetrics{engine.metrics},
	}, b.auditSink)
	engine.flows = engine.buildFlowDeps()

	b.built = true

	return engine, nil
}
