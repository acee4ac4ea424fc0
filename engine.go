package pubbleauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	internalaudit "github.com/pubble-team/pubbleauth/internal/audit"
	"github.com/pubble-team/pubbleauth/internal/flows"
	"github.com/pubble-team/pubbleauth/internal/logging"
	"github.com/pubble-team/pubbleauth/internal/rate"
	"github.com/pubble-team/pubbleauth/jwt"
	"github.com/pubble-team/pubbleauth/password"
	"github.com/pubble-team/pubbleauth/refresh"
)

// Engine signs users in, verifies access tokens and manages refresh tokens.
//
// Build it with New().…Build(); an Engine is immutable afterwards and safe
// for concurrent use.
type Engine struct {
	config       Config
	jwtManager   *jwt.Manager
	hasher       *password.Multi
	dummyHash    string
	refreshStore refresh.Store
	userProvider UserProvider
	loginLimiter LoginLimiter
	audit        *internalaudit.Dispatcher
	metrics      *Metrics
	logger       logging.Logger
	now          func() time.Time

	flows flows.Deps
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events that never reached the sink. It counts
// even when metrics are disabled.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AccessTTL is the lifetime of issued access tokens.
func (e *Engine) AccessTTL() time.Duration { return e.config.JWT.AccessTTL }

// RefreshTTL is the lifetime of issued refresh tokens.
func (e *Engine) RefreshTTL() time.Duration { return e.config.JWT.RefreshTTL }

// LoginCooldown is how long a throttled username stays locked. It is zero
// when throttling is off.
func (e *Engine) LoginCooldown() time.Duration {
	if !e.config.Security.EnableLoginThrottle {
		return 0
	}
	return e.config.Security.LoginCooldown
}

// Ping checks the refresh store when it can report its own health.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.refreshStore == nil {
		return ErrEngineNotReady
	}
	pinger, ok := e.refreshStore.(interface {
		Ping(context.Context) (time.Duration, error)
	})
	if !ok {
		return nil
	}
	if _, err := pinger.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e.metrics != nil {
		e.metrics.Inc(id)
	}
}

func (e *Engine) ready() bool {
	return e != nil && e.jwtManager != nil && e.refreshStore != nil && e.userProvider != nil
}

// VerifyCredentials checks a username and password without throttling or
// issuing tokens. Unknown users and wrong passwords both return
// ErrInvalidCredentials after one hash comparison.
func (e *Engine) VerifyCredentials(ctx context.Context, username, password string) (Principal, error) {
	if !e.ready() {
		return Principal{}, ErrEngineNotReady
	}

	res := flows.RunVerifyCredentials(ctx, username, password, e.flows.SignIn)
	if res.Failure != flows.SignInFailureNone {
		if res.Failure == flows.SignInFailureUserLookup {
			e.logger.Error(ctx, "user lookup failed", "username", username, "error", res.Err)
		}
		return Principal{}, ErrInvalidCredentials
	}

	return Principal{Subject: res.User.UserID, Role: res.User.Role}, nil
}

// IssueTokens mints a token pair for an already verified principal. The
// refresh token is persisted before anything is returned.
func (e *Engine) IssueTokens(ctx context.Context, p Principal) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}
	if strings.TrimSpace(p.Subject) == "" {
		return TokenPair{}, errors.New("principal subject is required")
	}
	if strings.TrimSpace(p.Role) == "" {
		p.Role = RoleUser
	}

	res := flows.RunIssue(ctx, p.Subject, p.Role, e.flows.Issue)
	if res.Failure != flows.IssueFailureNone {
		return TokenPair{}, e.issueError(ctx, res)
	}

	e.metricInc(MetricTokensIssued)
	return pairFromIssue(res), nil
}

func (e *Engine) issueError(ctx context.Context, res flows.IssueResult) error {
	if res.Failure == flows.IssueFailurePersist {
		e.metricInc(MetricStoreFailure)
		e.logger.Error(ctx, "persisting refresh token", "token_id", res.TokenID, "error", res.Err)
		return fmt.Errorf("%w: %v", ErrStorePersistence, res.Err)
	}
	e.logger.Error(ctx, "issuing tokens", "error", res.Err)
	return fmt.Errorf("issue tokens: %w", res.Err)
}

func pairFromIssue(res flows.IssueResult) TokenPair {
	return TokenPair{
		AccessToken:      res.AccessToken,
		RefreshToken:     res.RefreshToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshExpiresAt: res.RefreshExpiresAt,
	}
}

// SignIn verifies credentials and issues a token pair.
//
// Errors: ErrLoginRateLimited, ErrInvalidCredentials, ErrStorePersistence.
func (e *Engine) SignIn(ctx context.Context, username, password string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	res := flows.RunSignIn(ctx, username, password, e.flows.SignIn)
	fields := auditFields{subject: res.User.UserID, username: username, tokenID: res.Issue.TokenID}

	switch res.Failure {
	case flows.SignInFailureNone:
		e.metricInc(MetricLoginSuccess)
		e.metricInc(MetricTokensIssued)
		e.emitAudit(ctx, auditEventSignInSuccess, true, fields, nil, nil)
		return pairFromIssue(res.Issue), nil

	case flows.SignInFailureRateLimited:
		e.metricInc(MetricLoginRateLimited)
		if !errors.Is(res.Err, rate.ErrRateLimited) && !errors.Is(res.Err, ErrLoginRateLimited) {
			e.logger.Warn(ctx, "login limiter check failed, rejecting", "username", username, "error", res.Err)
		}
		e.emitAudit(ctx, auditEventSignInRateLimited, false, fields, ErrLoginRateLimited, nil)
		return TokenPair{}, ErrLoginRateLimited

	case flows.SignInFailureIssue:
		e.metricInc(MetricLoginFailure)
		err := e.issueError(ctx, res.Issue)
		e.emitAudit(ctx, auditEventSignInFailure, false, fields, err, reason("issue"))
		return TokenPair{}, err

	case flows.SignInFailureUserLookup:
		e.metricInc(MetricLoginFailure)
		e.logger.Error(ctx, "user lookup failed", "username", username, "error", res.Err)
		e.emitAudit(ctx, auditEventSignInFailure, false, fields, ErrInvalidCredentials, reason("user_lookup"))
		return TokenPair{}, ErrInvalidCredentials

	default:
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventSignInFailure, false, fields, ErrInvalidCredentials, reason(signInReason(res.Failure)))
		return TokenPair{}, ErrInvalidCredentials
	}
}

func signInReason(kind flows.SignInFailureKind) string {
	switch kind {
	case flows.SignInFailureEmptyInput:
		return "empty_input"
	case flows.SignInFailureUserNotFound:
		return "user_not_found"
	case flows.SignInFailurePasswordMismatch:
		return "password_mismatch"
	default:
		return "unknown"
	}
}

// Authenticate verifies an access token. No store is consulted, so an
// access token stays usable until it expires even after logout.
//
// Errors: ErrTokenExpired for a valid token past its window, ErrTokenInvalid
// for anything else.
func (e *Engine) Authenticate(ctx context.Context, token string) (Principal, error) {
	if !e.ready() {
		return Principal{}, ErrEngineNotReady
	}

	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricAuthenticateLatency, time.Since(start)) }()
	}

	res := flows.RunAuthenticate(token, e.flows.Authenticate)
	switch res.Failure {
	case flows.AuthenticateFailureNone:
		e.metricInc(MetricAuthenticateSuccess)
		return Principal{Subject: res.Subject, Role: res.Role}, nil
	case flows.AuthenticateFailureExpired:
		e.metricInc(MetricAuthenticateExpired)
		return Principal{}, ErrTokenExpired
	default:
		e.metricInc(MetricAuthenticateInvalid)
		e.logger.Debug(ctx, "access token rejected", "error", res.Err)
		return Principal{}, ErrTokenInvalid
	}
}

// Refresh rotates refreshToken and returns a new pair. The presented token
// is revoked in the same store operation that saves its successor.
//
// Errors: ErrRefreshRevoked for revoked, rotated or expired tokens,
// ErrRefreshInvalid for unknown or tampered tokens, ErrStorePersistence when
// the store fails.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	res := flows.RunRefresh(ctx, refreshToken, e.flows.Refresh)
	fields := auditFields{subject: res.Record.Subject, tokenID: res.TokenID}

	var err error
	switch res.Failure {
	case flows.RefreshFailureNone:
		e.metricInc(MetricRefreshSuccess)
		e.metricInc(MetricTokensIssued)
		e.emitAudit(ctx, auditEventRefreshSuccess, true, fields, nil, func() map[string]string {
			return map[string]string{"replaced_by": res.Record.ID}
		})
		return TokenPair{
			AccessToken:      res.AccessToken,
			RefreshToken:     res.RefreshToken,
			AccessExpiresAt:  res.AccessExpiresAt,
			RefreshExpiresAt: res.RefreshExpiresAt,
		}, nil

	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricRefreshRevoked)
		e.logger.Warn(ctx, "rotated refresh token presented again", "subject", res.Record.Subject, "token_id", res.TokenID)
		e.emitAudit(ctx, auditEventRefreshReuseDetected, false, fields, ErrRefreshRevoked, nil)
		return TokenPair{}, ErrRefreshRevoked

	case flows.RefreshFailureRevoked, flows.RefreshFailureExpired:
		e.metricInc(MetricRefreshRevoked)
		err = ErrRefreshRevoked

	case flows.RefreshFailureDecode, flows.RefreshFailureNotFound, flows.RefreshFailureSecretMismatch:
		e.metricInc(MetricRefreshFailure)
		err = ErrRefreshInvalid

	case flows.RefreshFailureRotate:
		e.metricInc(MetricRefreshFailure)
		e.metricInc(MetricStoreFailure)
		e.logger.Error(ctx, "rotating refresh token", "token_id", res.TokenID, "error", res.Err)
		err = fmt.Errorf("%w: %v", ErrStorePersistence, res.Err)

	default:
		e.metricInc(MetricRefreshFailure)
		e.logger.Error(ctx, "refreshing tokens", "token_id", res.TokenID, "error", res.Err)
		err = fmt.Errorf("refresh: %w", res.Err)
	}

	e.emitAudit(ctx, auditEventRefreshInvalid, false, fields, err, reason(refreshReason(res.Failure)))
	return TokenPair{}, err
}

func refreshReason(kind flows.RefreshFailureKind) string {
	switch kind {
	case flows.RefreshFailureDecode:
		return "malformed"
	case flows.RefreshFailureNotFound:
		return "not_found"
	case flows.RefreshFailureSecretMismatch:
		return "secret_mismatch"
	case flows.RefreshFailureRevoked:
		return "revoked"
	case flows.RefreshFailureExpired:
		return "expired"
	case flows.RefreshFailureRotate:
		return "store"
	default:
		return "internal"
	}
}

// Logout revokes the refresh token. Unknown, malformed and already revoked
// tokens are accepted silently; only a store failure returns an error
// (ErrStoreUnavailable).
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	res := flows.RunLogout(ctx, refreshToken, e.flows.Logout)
	fields := auditFields{subject: res.Subject, tokenID: res.TokenID}

	switch res.Outcome {
	case flows.LogoutUnavailable:
		e.metricInc(MetricStoreFailure)
		e.logger.Error(ctx, "logout: refresh store failed", "token_id", res.TokenID, "error", res.Err)
		err := fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
		e.emitAudit(ctx, auditEventLogout, false, fields, err, nil)
		return err
	case flows.LogoutRevoked:
		e.metricInc(MetricLogout)
		e.emitAudit(ctx, auditEventLogout, true, fields, nil, nil)
	default:
		e.emitAudit(ctx, auditEventLogout, true, fields, nil, reason(res.Outcome.String()))
	}
	return nil
}

// LogoutAll revokes every refresh token of subject.
func (e *Engine) LogoutAll(ctx context.Context, subject string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if strings.TrimSpace(subject) == "" {
		return ErrUserNotFound
	}

	fields := auditFields{subject: subject}
	if err := flows.RunLogoutAll(ctx, subject, e.flows.Logout); err != nil {
		e.metricInc(MetricStoreFailure)
		e.logger.Error(ctx, "logout all: refresh store failed", "subject", subject, "error", err)
		werr := fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		e.emitAudit(ctx, auditEventLogoutAll, false, fields, werr, nil)
		return werr
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, fields, nil, nil)
	return nil
}
