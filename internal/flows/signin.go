package flows

import (
	"context"
	"errors"
	"strings"
)

// SignInFailureKind classifies credential and sign-in failures.
type SignInFailureKind int

const (
	SignInFailureNone SignInFailureKind = iota
	SignInFailureRateLimited
	SignInFailureEmptyInput
	SignInFailureUserNotFound
	SignInFailureUserLookup
	SignInFailurePasswordMismatch
	SignInFailureIssue
)

// SignInUser is the flow-local view of an account.
type SignInUser struct {
	UserID       string
	Username     string
	PasswordHash string
	Role         string
}

// SignInResult carries the verified user and, for RunSignIn, the issued
// tokens.
type SignInResult struct {
	Failure SignInFailureKind
	Err     error
	User    SignInUser
	Issue   IssueResult
}

// SignInLimiter reserves an attempt per sign-in before verification.
type SignInLimiter interface {
	Acquire(ctx context.Context, username, ip string) error
	Release(ctx context.Context, username, ip string) error
	Reset(ctx context.Context, username, ip string) error
}

// SignInDeps captures credential verification and sign-in dependencies.
type SignInDeps struct {
	ClientIPFromContext func(context.Context) string
	// NormalizeUsername maps a submitted username to the form the user
	// store keys accounts by. It is applied before throttling and lookup.
	NormalizeUsername func(string) string
	GetUserByUsername func(context.Context, string) (SignInUser, error)
	UserNotFound        error
	DefaultRole         string

	VerifyPassword func(password, encodedHash string) (bool, error)
	// DummyHash is compared against when there is no real hash so that
	// every failure costs one hash comparison.
	DummyHash string
	// UpgradePassword, when set, is called after a successful verification.
	UpgradePassword func(ctx context.Context, user SignInUser, password string)

	// Limiter is optional.
	Limiter SignInLimiter
	Issue   func(ctx context.Context, subject, role string) IssueResult
	Warn    func(ctx context.Context, msg string, args ...any)
}

// RunVerifyCredentials checks username and password. It never touches the
// limiter and never issues tokens.
func RunVerifyCredentials(ctx context.Context, username, password string, deps SignInDeps) SignInResult {
	if strings.TrimSpace(username) == "" || password == "" {
		deps.burnDummy(password)
		return SignInResult{Failure: SignInFailureEmptyInput}
	}

	user, err := deps.GetUserByUsername(ctx, username)
	if err != nil {
		deps.burnDummy(password)
		if deps.UserNotFound != nil && errors.Is(err, deps.UserNotFound) {
			return SignInResult{Failure: SignInFailureUserNotFound, Err: err}
		}
		return SignInResult{Failure: SignInFailureUserLookup, Err: err}
	}

	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return SignInResult{Failure: SignInFailurePasswordMismatch, Err: err, User: user}
	}

	if strings.TrimSpace(user.Role) == "" {
		user.Role = deps.DefaultRole
	}
	if deps.UpgradePassword != nil {
		deps.UpgradePassword(ctx, user, password)
	}
	return SignInResult{User: user}
}

// RunSignIn throttles, verifies credentials and issues a token pair. The
// attempt is reserved before the password is checked; only a user store
// failure gives it back.
func RunSignIn(ctx context.Context, username, password string, deps SignInDeps) SignInResult {
	if deps.NormalizeUsername != nil {
		username = deps.NormalizeUsername(username)
	}
	ip := ""
	if deps.ClientIPFromContext != nil {
		ip = deps.ClientIPFromContext(ctx)
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.Acquire(ctx, username, ip); err != nil {
			return SignInResult{Failure: SignInFailureRateLimited, Err: err}
		}
	}

	res := RunVerifyCredentials(ctx, username, password, deps)
	if res.Failure != SignInFailureNone {
		if deps.Limiter != nil && res.Failure == SignInFailureUserLookup {
			if err := deps.Limiter.Release(ctx, username, ip); err != nil {
				deps.warn(ctx, "signin: releasing attempt", "error", err)
			}
		}
		return res
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.Reset(ctx, username, ip); err != nil {
			deps.warn(ctx, "signin: resetting attempt counter", "error", err)
		}
	}

	res.Issue = deps.Issue(ctx, res.User.UserID, res.User.Role)
	if res.Issue.Failure != IssueFailureNone {
		res.Failure = SignInFailureIssue
		res.Err = res.Issue.Err
	}
	return res
}

func (d SignInDeps) burnDummy(password string) {
	if d.DummyHash == "" || d.VerifyPassword == nil {
		return
	}
	_, _ = d.VerifyPassword(password, d.DummyHash)
}

func (d SignInDeps) warn(ctx context.Context, msg string, args ...any) {
	if d.Warn != nil {
		d.Warn(ctx, msg, args...)
	}
}
