package flows

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/pubble-team/pubbleauth/refresh"
)

// LogoutOutcome says what a logout call did. Every outcome but
// LogoutUnavailable is a success for the caller.
type LogoutOutcome int

const (
	LogoutRevoked LogoutOutcome = iota
	LogoutMalformed
	LogoutNotFound
	LogoutSecretMismatch
	LogoutAlreadyRevoked
	LogoutUnavailable
)

func (o LogoutOutcome) String() string {
	switch o {
	case LogoutRevoked:
		return "revoked"
	case LogoutMalformed:
		return "malformed"
	case LogoutNotFound:
		return "not_found"
	case LogoutSecretMismatch:
		return "secret_mismatch"
	case LogoutAlreadyRevoked:
		return "already_revoked"
	case LogoutUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

type LogoutResult struct {
	Outcome LogoutOutcome
	Err     error
	TokenID string
	Subject string
}

type LogoutStore interface {
	Find(ctx context.Context, id string) (refresh.Record, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForSubject(ctx context.Context, subject string) error
}

// LogoutDeps captures logout flow dependencies.
type LogoutDeps struct {
	DecodeRefreshToken func(string) (string, refresh.Secret, error)
	Store              LogoutStore
}

// RunLogout revokes the record behind refreshToken. Only a store failure
// yields an error; a token that names nothing revocable is a no-op.
func RunLogout(ctx context.Context, refreshToken string, deps LogoutDeps) LogoutResult {
	id, secret, err := deps.DecodeRefreshToken(refreshToken)
	if err != nil {
		return LogoutResult{Outcome: LogoutMalformed}
	}

	rec, err := deps.Store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, refresh.ErrNotFound) {
			return LogoutResult{Outcome: LogoutNotFound, TokenID: id}
		}
		return LogoutResult{Outcome: LogoutUnavailable, Err: err, TokenID: id}
	}

	// Only the holder of the secret may revoke.
	want := secret.Hash()
	if subtle.ConstantTimeCompare(rec.SecretHash[:], want[:]) != 1 {
		return LogoutResult{Outcome: LogoutSecretMismatch, TokenID: id}
	}
	if rec.Revoked() {
		return LogoutResult{Outcome: LogoutAlreadyRevoked, TokenID: id, Subject: rec.Subject}
	}

	if err := deps.Store.Revoke(ctx, id); err != nil {
		return LogoutResult{Outcome: LogoutUnavailable, Err: err, TokenID: id, Subject: rec.Subject}
	}
	return LogoutResult{Outcome: LogoutRevoked, TokenID: id, Subject: rec.Subject}
}

// RunLogoutAll revokes every refresh token of subject.
func RunLogoutAll(ctx context.Context, subject string, deps LogoutDeps) error {
	return deps.Store.RevokeAllForSubject(ctx, subject)
}
