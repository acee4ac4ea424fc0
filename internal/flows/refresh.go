package flows

import (
	"context"
	"errors"
	"time"

	"github.com/pubble-team/pubbleauth/refresh"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureDecode
	RefreshFailureNextSecret
	RefreshFailureNotFound
	RefreshFailureSecretMismatch
	RefreshFailureRevoked
	RefreshFailureReuse
	RefreshFailureExpired
	RefreshFailureRotate
	RefreshFailureIssueAccess
	RefreshFailureEncode
)

// RefreshResult carries the rotated pair or failure metadata. Record is the
// stored successor on success and the presented record on reuse.
type RefreshResult struct {
	Failure RefreshFailureKind
	Err     error

	TokenID string
	Record  refresh.Record

	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type RefreshStore interface {
	Rotate(ctx context.Context, id string, secretHash [32]byte, next refresh.Record) (refresh.Record, error)
	RevokeAllForSubject(ctx context.Context, subject string) error
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Now        func() time.Time
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	DecodeRefreshToken func(string) (string, refresh.Secret, error)
	NewRefreshID       func() string
	NewRefreshSecret   func() (refresh.Secret, error)
	EncodeRefreshToken func(string, refresh.Secret) (string, error)
	IssueAccessToken   func(subject, role string, ttl time.Duration) (string, error)

	// RevokeFamilyOnReuse revokes every token of the subject when an already
	// rotated token is presented again.
	RevokeFamilyOnReuse bool

	Store RefreshStore
	Warn  func(ctx context.Context, msg string, args ...any)
}

// RunRefresh rotates the presented refresh token and issues a new pair.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	id, presented, err := deps.DecodeRefreshToken(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureDecode, Err: err}
	}

	nextSecret, err := deps.NewRefreshSecret()
	if err != nil {
		return RefreshResult{Failure: RefreshFailureNextSecret, Err: err, TokenID: id}
	}

	now := deps.Now()
	next := refresh.Record{
		ID:         deps.NewRefreshID(),
		SecretHash: nextSecret.Hash(),
		IssuedAt:   now,
		ExpiresAt:  now.Add(deps.RefreshTTL),
	}

	stored, err := deps.Store.Rotate(ctx, id, presented.Hash(), next)
	if err != nil {
		res := RefreshResult{Err: err, TokenID: id, Record: stored}
		switch {
		case errors.Is(err, refresh.ErrNotFound):
			res.Failure = RefreshFailureNotFound
		case errors.Is(err, refresh.ErrSecretMismatch):
			res.Failure = RefreshFailureSecretMismatch
		case errors.Is(err, refresh.ErrRevoked) && stored.ReplacedBy != "":
			res.Failure = RefreshFailureReuse
			if deps.RevokeFamilyOnReuse && stored.Subject != "" {
				if rerr := deps.Store.RevokeAllForSubject(ctx, stored.Subject); rerr != nil && deps.Warn != nil {
					deps.Warn(ctx, "refresh: revoking token family after reuse", "subject", stored.Subject, "error", rerr)
				}
			}
		case errors.Is(err, refresh.ErrRevoked):
			res.Failure = RefreshFailureRevoked
		case errors.Is(err, refresh.ErrExpired):
			res.Failure = RefreshFailureExpired
		default:
			res.Failure = RefreshFailureRotate
		}
		return res
	}

	access, err := deps.IssueAccessToken(stored.Subject, stored.Role, deps.AccessTTL)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureIssueAccess, Err: err, TokenID: id, Record: stored}
	}

	token, err := deps.EncodeRefreshToken(stored.ID, nextSecret)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureEncode, Err: err, TokenID: id, Record: stored}
	}

	return RefreshResult{
		TokenID:          id,
		Record:           stored,
		AccessToken:      access,
		RefreshToken:     token,
		AccessExpiresAt:  now.Add(deps.AccessTTL),
		RefreshExpiresAt: stored.ExpiresAt,
	}
}
