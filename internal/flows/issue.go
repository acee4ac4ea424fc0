package flows

import (
	"context"
	"time"

	"github.com/pubble-team/pubbleauth/refresh"
)

// IssueFailureKind classifies issuance failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureSecret
	IssueFailureAccess
	IssueFailureEncode
	IssueFailurePersist
)

// IssueResult carries a token pair or the failure that prevented it.
type IssueResult struct {
	Failure IssueFailureKind
	Err     error

	TokenID          string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type IssueStore interface {
	Save(ctx context.Context, rec refresh.Record) error
}

// IssueDeps captures token issuance dependencies.
type IssueDeps struct {
	Now        func() time.Time
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	NewRefreshID       func() string
	NewRefreshSecret   func() (refresh.Secret, error)
	EncodeRefreshToken func(string, refresh.Secret) (string, error)
	IssueAccessToken   func(subject, role string, ttl time.Duration) (string, error)

	Store IssueStore
}

// RunIssue signs an access token and persists a fresh refresh record for
// subject. Tokens are only returned once the record is saved.
func RunIssue(ctx context.Context, subject, role string, deps IssueDeps) IssueResult {
	secret, err := deps.NewRefreshSecret()
	if err != nil {
		return IssueResult{Failure: IssueFailureSecret, Err: err}
	}
	id := deps.NewRefreshID()

	now := deps.Now()
	access, err := deps.IssueAccessToken(subject, role, deps.AccessTTL)
	if err != nil {
		return IssueResult{Failure: IssueFailureAccess, Err: err, TokenID: id}
	}

	token, err := deps.EncodeRefreshToken(id, secret)
	if err != nil {
		return IssueResult{Failure: IssueFailureEncode, Err: err, TokenID: id}
	}

	rec := refresh.Record{
		ID:         id,
		Subject:    subject,
		Role:       role,
		SecretHash: secret.Hash(),
		IssuedAt:   now,
		ExpiresAt:  now.Add(deps.RefreshTTL),
	}
	if err := deps.Store.Save(ctx, rec); err != nil {
		return IssueResult{Failure: IssueFailurePersist, Err: err, TokenID: id}
	}

	return IssueResult{
		TokenID:          id,
		AccessToken:      access,
		RefreshToken:     token,
		AccessExpiresAt:  now.Add(deps.AccessTTL),
		RefreshExpiresAt: rec.ExpiresAt,
	}
}
