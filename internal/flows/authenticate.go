package flows

import (
	"errors"
	"strings"
	"time"

	"github.com/pubble-team/pubbleauth/jwt"
)

type AuthenticateFailureKind int

const (
	AuthenticateFailureNone AuthenticateFailureKind = iota
	AuthenticateFailureMissing
	AuthenticateFailureExpired
	AuthenticateFailureInvalid
)

type AuthenticateResult struct {
	Failure AuthenticateFailureKind
	Err     error

	Subject   string
	Role      string
	TokenID   string
	ExpiresAt time.Time
}

// AuthenticateDeps captures access token verification dependencies.
type AuthenticateDeps struct {
	Verify func(string) (*jwt.AccessClaims, error)
}

// RunAuthenticate verifies a bearer access token. No store is consulted.
func RunAuthenticate(token string, deps AuthenticateDeps) AuthenticateResult {
	if strings.TrimSpace(token) == "" {
		return AuthenticateResult{Failure: AuthenticateFailureMissing}
	}

	claims, err := deps.Verify(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AuthenticateResult{Failure: AuthenticateFailureExpired, Err: err}
		}
		return AuthenticateResult{Failure: AuthenticateFailureInvalid, Err: err}
	}

	res := AuthenticateResult{
		Subject: claims.Subject,
		Role:    claims.Role,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res
}
