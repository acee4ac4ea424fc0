package pubbleauth

import "errors"

var (
	// ErrInvalidCredentials is returned by sign-in for an unknown user, an
	// empty password and a wrong password alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrTokenInvalid is returned by Authenticate for a malformed, forged or
	// otherwise unacceptable access token.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned by Authenticate for a well-formed access
	// token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrRefreshRevoked is returned by Refresh for a revoked or expired refresh token.
	ErrRefreshRevoked = errors.New("refresh token revoked")
	// ErrRefreshInvalid is returned by Refresh for a token that does not decode
	// or does not match a stored record.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrStorePersistence is returned when a refresh record cannot be
	// written. No tokens are handed out alongside it.
	ErrStorePersistence = errors.New("refresh store persistence failure")
	// ErrStoreUnavailable is returned by Logout when the store cannot be reached.
	ErrStoreUnavailable = errors.New("refresh store unavailable")
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrUserNotFound is what a UserProvider returns for an unknown username.
	ErrUserNotFound   = errors.New("user not found")
	ErrEngineNotReady = errors.New("engine not initialized")
)
