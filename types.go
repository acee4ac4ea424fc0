package pubbleauth

import (
	"context"
	"io"
	"strings"
	"time"

	internalaudit "github.com/pubble-team/pubbleauth/internal/audit"
)

// Roles known to the access rules.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Principal is the authenticated identity of one request. It lives in the
// request context and is never persisted.
type Principal struct {
	Subject string
	Role    string
}

// TokenPair is what sign-in and refresh hand back to the client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// UserRecord is the credential view of an account.
type UserRecord struct {
	UserID       string
	Username     string
	PasswordHash string
	Role         string
}

// UserProvider looks up accounts by username. It returns ErrUserNotFound
// (possibly wrapped) when no account matches; any other error is treated as
// an I/O failure.
type UserProvider interface {
	GetUserByUsername(ctx context.Context, username string) (UserRecord, error)
}

// PasswordHashUpdater is an optional UserProvider extension. When present
// and Password.UpgradeOnLogin is set, sign-in rewrites outdated hashes.
type PasswordHashUpdater interface {
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// LoginLimiter throttles sign-in attempts. Acquire reserves one attempt
// before credentials are checked and returns an error wrapping
// rate.ErrRateLimited once the budget is spent, so concurrent guesses cannot
// overspend it. Release returns a reservation that must not count and Reset
// clears the budget after a successful sign-in.
type LoginLimiter interface {
	Acquire(ctx context.Context, username, ip string) error
	Release(ctx context.Context, username, ip string) error
	Reset(ctx context.Context, username, ip string) error
}

// NormalizeUsername is the canonical username form. User stores key
// accounts by it and sign-in throttling counts attempts under it.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

type (
	AuditEvent     = internalaudit.Event
	AuditSink      = internalaudit.Sink
	NoOpSink       = internalaudit.NoOpSink
	ChannelSink    = internalaudit.ChannelSink
	JSONWriterSink = internalaudit.JSONWriterSink
)

// NewChannelSink returns a sink that buffers events in a channel.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes one JSON event per line to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
