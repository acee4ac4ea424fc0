package users

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/pubble-team/pubbleauth"
)

var (
	// ErrDuplicateUsername is returned by Create when the username is taken.
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrInvalidUser is returned by Create for records missing a username or hash.
	ErrInvalidUser = errors.New("invalid user record")
)

// NormalizeUsername is the canonical form used as the lookup key.
func NormalizeUsername(username string) string {
	return pubbleauth.NormalizeUsername(username)
}

// prepare validates u and fills defaults for Create.
func prepare(u pubbleauth.UserRecord) (pubbleauth.UserRecord, error) {
	u.Username = NormalizeUsername(u.Username)
	if u.Username == "" {
		return u, errors.Join(ErrInvalidUser, errors.New("missing username"))
	}
	if u.PasswordHash == "" {
		return u, errors.Join(ErrInvalidUser, errors.New("missing password hash"))
	}
	if u.UserID == "" {
		u.UserID = uuid.NewString()
	}
	switch strings.ToUpper(strings.TrimSpace(u.Role)) {
	case "", pubbleauth.RoleUser:
		u.Role = pubbleauth.RoleUser
	case pubbleauth.RoleAdmin:
		u.Role = pubbleauth.RoleAdmin
	default:
		return u, errors.Join(ErrInvalidUser, errors.New("unknown role "+u.Role))
	}
	return u, nil
}
