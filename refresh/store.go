package refresh

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for an identity.
	ErrNotFound = errors.New("refresh token not found")
	// ErrRevoked is returned by Rotate for a record that was already revoked.
	ErrRevoked = errors.New("refresh token revoked")
	// ErrExpired is returned by Rotate for a record past its expiry.
	ErrExpired = errors.New("refresh token expired")
	// ErrSecretMismatch is returned by Rotate when the presented secret does
	// not match the stored digest.
	ErrSecretMismatch = errors.New("refresh token secret mismatch")
	// ErrUnavailable wraps backend I/O failures.
	ErrUnavailable = errors.New("refresh store unavailable")
	// ErrInvalidRecord is returned by Save for records missing required fields.
	ErrInvalidRecord = errors.New("invalid refresh record")
	// ErrDuplicateID is returned by Save and Rotate when a record with the
	// new identity already exists. The stored record is left untouched.
	ErrDuplicateID = errors.New("refresh token id already exists")
)

// Record is the persisted state of one refresh token.
type Record struct {
	ID         string
	Subject    string
	Role       string
	SecretHash [32]byte
	IssuedAt   time.Time
	ExpiresAt  time.Time
	// RevokedAt is zero while the record is active.
	RevokedAt time.Time
	// ReplacedBy names the successor when the record was revoked by rotation.
	ReplacedBy string
}

// Revoked reports whether the record has been revoked.
func (r Record) Revoked() bool {
	return !r.RevokedAt.IsZero()
}

// ActiveAt reports whether the record is usable at now.
func (r Record) ActiveAt(now time.Time) bool {
	return !r.Revoked() && now.Before(r.ExpiresAt)
}

func (r Record) validate() error {
	if strings.TrimSpace(r.Subject) == "" {
		return errors.Join(ErrInvalidRecord, errors.New("missing subject"))
	}
	return r.validateSuccessor()
}

// validateSuccessor checks the fields a caller must fill for Rotate; subject
// and role are inherited from the rotated record.
func (r Record) validateSuccessor() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return errors.Join(ErrInvalidRecord, errors.New("missing id"))
	case r.IssuedAt.IsZero() || !r.ExpiresAt.After(r.IssuedAt):
		return errors.Join(ErrInvalidRecord, errors.New("expiry must follow issue time"))
	}
	return nil
}

// Store persists refresh records. Implementations are safe for concurrent use
// and make every operation on one identity atomic.
type Store interface {
	// Save persists a new record. It returns only after the record is durable
	// for the backend, and never overwrites an existing identity.
	Save(ctx context.Context, rec Record) error
	// Find returns the record for id, revoked or expired ones included.
	Find(ctx context.Context, id string) (Record, error)
	// Revoke marks id revoked. Revoking a missing or revoked id is not an error.
	Revoke(ctx context.Context, id string) error
	// IsValid reports whether id exists, is not revoked and has not expired.
	IsValid(ctx context.Context, id string) (bool, error)
	// Rotate checks secretHash against id, revokes it and saves next under
	// the same subject and role in one atomic step. The returned record is
	// the stored successor, or the old record alongside ErrRevoked. A
	// successor identity that already exists fails with ErrDuplicateID and
	// leaves id active.
	Rotate(ctx context.Context, id string, secretHash [32]byte, next Record) (Record, error)
	// RevokeAllForSubject revokes every active record of subject.
	RevokeAllForSubject(ctx context.Context, subject string) error
}
