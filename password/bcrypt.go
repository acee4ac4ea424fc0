package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt silently ignores input beyond 72 bytes; longer passwords are refused.
const bcryptMaxBytes = 72

// Bcrypt hashes and verifies passwords using bcrypt. Callers must not log
// plaintext passwords or the produced hashes.
type Bcrypt struct {
	Cost   int
	policy policy
}

// NewBcrypt returns a Bcrypt hasher with cost clamped to bcrypt's supported
// range (4..31). A zero cost selects 12.
func NewBcrypt(cost int) *Bcrypt {
	if cost == 0 {
		cost = 12
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	p := defaultPolicy()
	p.maxBytes = bcryptMaxBytes
	return &Bcrypt{Cost: cost, policy: p}
}

// Hash produces a bcrypt hash of password.
func (b *Bcrypt) Hash(password string) (string, error) {
	if err := b.policy.check(password); err != nil {
		return "", err
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.Cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify reports whether password matches the bcrypt hash. A mismatch is
// (false, nil); an unparsable hash is an error.
func (b *Bcrypt) Verify(password string, encodedHash string) (bool, error) {
	if !isBcrypt(encodedHash) {
		return false, ErrUnsupportedHash
	}
	if len(password) > b.policy.maxBytes {
		return false, ErrPasswordTooLong
	}
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// NeedsUpgrade reports whether the stored hash uses a lower cost than b.
func (b *Bcrypt) NeedsUpgrade(encodedHash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, err
	}
	return cost < b.Cost, nil
}

func isBcrypt(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}
