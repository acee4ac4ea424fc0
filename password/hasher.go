package password

import (
	"errors"
	"fmt"
	"strings"
)

// Algorithm names a supported hashing scheme.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

const (
	defaultMinBytes = 8
	defaultMaxBytes = 1024
)

var (
	// ErrPasswordTooShort is returned by Hash for passwords under the minimum length.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned when a password exceeds the algorithm limit.
	ErrPasswordTooLong = errors.New("password too long")
	// ErrUnsupportedHash is returned when a stored hash is not in a known format.
	ErrUnsupportedHash = errors.New("unsupported password hash format")
)

// Hasher hashes new passwords and verifies stored ones.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) (bool, error)
	NeedsUpgrade(encodedHash string) (bool, error)
}

// Config selects the algorithm used for new hashes and its cost.
type Config struct {
	Algorithm  Algorithm
	BcryptCost int
	Argon2     Argon2Config
}

type policy struct {
	minBytes int
	maxBytes int
}

func defaultPolicy() policy {
	return policy{minBytes: defaultMinBytes, maxBytes: defaultMaxBytes}
}

func (p policy) check(password string) error {
	if len(password) < p.minBytes {
		return fmt.Errorf("%w: need at least %d bytes", ErrPasswordTooShort, p.minBytes)
	}
	if len(password) > p.maxBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// Multi hashes with a primary algorithm and verifies any supported stored
// format, dispatching on the hash prefix. This lets existing bcrypt hashes
// keep working after a switch to argon2id and the other way round.
type Multi struct {
	primary Algorithm
	bcrypt  *Bcrypt
	argon2  *Argon2
}

// New returns a Multi hasher for cfg. An empty Algorithm selects bcrypt.
func New(cfg Config) (*Multi, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(string(cfg.Algorithm))))
	if alg == "" {
		alg = AlgorithmBcrypt
	}
	if alg != AlgorithmBcrypt && alg != AlgorithmArgon2id {
		return nil, fmt.Errorf("unsupported password algorithm %q", cfg.Algorithm)
	}

	a2cfg := cfg.Argon2
	if a2cfg == (Argon2Config{}) {
		a2cfg = DefaultArgon2Config()
	}
	a2, err := NewArgon2(a2cfg)
	if err != nil {
		return nil, err
	}

	return &Multi{primary: alg, bcrypt: NewBcrypt(cfg.BcryptCost), argon2: a2}, nil
}

// Algorithm returns the algorithm used for new hashes.
func (m *Multi) Algorithm() Algorithm {
	return m.primary
}

// Hash hashes password with the primary algorithm.
func (m *Multi) Hash(password string) (string, error) {
	if m.primary == AlgorithmArgon2id {
		return m.argon2.Hash(password)
	}
	return m.bcrypt.Hash(password)
}

// Verify checks password against a bcrypt or argon2id hash.
func (m *Multi) Verify(password, encodedHash string) (bool, error) {
	switch {
	case isBcrypt(encodedHash):
		return m.bcrypt.Verify(password, encodedHash)
	case strings.HasPrefix(encodedHash, argon2Prefix):
		return m.argon2.Verify(password, encodedHash)
	default:
		return false, ErrUnsupportedHash
	}
}

// NeedsUpgrade reports true when the stored hash uses a different algorithm
// than the primary one, or weaker parameters of the same algorithm.
func (m *Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	switch {
	case isBcrypt(encodedHash):
		if m.primary != AlgorithmBcrypt {
			return true, nil
		}
		return m.bcrypt.NeedsUpgrade(encodedHash)
	case strings.HasPrefix(encodedHash, argon2Prefix):
		if m.primary != AlgorithmArgon2id {
			return true, nil
		}
		return m.argon2.NeedsUpgrade(encodedHash)
	default:
		return false, ErrUnsupportedHash
	}
}
