package refresh

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

const (
	idSize       = 16
	secretSize   = 32
	tokenRawSize = idSize + secretSize
)

// ErrMalformedToken is returned by DecodeToken for anything that is not a
// well-formed refresh token.
var ErrMalformedToken = errors.New("malformed refresh token")

// Secret is the random half of a refresh token.
type Secret [secretSize]byte

// Hash returns the digest stored in place of the secret.
func (s Secret) Hash() [32]byte {
	return sha256.Sum256(s[:])
}

// NewSecret draws a fresh random secret.
func NewSecret() (Secret, error) {
	var s Secret
	_, err := rand.Read(s[:])
	return s, err
}

// NewID returns a fresh token identity.
func NewID() string {
	return uuid.NewString()
}

// EncodeToken packs id and secret into the wire form handed to clients.
func EncodeToken(id string, secret Secret) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", err
	}

	var raw [tokenRawSize]byte
	copy(raw[:idSize], parsed[:])
	copy(raw[idSize:], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// DecodeToken splits a wire token into its identity and secret.
func DecodeToken(token string) (string, Secret, error) {
	var secret Secret

	if len(token) != base64.RawURLEncoding.EncodedLen(tokenRawSize) {
		return "", secret, ErrMalformedToken
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenRawSize {
		return "", secret, ErrMalformedToken
	}

	id, err := uuid.FromBytes(raw[:idSize])
	if err != nil {
		return "", secret, ErrMalformedToken
	}
	copy(secret[:], raw[idSize:])

	return id.String(), secret, nil
}
