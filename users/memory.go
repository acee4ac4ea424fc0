package users

import (
	"context"
	"fmt"
	"sync"

	"github.com/pubble-team/pubbleauth"
)

// MemoryProvider keeps accounts in a map. It is safe for concurrent use.
type MemoryProvider struct {
	mu     sync.RWMutex
	byName map[string]pubbleauth.UserRecord
}

func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{byName: make(map[string]pubbleauth.UserRecord)}
}

// Create stores u, assigning a UserID when empty.
func (p *MemoryProvider) Create(ctx context.Context, u pubbleauth.UserRecord) (pubbleauth.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return pubbleauth.UserRecord{}, err
	}
	u, err := prepare(u)
	if err != nil {
		return pubbleauth.UserRecord{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byName[u.Username]; exists {
		return pubbleauth.UserRecord{}, ErrDuplicateUsername
	}
	p.byName[u.Username] = u
	return u, nil
}

// GetUserByUsername implements pubbleauth.UserProvider.
func (p *MemoryProvider) GetUserByUsername(ctx context.Context, username string) (pubbleauth.UserRecord, error) {
	if err := ctx.Err(); err != nil {
		return pubbleauth.UserRecord{}, err
	}

	p.mu.RLock()
	u, ok := p.byName[NormalizeUsername(username)]
	p.mu.RUnlock()
	if !ok {
		return pubbleauth.UserRecord{}, pubbleauth.ErrUserNotFound
	}
	return u, nil
}

// UpdatePasswordHash implements pubbleauth.PasswordHashUpdater.
func (p *MemoryProvider) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, u := range p.byName {
		if u.UserID == userID {
			u.PasswordHash = newHash
			p.byName[name] = u
			return nil
		}
	}
	return fmt.Errorf("update password hash for %s: %w", userID, pubbleauth.ErrUserNotFound)
}

func (p *MemoryProvider) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byName)
}
