package refresh

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 64

type memoryShard struct {
	mu      sync.Mutex
	records map[string]Record
}

// MemoryStore keeps records in process memory, split over mutex-guarded
// shards keyed by token identity.
type MemoryStore struct {
	shards [memoryShards]memoryShard
	now    func() time.Time
}

// NewMemoryStore returns an empty MemoryStore. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	s := &MemoryStore{now: now}
	for i := range s.shards {
		s.shards[i].records = make(map[string]Record)
	}
	return s
}

func (s *MemoryStore) shard(id string) *memoryShard {
	return &s.shards[s.shardIndex(id)]
}

// Save implements Store.
func (s *MemoryStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := rec.validate(); err != nil {
		return err
	}
	sh := s.shard(rec.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.records[rec.ID]; ok {
		return ErrDuplicateID
	}
	sh.records[rec.ID] = rec
	return nil
}

// Find implements Store.
func (s *MemoryStore) Find(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	sh := s.shard(id)
	sh.mu.Lock()
	rec, ok := sh.records[id]
	sh.mu.Unlock()
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Revoke implements Store.
func (s *MemoryStore) Revoke(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	rec, ok := sh.records[id]
	if !ok || rec.Revoked() {
		return nil
	}
	rec.RevokedAt = s.now()
	sh.records[id] = rec
	return nil
}

// IsValid implements Store.
func (s *MemoryStore) IsValid(ctx context.Context, id string) (bool, error) {
	rec, err := s.Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.ActiveAt(s.now()), nil
}

// Rotate implements Store. When the old and new identities live in
// different shards both are locked, lower shard index first.
func (s *MemoryStore) Rotate(ctx context.Context, id string, secretHash [32]byte, next Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	sh, nsh := s.lockPair(id, next.ID)
	defer s.unlockPair(sh, nsh)

	old, ok := sh.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if old.SecretHash != secretHash {
		return Record{}, ErrSecretMismatch
	}
	if old.Revoked() {
		return old, ErrRevoked
	}
	now := s.now()
	if !now.Before(old.ExpiresAt) {
		return Record{}, ErrExpired
	}

	next.Subject = old.Subject
	next.Role = old.Role
	next.RevokedAt = time.Time{}
	next.ReplacedBy = ""
	if err := next.validate(); err != nil {
		return Record{}, err
	}
	if _, taken := nsh.records[next.ID]; taken {
		return Record{}, ErrDuplicateID
	}

	old.RevokedAt = now
	old.ReplacedBy = next.ID
	sh.records[id] = old
	nsh.records[next.ID] = next

	return next, nil
}

func (s *MemoryStore) shardIndex(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32() % memoryShards
}

func (s *MemoryStore) lockPair(a, b string) (*memoryShard, *memoryShard) {
	ia, ib := s.shardIndex(a), s.shardIndex(b)
	sa, sb := &s.shards[ia], &s.shards[ib]
	switch {
	case ia == ib:
		sa.mu.Lock()
	case ia < ib:
		sa.mu.Lock()
		sb.mu.Lock()
	default:
		sb.mu.Lock()
		sa.mu.Lock()
	}
	return sa, sb
}

func (s *MemoryStore) unlockPair(a, b *memoryShard) {
	a.mu.Unlock()
	if b != a {
		b.mu.Unlock()
	}
}

// RevokeAllForSubject implements Store. Shards are visited one at a time.
func (s *MemoryStore) RevokeAllForSubject(ctx context.Context, subject string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now()
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, rec := range sh.records {
			if rec.Subject == subject && !rec.Revoked() {
				rec.RevokedAt = now
				sh.records[id] = rec
			}
		}
		sh.mu.Unlock()
	}
	return nil
}

// Sweep drops records whose expiry is not after now and returns how many
// were removed. Revoked records are kept until they expire so that Rotate
// can still report ErrRevoked for them.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, rec := range sh.records {
			if !now.Before(rec.ExpiresAt) {
				delete(sh.records, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored records, revoked ones included.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}
