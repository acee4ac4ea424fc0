package pubbleauth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pubble-team/pubbleauth/password"
	"github.com/pubble-team/pubbleauth/refresh"
	"github.com/redis/go-redis/v9"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	// Redis records expire at absolute times, so stay close to the wall clock.
	return &testClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testUsers struct {
	mu      sync.Mutex
	users   map[string]UserRecord
	lookups int
	failAll error
	updates map[string]string
}

func newTestUsers(t testing.TB, entries ...[3]string) *testUsers {
	t.Helper()
	h := password.NewBcrypt(4)
	up := &testUsers{users: map[string]UserRecord{}, updates: map[string]string{}}
	for _, e := range entries {
		hash, err := h.Hash(e[1])
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		up.users[strings.ToLower(e[0])] = UserRecord{
			UserID:       "uid-" + e[0],
			Username:     e[0],
			PasswordHash: hash,
			Role:         e[2],
		}
	}
	return up
}

func (u *testUsers) GetUserByUsername(_ context.Context, username string) (UserRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.lookups++
	if u.failAll != nil {
		return UserRecord{}, u.failAll
	}
	rec, ok := u.users[strings.ToLower(username)]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return rec, nil
}

func (u *testUsers) UpdatePasswordHash(_ context.Context, userID, newHash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.updates[userID] = newHash
	for k, rec := range u.users {
		if rec.UserID == userID {
			rec.PasswordHash = newHash
			u.users[k] = rec
		}
	}
	return nil
}

// failingStore wraps a Store and fails selected calls.
type failingStore struct {
	refresh.Store
	saveErr   error
	findErr   error
	rotateErr error
}

func (s *failingStore) Save(ctx context.Context, rec refresh.Record) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	return s.Store.Save(ctx, rec)
}

func (s *failingStore) Find(ctx context.Context, id string) (refresh.Record, error) {
	if s.findErr != nil {
		return refresh.Record{}, s.findErr
	}
	return s.Store.Find(ctx, id)
}

func (s *failingStore) Rotate(ctx context.Context, id string, secretHash [32]byte, next refresh.Record) (refresh.Record, error) {
	if s.rotateErr != nil {
		return refresh.Record{}, s.rotateErr
	}
	return s.Store.Rotate(ctx, id, secretHash, next)
}

var errDiskFull = errors.New("disk full")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = testSecret
	cfg.JWT.Leeway = 0
	cfg.Password.BcryptCost = 4
	cfg.Password.UpgradeOnLogin = false
	return cfg
}

type engineOpts struct {
	mutate func(*Config)
	store  refresh.Store
	redis  bool
	sink   AuditSink
}

func newTestEngine(t testing.TB, up UserProvider, clock *testClock, opts engineOpts) *Engine {
	t.Helper()

	cfg := testConfig()
	if opts.mutate != nil {
		opts.mutate(&cfg)
	}

	b := New().WithConfig(cfg).WithUserProvider(up).WithClock(clock.Now)
	if opts.redis {
		mr, err := miniredis.Run()
		if err != nil {
			t.Fatalf("miniredis: %v", err)
		}
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() {
			rdb.Close()
			mr.Close()
		})
		b = b.WithRedis(rdb)
	}
	if opts.store != nil {
		b = b.WithRefreshStore(opts.store)
	} else if !opts.redis {
		b = b.WithRefreshStore(refresh.NewMemoryStore(clock.Now))
	}
	if opts.sink != nil {
		b = b.WithAuditSink(opts.sink)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}
