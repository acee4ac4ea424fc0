package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pubble-team/pubbleauth"
	"github.com/pubble-team/pubbleauth/internal/config"
	"github.com/pubble-team/pubbleauth/internal/database"
	"github.com/pubble-team/pubbleauth/internal/logging"
	"github.com/pubble-team/pubbleauth/refresh"
	"github.com/pubble-team/pubbleauth/users"
)

const sweepInterval = 10 * time.Minute

type userStore interface {
	pubbleauth.UserProvider
	Create(ctx context.Context, u pubbleauth.UserRecord) (pubbleauth.UserRecord, error)
}

// resources owns the connections opened for the stores. The same backend
// is opened once even when both stores use it.
type resources struct {
	logger     logging.Logger
	dbs        map[string]*sql.DB
	closers    []func()
	sweepEvery time.Duration
}

func newResources(logger logging.Logger) *resources {
	return &resources{
		logger:     logger,
		dbs:        make(map[string]*sql.DB),
		sweepEvery: sweepInterval,
	}
}

func (r *resources) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (r *resources) db(ctx context.Context, cfg *config.Config, store string) (*sql.DB, error) {
	if db, ok := r.dbs[store]; ok {
		return db, nil
	}
	db, err := database.OpenAndMigrate(ctx, config.Dialect(store), cfg.DSN(store))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", store, err)
	}
	r.dbs[store] = db
	r.closers = append(r.closers, func() { _ = db.Close() })
	return db, nil
}

func (r *resources) userStore(ctx context.Context, cfg *config.Config) (userStore, error) {
	if cfg.UserStore == config.StoreMemory {
		r.logger.Warn(ctx, "user store is in process memory; accounts are lost on restart")
		return users.NewMemoryProvider(), nil
	}
	db, err := r.db(ctx, cfg, cfg.UserStore)
	if err != nil {
		return nil, err
	}
	return users.NewSQLProvider(db, config.Dialect(cfg.UserStore), time.Now), nil
}

// refreshStore configures b with the backend named by REFRESH_STORE and
// starts a background sweep for backends without native expiry.
func (r *resources) refreshStore(ctx context.Context, cfg *config.Config, b *pubbleauth.Builder) error {
	switch cfg.RefreshStore {
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		r.closers = append(r.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		b.WithRedis(client)
	case config.StoreMemory:
		store := refresh.NewMemoryStore(time.Now)
		b.WithRefreshStore(store)
		r.sweep(ctx, func(_ context.Context, now time.Time) (int64, error) {
			return int64(store.Sweep(now)), nil
		})
	default:
		db, err := r.db(ctx, cfg, cfg.RefreshStore)
		if err != nil {
			return err
		}
		store := refresh.NewSQLStore(db, config.Dialect(cfg.RefreshStore), time.Now)
		b.WithRefreshStore(store)
		r.sweep(ctx, store.Sweep)
	}
	return nil
}

// sweep runs fn every sweepEvery until close. fn gets the sweep's own
// context, which close cancels before waiting for an in-flight run, so a
// sweep never outlives the connections closed after it.
func (r *resources) sweep(ctx context.Context, fn func(ctx context.Context, now time.Time) (int64, error)) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.closers = append(r.closers, func() {
		cancel()
		<-done
	})

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.sweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				n, err := fn(ctx, now)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					r.logger.Warn(ctx, "refresh sweep failed", "error", err)
					continue
				}
				if n > 0 {
					r.logger.Debug(ctx, "refresh sweep", "removed", n)
				}
			}
		}
	}()
}
