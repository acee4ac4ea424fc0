package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pubble-team/pubbleauth"
	"github.com/pubble-team/pubbleauth/internal/dbx"
)

const (
	sqlInsertUser = `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	sqlSelectUserByName = `
		SELECT id, username, password_hash, role
		FROM users
		WHERE username = $1
	`
	sqlUpdatePasswordHash = `
		UPDATE users
		SET password_hash = $1
		WHERE id = $2
	`
)

// SQLProvider reads and writes the users table.
type SQLProvider struct {
	db      *sql.DB
	dialect dbx.Dialect
	now     func() time.Time
}

// NewSQLProvider returns a provider over db. A nil now uses time.Now.
func NewSQLProvider(db *sql.DB, dialect dbx.Dialect, now func() time.Time) *SQLProvider {
	if now == nil {
		now = time.Now
	}
	return &SQLProvider{db: db, dialect: dialect, now: now}
}

func (p *SQLProvider) q(query string) string {
	return dbx.Rebind(p.dialect, query)
}

// Create inserts u, assigning a UserID when empty.
func (p *SQLProvider) Create(ctx context.Context, u pubbleauth.UserRecord) (pubbleauth.UserRecord, error) {
	u, err := prepare(u)
	if err != nil {
		return pubbleauth.UserRecord{}, err
	}

	_, err = p.db.ExecContext(ctx, p.q(sqlInsertUser),
		u.UserID,
		u.Username,
		u.PasswordHash,
		u.Role,
		p.now().UnixMilli(),
	)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return pubbleauth.UserRecord{}, ErrDuplicateUsername
		}
		return pubbleauth.UserRecord{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

// GetUserByUsername implements pubbleauth.UserProvider.
func (p *SQLProvider) GetUserByUsername(ctx context.Context, username string) (pubbleauth.UserRecord, error) {
	var u pubbleauth.UserRecord
	err := p.db.QueryRowContext(ctx, p.q(sqlSelectUserByName), NormalizeUsername(username)).
		Scan(&u.UserID, &u.Username, &u.PasswordHash, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return pubbleauth.UserRecord{}, pubbleauth.ErrUserNotFound
	}
	if err != nil {
		return pubbleauth.UserRecord{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// UpdatePasswordHash implements pubbleauth.PasswordHashUpdater.
func (p *SQLProvider) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	res, err := p.db.ExecContext(ctx, p.q(sqlUpdatePasswordHash), newHash, userID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update password hash for %s: %w", userID, pubbleauth.ErrUserNotFound)
	}
	return nil
}
