package refresh

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/pubble-team/pubbleauth/internal/dbx"
)

const (
	sqlInsertRecord = `
		INSERT INTO refresh_tokens (id, subject, role, secret_hash, issued_at, expires_at, revoked_at, replaced_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	sqlSelectRecord = `
		SELECT subject, role, secret_hash, issued_at, expires_at, revoked_at, replaced_by
		FROM refresh_tokens
		WHERE id = $1
	`
	sqlRevokeRecord = `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE id = $2 AND revoked_at IS NULL
	`
	sqlMarkRotated = `
		UPDATE refresh_tokens
		SET revoked_at = $1, replaced_by = $2
		WHERE id = $3 AND revoked_at IS NULL
	`
	sqlRevokeSubject = `
		UPDATE refresh_tokens
		SET revoked_at = $1
		WHERE subject = $2 AND revoked_at IS NULL
	`
	sqlDeleteExpired = `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1
	`
)

// SQLStore persists records in the refresh_tokens table through database/sql.
// Rotation relies on a conditional UPDATE inside a transaction, so two
// concurrent rotations of one identity cannot both succeed.
type SQLStore struct {
	db      *sql.DB
	dialect dbx.Dialect
	now     func() time.Time
}

// NewSQLStore returns a store over db. A nil now uses time.Now.
func NewSQLStore(db *sql.DB, dialect dbx.Dialect, now func() time.Time) *SQLStore {
	if now == nil {
		now = time.Now
	}
	return &SQLStore{db: db, dialect: dialect, now: now}
}

func (s *SQLStore) q(query string) string {
	return dbx.Rebind(s.dialect, query)
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	return s.insert(ctx, s.db, rec)
}

func (s *SQLStore) insert(ctx context.Context, db dbx.DBTX, rec Record) error {
	var revoked sql.NullInt64
	if rec.Revoked() {
		revoked = sql.NullInt64{Int64: rec.RevokedAt.UnixMilli(), Valid: true}
	}
	var replaced sql.NullString
	if rec.ReplacedBy != "" {
		replaced = sql.NullString{String: rec.ReplacedBy, Valid: true}
	}

	_, err := db.ExecContext(ctx, s.q(sqlInsertRecord),
		rec.ID,
		rec.Subject,
		rec.Role,
		hex.EncodeToString(rec.SecretHash[:]),
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		revoked,
		replaced,
	)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Find implements Store.
func (s *SQLStore) Find(ctx context.Context, id string) (Record, error) {
	return s.find(ctx, s.db, id)
}

func (s *SQLStore) find(ctx context.Context, db dbx.DBTX, id string) (Record, error) {
	var (
		rec       = Record{ID: id}
		hashHex   string
		issuedAt  int64
		expiresAt int64
		revokedAt sql.NullInt64
		replaced  sql.NullString
	)
	err := db.QueryRowContext(ctx, s.q(sqlSelectRecord), id).Scan(
		&rec.Subject,
		&rec.Role,
		&hashHex,
		&issuedAt,
		&expiresAt,
		&revokedAt,
		&replaced,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hash, err := hex.DecodeString(hashHex)
	if err != nil || len(hash) != len(rec.SecretHash) {
		return Record{}, fmt.Errorf("%w: corrupt secret hash for %s", ErrUnavailable, id)
	}
	copy(rec.SecretHash[:], hash)
	rec.IssuedAt = time.UnixMilli(issuedAt).UTC()
	rec.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	if revokedAt.Valid {
		rec.RevokedAt = time.UnixMilli(revokedAt.Int64).UTC()
	}
	if replaced.Valid {
		rec.ReplacedBy = replaced.String
	}
	return rec, nil
}

// Revoke implements Store.
func (s *SQLStore) Revoke(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q(sqlRevokeRecord), s.now().UnixMilli(), id); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsValid implements Store.
func (s *SQLStore) IsValid(ctx context.Context, id string) (bool, error) {
	rec, err := s.Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.ActiveAt(s.now()), nil
}

// Rotate implements Store.
func (s *SQLStore) Rotate(ctx context.Context, id string, secretHash [32]byte, next Record) (Record, error) {
	if err := next.validateSuccessor(); err != nil {
		return Record{}, err
	}

	var (
		stored Record
		result error
	)
	now := s.now()
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		old, err := s.find(ctx, tx, id)
		if err != nil {
			return err
		}
		if old.SecretHash != secretHash {
			result = ErrSecretMismatch
			return nil
		}
		if old.Revoked() {
			stored, result = old, ErrRevoked
			return nil
		}
		if !now.Before(old.ExpiresAt) {
			result = ErrExpired
			return nil
		}

		res, err := tx.ExecContext(ctx, s.q(sqlMarkRotated), now.UnixMilli(), next.ID, id)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if n == 0 {
			// A concurrent rotation or revoke won the row.
			old.RevokedAt = now
			stored, result = old, ErrRevoked
			return nil
		}

		next.Subject = old.Subject
		next.Role = old.Role
		next.RevokedAt = time.Time{}
		next.ReplacedBy = ""
		if err := s.insert(ctx, tx, next); err != nil {
			return err
		}
		stored = next
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateID) || errors.Is(err, ErrUnavailable) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return stored, result
}

// RevokeAllForSubject implements Store.
func (s *SQLStore) RevokeAllForSubject(ctx context.Context, subject string) error {
	if _, err := s.db.ExecContext(ctx, s.q(sqlRevokeSubject), s.now().UnixMilli(), subject); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Sweep deletes records that expired at or before now and returns how many
// rows were removed.
func (s *SQLStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(sqlDeleteExpired), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}
