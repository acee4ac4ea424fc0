package refresh

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusRevoked  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusExpired  int64 = 3
	rotateStatusRotated  int64 = 4
	rotateStatusTaken    int64 = 5
)

// Hash fields: sub, role, hash (hex sha256), iat/exp/rev (unix ms, rev "0"
// while active), next (successor id after rotation).
const saveScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "sub", ARGV[1],
  "role", ARGV[2],
  "hash", ARGV[3],
  "iat", ARGV[4],
  "exp", ARGV[5],
  "rev", ARGV[6],
  "next", ARGV[7])
redis.call("PEXPIREAT", KEYS[1], ARGV[5])
redis.call("SADD", KEYS[2], ARGV[8])
redis.call("PEXPIREAT", KEYS[2], ARGV[5])
return 1
`

var saveLua = redis.NewScript(saveScript)

const revokeScript = `
local rev = redis.call("HGET", KEYS[1], "rev")
if not rev then
  return 0
end
if rev == "0" then
  redis.call("HSET", KEYS[1], "rev", ARGV[1])
  return 1
end
return 2
`

var revokeLua = redis.NewScript(revokeScript)

const revokeAllScript = `
local ids = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  local rev = redis.call("HGET", key, "rev")
  if not rev then
    redis.call("SREM", KEYS[1], id)
  elseif rev == "0" then
    redis.call("HSET", key, "rev", ARGV[2])
    revoked = revoked + 1
  end
end
return revoked
`

var revokeAllLua = redis.NewScript(revokeAllScript)

const rotateScript = `
local rec = redis.call("HMGET", KEYS[1], "sub", "role", "hash", "exp", "rev", "next")
if not rec[1] then
  return {0}
end
if rec[3] ~= ARGV[1] then
  return {2}
end
if rec[5] ~= "0" then
  return {1, rec[1], rec[2], rec[6] or ""}
end
if tonumber(rec[4]) <= tonumber(ARGV[2]) then
  return {3}
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return {5}
end

redis.call("HSET", KEYS[1], "rev", ARGV[2], "next", ARGV[3])
redis.call("HSET", KEYS[2],
  "sub", rec[1],
  "role", rec[2],
  "hash", ARGV[4],
  "iat", ARGV[5],
  "exp", ARGV[6],
  "rev", "0",
  "next", "")
redis.call("PEXPIREAT", KEYS[2], ARGV[6])

local subject_key = ARGV[7] .. rec[1]
redis.call("SADD", subject_key, ARGV[3])
redis.call("PEXPIREAT", subject_key, ARGV[6])

return {4, rec[1], rec[2]}
`

var rotateLua = redis.NewScript(rotateScript)

// RedisStore keeps one hash per record, expiring at the record's expiry, and
// a set of identities per subject for bulk revocation.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore returns a store using keys under prefix. A nil now uses
// time.Now.
func NewRedisStore(client redis.UniversalClient, prefix string, now func() time.Time) *RedisStore {
	if prefix == "" {
		prefix = "pubble"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisStore{redis: client, prefix: prefix, now: now}
}

func (s *RedisStore) recordPrefix() string {
	return s.prefix + ":rt:"
}

func (s *RedisStore) subjectPrefix() string {
	return s.prefix + ":rts:"
}

func (s *RedisStore) key(id string) string {
	return s.recordPrefix() + id
}

func (s *RedisStore) subjectKey(subject string) string {
	return s.subjectPrefix() + subject
}

// Save implements Store. The existence check and the writes run in one
// script, so two saves of one identity cannot both succeed.
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	if err := rec.validate(); err != nil {
		return err
	}

	rev := "0"
	if rec.Revoked() {
		rev = strconv.FormatInt(rec.RevokedAt.UnixMilli(), 10)
	}

	created, err := saveLua.Run(
		ctx,
		s.redis,
		[]string{s.key(rec.ID), s.subjectKey(rec.Subject)},
		rec.Subject,
		rec.Role,
		hex.EncodeToString(rec.SecretHash[:]),
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		rev,
		rec.ReplacedBy,
		rec.ID,
	).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if created == 0 {
		return ErrDuplicateID
	}
	return nil
}

// Find implements Store.
func (s *RedisStore) Find(ctx context.Context, id string) (Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(fields) == 0 {
		return Record{}, ErrNotFound
	}
	return decodeRedisRecord(id, fields)
}

// Revoke implements Store.
func (s *RedisStore) Revoke(ctx context.Context, id string) error {
	err := revokeLua.Run(ctx, s.redis, []string{s.key(id)}, s.now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsValid implements Store.
func (s *RedisStore) IsValid(ctx context.Context, id string) (bool, error) {
	rec, err := s.Find(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.ActiveAt(s.now()), nil
}

// Rotate implements Store using a Lua compare-and-swap.
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) Rotate(ctx context.Context, id string, secretHash [32]byte, next Record) (Record, error) {
	if err := next.validateSuccessor(); err != nil {
		return Record{}, err
	}

	now := s.now()
	result, err := rotateLua.Run(
		ctx,
		s.redis,
		[]string{s.key(id), s.key(next.ID)},
		hex.EncodeToString(secretHash[:]),
		now.UnixMilli(),
		next.ID,
		hex.EncodeToString(next.SecretHash[:]),
		next.IssuedAt.UnixMilli(),
		next.ExpiresAt.UnixMilli(),
		s.subjectPrefix(),
	).Result()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return Record{}, fmt.Errorf("%w: invalid rotate script response", ErrUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return Record{}, fmt.Errorf("%w: invalid rotate script status", ErrUnavailable)
	}

	switch code {
	case rotateStatusNotFound:
		return Record{}, ErrNotFound
	case rotateStatusMismatch:
		return Record{}, ErrSecretMismatch
	case rotateStatusExpired:
		return Record{}, ErrExpired
	case rotateStatusTaken:
		return Record{}, ErrDuplicateID
	case rotateStatusRevoked:
		if len(parts) < 4 {
			return Record{}, fmt.Errorf("%w: short revoked reply", ErrUnavailable)
		}
		return Record{
			ID:         id,
			Subject:    replyString(parts[1]),
			Role:       replyString(parts[2]),
			ReplacedBy: replyString(parts[3]),
		}, ErrRevoked
	case rotateStatusRotated:
		if len(parts) < 3 {
			return Record{}, fmt.Errorf("%w: short rotated reply", ErrUnavailable)
		}
		next.Subject = replyString(parts[1])
		next.Role = replyString(parts[2])
		next.RevokedAt = time.Time{}
		next.ReplacedBy = ""
		return next, nil
	default:
		return Record{}, fmt.Errorf("%w: unknown rotate script status", ErrUnavailable)
	}
}

// RevokeAllForSubject implements Store. Stale identities whose record has
// already expired are pruned from the subject set on the way.
func (s *RedisStore) RevokeAllForSubject(ctx context.Context, subject string) error {
	err := revokeAllLua.Run(
		ctx,
		s.redis,
		[]string{s.subjectKey(subject)},
		s.recordPrefix(),
		s.now().UnixMilli(),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Ping checks Redis availability and reports latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return time.Since(start), nil
}

func replyString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}

func decodeRedisRecord(id string, fields map[string]string) (Record, error) {
	rec := Record{
		ID:         id,
		Subject:    fields["sub"],
		Role:       fields["role"],
		ReplacedBy: fields["next"],
	}

	hash, err := hex.DecodeString(fields["hash"])
	if err != nil || len(hash) != len(rec.SecretHash) {
		return Record{}, fmt.Errorf("%w: corrupt secret hash for %s", ErrUnavailable, id)
	}
	copy(rec.SecretHash[:], hash)

	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt iat for %s", ErrUnavailable, id)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt exp for %s", ErrUnavailable, id)
	}
	rev, err := strconv.ParseInt(fields["rev"], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("%w: corrupt rev for %s", ErrUnavailable, id)
	}

	rec.IssuedAt = time.UnixMilli(iat).UTC()
	rec.ExpiresAt = time.UnixMilli(exp).UTC()
	if rev != 0 {
		rec.RevokedAt = time.UnixMilli(rev).UTC()
	}
	return rec, nil
}
