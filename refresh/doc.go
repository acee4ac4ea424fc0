// Package refresh owns opaque refresh tokens and their server-side records.
//
// # Token format
//
// A refresh token is base64url (no padding) over 48 bytes: the 16-byte UUID
// of the record followed by a 32-byte random secret. Stores keep only the
// SHA-256 of the secret, never the token itself.
//
// # Stores
//
// [Store] has three implementations: [MemoryStore] (sharded maps),
// [RedisStore] (hash per record, Lua for revoke and rotate) and [SQLStore]
// (database/sql with conditional updates). All of them keep operations on a
// single token identity atomic without serializing unrelated identities.
package refresh
