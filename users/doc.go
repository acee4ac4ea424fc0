// Package users provides the account stores behind [pubbleauth.UserProvider]:
// an in-memory map for tests and single-node setups, and a database/sql
// store over the users table created by internal/database.
//
// Usernames are matched case-insensitively and stored lowercased. Both stores
// also implement [pubbleauth.PasswordHashUpdater].
package users
