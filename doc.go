// Package pubbleauth is the authentication and session engine of the pubble
// backend: stateless JWT access tokens paired with server-tracked, rotating
// refresh tokens.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Flows
//
//   - [Engine.SignIn] verifies a username and password and issues a
//     [TokenPair]. Unknown users, empty passwords and wrong passwords all fail
//     with [ErrInvalidCredentials].
//   - [Engine.Authenticate] turns an access token into a [Principal].
//   - [Engine.Refresh] rotates a refresh token. Presenting a token that was
//     already rotated revokes every refresh token of its subject.
//   - [Engine.Logout] revokes a refresh token and is idempotent. Access tokens
//     stay valid until they expire.
//
// # Architecture boundaries
//
// The root package exposes [Engine], [Builder], [Config] and value types.
// Flow orchestration, rate limiting and audit dispatch live under internal/.
// Storage backends for refresh tokens are in the refresh package; HTTP
// wiring is in middleware and internal/server.
package pubbleauth
