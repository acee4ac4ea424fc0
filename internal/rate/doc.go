// Package rate implements sign-in throttling: a fixed window of attempts per
// username and, optionally, per client IP.
//
// # Window semantics
//
// Acquire reserves an attempt before credentials are checked. The first
// reservation opens a window of Cooldown; once a counter reaches
// MaxAttempts, Acquire rejects until the window closes. Release returns a
// reservation that must not count and Reset clears both counters after a
// successful sign-in. Usernames are trimmed and lower-cased before keying.
//
// Redis keys:
//   - <prefix>:lu:<username> - attempts per username
//   - <prefix>:li:<ip>       - attempts per IP
package rate
