// Package jwt issues and verifies signed access tokens carrying a subject and
// a role. Verification tells expired tokens apart from every other failure so
// callers can react to expiry separately.
package jwt
