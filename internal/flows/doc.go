// Package flows holds the orchestration behind every Engine operation:
// sign-in, token issuance, refresh rotation, authentication and logout.
//
// Each Run* function takes a typed dependency struct and returns a result
// carrying a failure kind instead of a public error. The root package maps
// kinds to its sentinels, metrics and audit events, so flows never import it.
//
// Flows hold no state between calls and do no I/O of their own; stores,
// limiters and signers arrive through the deps.
package flows
