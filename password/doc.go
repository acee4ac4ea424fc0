// Package password hashes and verifies user passwords.
//
// New hashes use bcrypt (cost 4..31, default 12) or Argon2id in PHC format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Multi] verifies either format regardless of which one it hashes with, and
// [Multi.NeedsUpgrade] reports stored hashes that should be re-hashed on the
// next successful sign-in.
//
// This package owns hashing only. It never stores passwords and never logs
// plaintext or hash material.
package password
