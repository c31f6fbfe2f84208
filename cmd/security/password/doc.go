// Package password hashes and verifies user passwords for learnhub.
//
// Two algorithms sit behind the Hasher interface:
//   - Argon2id, encoded in a PHC-like string ($argon2id$v=19$m=..,t=..,p=..$salt$hash)
//   - bcrypt, as produced by golang.org/x/crypto/bcrypt
//
// The algorithm is chosen once from configuration. Verify recognizes both encodings,
// so switching algorithms does not lock out existing users.
//
// Hash strings are treated as untrusted input during Verify.
package password
