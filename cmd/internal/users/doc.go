// Package users is the user directory consulted by login and by the auth
// middleware: registration, lookup by email and lookup by id.
//
// Passwords arrive already hashed; this package never sees plaintext.
package users
