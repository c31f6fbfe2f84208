// Package token hashes bearer tokens before they are stored server-side.
//
// Sessions keep only a digest of each access and refresh token; lookups hash the
// presented value and compare digests. With a key configured the digest is
// HMAC-SHA256(token, key); without one it falls back to plain SHA-256, which is
// acceptable for development only. Output is always 64 lowercase hex chars.
package token
