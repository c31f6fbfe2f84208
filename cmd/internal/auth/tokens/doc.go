// Package tokens is the token codec for learnhub sessions.
//
// It mints and verifies two independent classes of HS256 JWTs, access and
// refresh, each with its own secret and lifetime. Verification distinguishes
// expiry (ErrTokenExpired, ErrRefreshExpired) from every other failure
// (ErrTokenInvalid) so transports can offer a refresh path on expiry only.
//
// The codec is pure apart from its clock: it performs no I/O and has no
// load-time side effects. SelfCheck is the explicit startup health check.
package tokens
