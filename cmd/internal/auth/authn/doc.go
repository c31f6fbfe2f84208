// Package authn resolves bearer tokens to an authenticated identity on
// inbound HTTP requests.
//
// Required rejects unauthenticated requests with a stable error code.
// Optional never rejects: any failure yields an anonymous request.
package authn
