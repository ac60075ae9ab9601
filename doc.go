// Package gapi implements the request-dispatch core shared by clients of
// Google-style REST APIs: a serial job engine with HTTP-status-driven error
// classification, redirect following, pagination and quota backoff, plus the
// Account credential model consumed by the auth and accounts subpackages.
//
// Per-resource serialization is deliberately not part of this package. Verb
// jobs hand raw response bodies to caller-supplied parse hooks and accumulate
// whatever those hooks produce.
package gapi
