// Package token mints and verifies the short-lived signed bearer tokens the
// federation protocol passes between instances.
//
// Two token types exist: federation tokens carry an authenticated identity
// from the master to the owning slave (login direction), logout tokens
// travel the opposite way. Both are HMAC-SHA256 signed compact JWTs with a
// five minute lifetime; the embedded password, when present, is additionally
// AES-GCM encrypted because the token transits the browser query string.
package token
