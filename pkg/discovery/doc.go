// Package discovery hosts the fallback resolvers used when the lookup
// registry has no entry yet for a brand-new federated identity.
//
// Exactly one module is active, selected by configuration. Every variant is
// a pure function of the SSO profile with no side effects beyond network I/O
// and logging; an empty result simply means "this module does not know
// either" and the login fails with an unknown-account error upstream.
package discovery
