// Package config loads and validates the site selector configuration from
// environment variables.
//
// A deployment runs in one of two modes:
//
//   - master: the front door. It never hosts federated accounts itself; it
//     resolves the owning instance for every login and redirects there.
//   - slave: a backend instance that owns accounts, accepts federation
//     tokens and keeps the lookup registry up to date.
//
// Both modes share a signing secret (GSS_JWT_SECRET) and a lookup registry
// URL (GSS_LOOKUP_URL). Everything else is mode specific and validated by
// Config.Validate.
package config
