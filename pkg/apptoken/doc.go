// Package apptoken issues device app passwords for native clients. The
// master cannot hand a browser session to a desktop or mobile client, so
// after verifying a federation token the owning instance mints a long-lived
// random secret instead; only its SHA-256 hash is stored.
package apptoken
