// Package master implements the front door of a federated deployment. It
// never hosts the accounts itself: every login attempt is resolved to the
// owning instance through the lookup registry (with the discovery module as
// fallback for users the registry does not know yet) and answered with a
// redirect carrying a short-lived federation token. The caller executes the
// redirect; a nil redirect means the login proceeds locally.
package master
