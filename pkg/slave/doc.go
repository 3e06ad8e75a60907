// Package slave implements the account-owning side of a federated
// deployment: it verifies federation tokens minted by the front door, logs
// the user in (auto-provisioning SSO accounts on first sight), mints device
// app tokens, keeps the lookup registry in sync with the local account
// table and federates logout back to the front door.
//
// Login results are returned as values; the HTTP layer writes the session
// and executes redirects. A failed or expired token never errors out to the
// user, it sends them back to the front door to start over.
package slave
