// Package directory owns the account table a federated instance keeps for
// the users it hosts: provisioning on first login, attribute updates, group
// membership, the per-user SSO provider state and the session records the
// HTTP layer writes after a successful automatic login. The PseudoBackend
// is the user-provider facade the login pipeline talks to; for federated
// logins its password check is trust reflection against the session uid,
// never a credential check.
package directory
