// Package backend classifies how a login request was authenticated and
// extracts a uniform identity from the authenticating provider. A login is
// either plain (username and password against the local database), SAML
// (a verified assertion) or OIDC (a verified ID token); the federation
// token and the discovery fallback both consume the extracted identity
// without caring which provider produced it.
package backend
