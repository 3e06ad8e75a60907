// Package httputil provides the outbound HTTP client used for all
// instance-to-instance and registry requests, plus small helpers for
// consistent JSON and OCS-envelope responses.
package httputil
