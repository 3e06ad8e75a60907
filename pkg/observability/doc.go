// Package observability bundles the operational surface shared by both
// operating modes: structured logging, Prometheus metrics and the health
// endpoints. Everything here is wiring; the business packages only ever see a
// logger and a Metrics value.
package observability
