// Package observability provides structured logging and Prometheus metrics
// for the HITL gateway.
//
// Metrics are registered on a private registry so that several instances can
// coexist in tests; the gateway exposes it on /metrics.
package observability
