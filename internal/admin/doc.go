// Package admin serves the operator HTTP API under /api/reminders together
// with Prometheus metrics and optional pprof endpoints.
package admin
