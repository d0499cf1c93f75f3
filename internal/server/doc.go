// Package server implements the HTTP front of deployhook.
//
// It accepts provider notifications on POST /in/{appName} (or POST /?app=),
// acknowledges them with 202 Accepted before any verification, and hands the
// raw request to the worker, which authenticates, resolves and queues it.
// Rejected notifications are only logged, so providers never retry them.
//
// The package also provides:
//   - GET /health with the configured apps and the deploy queue state
//   - Per-IP rate limiting on the webhook routes
//   - Structured request logging and OpenTelemetry instrumentation
//   - Bind retry when the listen address is still in use
package server
