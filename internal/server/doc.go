// Package server implements the HTTP API for monitoring the live
// client: health, session status, sanitized configuration, and
// Prometheus metrics.
package server
