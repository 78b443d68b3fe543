// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Batch submission, listing and cancellation
//   - Batch reports
//   - Health checks
//   - Prometheus metrics
//
// Batches are submitted as JSON definitions, or as HCL when the request's
// Content-Type is application/hcl.
package http
