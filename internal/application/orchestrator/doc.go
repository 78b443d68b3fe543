// Package orchestrator implements the batch submission service.
//
// The Manager turns declarative batch definitions into steps, runs each
// submission on its own batch.Orchestrator and:
//   - validates definitions before anything runs
//   - publishes progress events to the event bus
//   - keeps batch reports in the result store
//   - enforces step and batch deadlines
//
// Missing dependencies and cycles are not checked here. They are reported by
// the batch itself as a validation failure, like any other submission.
package orchestrator
