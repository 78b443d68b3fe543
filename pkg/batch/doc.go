// Package batch runs a one-shot set of interdependent steps.
//
// An Orchestrator validates the dependency graph of the loaded steps, dispatches
// every step whose dependencies have finished, and funnels each completion
// through a single control goroutine owned by the batch. That goroutine is the
// only place where run state changes: it records outcomes, publishes values,
// satisfies or cascades dependents and releases newly ready steps. When no
// steps remain it hands a domain.BatchResult to the caller's callback.
package batch
