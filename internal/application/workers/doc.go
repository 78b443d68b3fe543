// Package workers implements the fixed-size worker pool that runs step bodies.
//
// The pool is a ports.Executor: steps built with it queue their work instead
// of starting a goroutine each, which bounds how many step bodies run at
// once across all batches. The health monitor periodically logs the
// idle/busy/stopped census and exports it as metrics.
package workers
