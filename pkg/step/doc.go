// Package step provides the building blocks for ports.Step implementations:
// Base carries dependency bookkeeping and the single-use run guards, FuncStep
// adapts a plain function into a step, and ValueStore holds the values
// produced during a batch.
package step
