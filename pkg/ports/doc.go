// Package ports declares the interfaces between the batch engine and everything around it:
// the Step contract consumed by step implementations, the read side of the value store,
// executors, observers, and the adapters for events, storage, metrics and LLM access.
package ports
