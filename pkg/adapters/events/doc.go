// Package events provides event bus implementations.
//
// Implementations:
//   - memory: in-process fan-out, one ordered queue per subscriber
//   - redis: Redis Streams, either broadcast reads or consumer groups
package events
