// Package storage defines the contracts between the actor storage facade and
// the underlying cache/storage engine.
//
// The facade (internal/actor) never talks to a concrete engine directly; it
// depends on the Engine interface declared here. Engine implementations
// (in-memory, bbolt, sqlite) live in subpackages.
//
// # Immediate and pending results
//
// Engine reads may be answered from cache (immediately) or require I/O
// (a pending future). The Result type carries either shape; callers that
// need uniform handling convert with Result.Future.
//
// # Error Types
//
// Engine failures are delivered through futures as pass-through errors;
// validation never happens at this layer.
package storage
