// Package cache provides a generic in-process LRU with optional per-entry TTL.
//
// It is a read accelerator only. Callers that cache data owned by a store must
// Remove the key whenever they write through that store.
package cache
