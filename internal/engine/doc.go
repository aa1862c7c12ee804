// Package engine implements the request router and its four caching
// strategies on top of a cache.Store and a Fetcher that reaches the origin.
//
// The engine holds no per-request mutable state. Shared state lives in the
// store, which publishes entries atomically per key, and in the NameSource,
// which lifecycle swaps when a new generation activates.
package engine
