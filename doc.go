// Package valkeyglide implements the core runtime of a Valkey/Redis client:
// wire encoding and decoding, connection lifecycle, transparent value
// compression, reconnection with backoff, cluster topology discovery and
// routing, a request pipeline with redirection handling, atomic and
// non-atomic batches, PubSub dispatch, and stateful cluster scanning.
//
// Command-name convenience wrappers are not part of this package; callers
// build argument arrays and call Client.Execute directly, or use the
// batch package to group commands.
package valkeyglide
