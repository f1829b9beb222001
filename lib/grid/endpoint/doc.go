// Package endpoint implements the per-storage request/response layer over
// the message bus.
//
// Every correlated request gets a fresh correlation identifier and a waiter
// tracking the responders expected at send time. The request resolves when
// all expected peers answered or when the deadline passes — in the latter
// case the caller receives the partial aggregate plus a *store.TimeoutError
// naming the silent peers. Responders that detach mid-flight satisfy their
// slot immediately with an empty part; responders joining mid-flight are
// ignored; responses arriving after resolution are discarded.
//
// Requests may be broadcast (all current remote peers), unicast (ToEndpoint)
// or leader-directed (ToLeader). A leader-directed request issued on the
// leader itself short-circuits: the handler runs inline and its result is
// the sole response, so no message crosses the bus. A zero-key request
// resolves immediately with an empty aggregate and emits nothing.
//
// Payloads above the configured per-message key/value budget are split by a
// streaming batcher into independently correlated chunk requests; the chunk
// responses are merged last-writer-wins, warning on key collisions.
//
// Inbound traffic is dispatched to the storage's Handler — one method per
// message kind, with NopHandler supplying defaults — following the routing
// the grid performs by protocol tag and storage id. Malformed payloads and
// unexpected message kinds are logged and dropped; nothing inbound can
// terminate the endpoint.
package endpoint
