// Package grid wires one peer into the storage grid.
//
// A StorageGrid sits between the message bus and everything else: it routes
// inbound messages to the raft coordinator or, by protocol tag and storage
// id, to the endpoint of a registered storage; it stamps outbound messages
// with the peer's endpoint identifier; and it fans raft notifications
// (leader changes, peers joining and detaching) out to every registered
// member on a dedicated pump goroutine, so a storage may react with
// blocking work without ever stalling the raft loop.
//
// A grid peer's identity is a fresh 128-bit endpoint identifier generated
// at construction. Nothing survives a restart — the restarted process joins
// the grid as a brand-new peer and re-acquires state through the protocols
// of the individual storages.
//
// The distributed storages themselves live in the lib/store/separated,
// lib/store/replicated and lib/store/federated packages; each is built
// against a *StorageGrid plus codecs for its key and value types.
package grid
