// Package transport defines the message model and the message bus contract
// of the storage grid.
//
// The bus is intentionally specified as unreliable: Publish is best-effort,
// delivery is unordered, messages may be dropped or duplicated. The layers
// above compensate — the storage endpoint correlates requests and responses
// with deadlines, and the raft coordinator is built for exactly this failure
// model. Grid peers recognize each other purely through messages observed on
// the bus, so any medium that can move a Message works.
//
// Two implementations ship with the library:
//
//   - inproc: an in-process hub connecting multiple grid peers inside one
//     process. Used by tests and the demo CLI; supports drop rules to
//     simulate partitions.
//
//   - udp: UDP multicast with gob framing for peers spread over a LAN.
//
// The transport must be created before any storage and closed after all
// storages are closed.
package transport
