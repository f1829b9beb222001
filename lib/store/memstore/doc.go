// Package memstore provides the concurrent in-memory implementation of the
// store.LocalStorage contract.
//
// Entries live in a lock-free concurrent map (puzpuzpuz/xsync), so reads and
// writes from the public storage API and from inbound endpoint handlers can
// proceed in parallel without a global lock.
//
// When a retention time is configured, every write stamps its entry with an
// expiration instant and a background sweep goroutine removes entries past
// it, emitting expired events. Lookups filter expired-but-unswept entries,
// so an expired value is never returned even between sweeps.
//
// Every mutation is reported through the event pipeline of the events
// package; the distribution strategies subscribe to these batches to drive
// backup replication and expiration propagation.
package memstore
