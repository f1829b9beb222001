// Package events implements the storage event pipeline.
//
// Local stores emit created/updated/deleted/expired/evicted/restored events
// for every mutation. Consumers (for example the backup replication of a
// separated storage) do not want to see every single event immediately;
// they work on batches. The Pipeline therefore collects events and emits a
// batch when either a size threshold or a time window is reached, whichever
// fires first.
//
// Ordering: events for a single key from a single store are delivered in
// the order they occurred. Across keys and across stores no ordering is
// guaranteed.
//
// Back-pressure: the pipeline buffer is bounded. When producers outrun the
// consumer, the oldest buffered event is dropped and a warning is logged —
// dropping silently would hide the problem, blocking would stall the store.
package events
