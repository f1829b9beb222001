// Package separated implements the owner-discovery distribution strategy.
//
// Every key lives on exactly one peer: the first one to insert it. Reads
// consult the local store and fall through to a broadcast get-entries
// request on a miss. Writes to an owned key mutate locally; writes to an
// unknown key first try a remote update request — an update can never
// create an entry, so a response containing the key identifies its owner —
// and only when no peer claims the key is it inserted locally, making this
// peer the owner.
//
// Each owned entry additionally has a backup copy on one other peer (see
// the backups package). When a peer detaches, the peers holding its backups
// restore those entries into their own local stores and take over
// ownership, so a get for the key keeps answering after a brief handoff
// window during which reads may observe stale values.
//
// Evict and restore are internal transitions of that handoff and therefore
// rejected as public operations.
package separated
