// Package replicated implements the leader-serialized full-copy strategy.
//
// Every peer holds the complete storage. Reads never leave the local store;
// writes travel as requests to the current raft leader, which applies them
// locally, broadcasts a notification to the followers and answers with the
// pre-write values. Since a single peer orders all writes, they are
// linearizable within one leader term; writes in flight during a leader
// change may reorder.
//
// A peer with zero remote peers is standalone and acts as a plain local
// store. Once it learns a leader it dumps its accumulated entries into the
// cluster through batched insert requests; keys the cluster already knows
// are logged as warnings and keep the cluster's value. Symmetrically, the
// leader syncs its full content to every newly joined peer.
//
// Expired entries become cluster-wide deletes only on the leader; follower
// expirations stay silent so that a shared retention time does not turn
// into a delete storm.
package replicated
