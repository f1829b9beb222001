// Package raft implements the grid coordinator: leader election, log
// replication and membership over the shared message bus.
//
// The coordinator is what the distribution strategies build on. It answers
// three questions for them — who am I, who else is out there, and who is
// the leader right now — and pushes notifications whenever one of the
// answers changes. The replicated storage additionally relies on the single
// leader per term to serialize its writes.
//
// The node is an actor: one goroutine owns every piece of protocol state
// and consumes inbound messages, submitted commands and timer ticks from
// channels. The public API never touches that state directly, which keeps
// the protocol free of locks and its transitions easy to reason about.
//
// Membership is learned from the bus itself. Every node that is not leading
// broadcasts a hello heartbeat (a leader's append messages take its place);
// any valid raft message from an unknown source adds that peer,
// and a peer silent for the configured peer timeout is dropped and reported
// as detached. A node that knows no peers stays follower — there is nobody
// to form a majority with, and standalone operation is handled one level
// up by the storages.
//
// The failure model is the bus contract: loss, duplication and reordering
// are all tolerated, Byzantine behavior is not. Nothing is persisted; a
// restarted process joins the grid as a brand-new peer.
package raft
