package raft

import (
	"context"
	"errors"

	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/google/uuid"
)

var (
	// ErrNotLeader is returned by Submit on a node that does not lead
	ErrNotLeader = errors.New("raft: not the leader")
	// ErrLeadershipLost is returned for commands pending while this node
	// lost its leadership; the command may or may not commit later.
	ErrLeadershipLost = errors.New("raft: leadership lost before commit")
	// ErrClosed is returned for commands pending while the node shut down
	ErrClosed = errors.New("raft: node closed")
)

// --------------------------------------------------------------------------
// Log Helpers
// --------------------------------------------------------------------------

// lastIndex returns the index of the last log entry (0 for an empty log)
func (n *Node) lastIndex() uint64 {
	return uint64(len(n.log))
}

// lastTerm returns the term of the last log entry (0 for an empty log)
func (n *Node) lastTerm() uint64 {
	if len(n.log) == 0 {
		return 0
	}
	return n.log[len(n.log)-1].Term
}

// termAt returns the term of the entry at the given index (0 when absent).
// Log indices start at 1.
func (n *Node) termAt(index uint64) uint64 {
	if index == 0 || index > n.lastIndex() {
		return 0
	}
	return n.log[index-1].Term
}

// entryAt returns the entry at the given 1-based index
func (n *Node) entryAt(index uint64) Entry {
	return n.log[index-1]
}

// --------------------------------------------------------------------------
// Leader Side
// --------------------------------------------------------------------------

// broadcastAppend sends an AppendEntries message to every known peer.
// Also serves as the leader heartbeat.
func (n *Node) broadcastAppend() {
	for id := range n.peers {
		n.sendAppend(id)
	}
	// a leader with no peers commits by itself
	n.advanceCommit()
}

// sendAppend ships the suffix of the log a single peer still misses
func (n *Node) sendAppend(peerID uuid.UUID) {
	p, ok := n.peers[peerID]
	if !ok {
		return
	}
	if p.nextIndex == 0 {
		p.nextIndex = 1
	}

	prevIndex := p.nextIndex - 1
	prevTerm := n.termAt(prevIndex)

	var entries []transport.RaftEntry
	for idx := p.nextIndex; idx <= n.lastIndex() && len(entries) < maxEntriesPerAppend; idx++ {
		e := n.entryAt(idx)
		entries = append(entries, transport.RaftEntry{Index: e.Index, Term: e.Term, Payload: e.Payload})
	}

	n.publish(transport.Message{
		Protocol:      transport.ProtocolRaft,
		Type:          transport.MessageTypeRaftAppendRequest,
		SourceID:      n.id,
		DestinationID: peerID,
		Term:          n.term,
		PrevLogIndex:  prevIndex,
		PrevLogTerm:   prevTerm,
		CommitIndex:   n.commitIndex,
		RaftEntries:   entries,
	})
}

// handleAppendResponse processes a follower's accept or reject
func (n *Node) handleAppendResponse(msg transport.Message) {
	if n.role != Leader || msg.Term != n.term {
		return
	}
	p, ok := n.peers[msg.SourceID]
	if !ok {
		return
	}

	if msg.Success {
		if msg.SequenceNumber > p.matchIndex {
			p.matchIndex = msg.SequenceNumber
		}
		p.nextIndex = p.matchIndex + 1
		n.advanceCommit()
		if p.nextIndex <= n.lastIndex() {
			n.sendAppend(msg.SourceID)
		}
		return
	}

	// rejected: walk next-index back (the follower hints how far) and retry
	next := p.nextIndex - 1
	if hint := msg.SequenceNumber + 1; hint < next {
		next = hint
	}
	if next < 1 {
		next = 1
	}
	p.nextIndex = next
	n.sendAppend(msg.SourceID)
}

// advanceCommit moves the commit index to the highest log index replicated
// on a majority, provided that entry is from the current term.
func (n *Node) advanceCommit() {
	for idx := n.lastIndex(); idx > n.commitIndex; idx-- {
		if n.termAt(idx) != n.term {
			break
		}
		count := 1 // the leader itself
		for _, p := range n.peers {
			if p.matchIndex >= idx {
				count++
			}
		}
		if count >= n.majority() {
			n.commitIndex = idx
			n.applyCommitted()
			break
		}
	}
}

// --------------------------------------------------------------------------
// Follower Side
// --------------------------------------------------------------------------

// handleAppendRequest applies the leader's log replication message
func (n *Node) handleAppendRequest(msg transport.Message) {
	if msg.Term < n.term {
		n.replyAppend(msg.SourceID, false)
		return
	}

	// an AppendEntries from the current term is authoritative
	if n.role != Follower {
		n.stepDown()
	}
	n.resetElectionDeadline()
	n.setLeader(msg.SourceID)

	// consistency check on the entry preceding the shipped batch
	if msg.PrevLogIndex > 0 &&
		(n.lastIndex() < msg.PrevLogIndex || n.termAt(msg.PrevLogIndex) != msg.PrevLogTerm) {
		n.replyAppend(msg.SourceID, false)
		return
	}

	for _, e := range msg.RaftEntries {
		if e.Index <= n.lastIndex() {
			if n.termAt(e.Index) == e.Term {
				continue // already stored
			}
			// conflicting suffix: truncate, then append
			n.log = n.log[:e.Index-1]
		}
		n.log = append(n.log, Entry{Index: e.Index, Term: e.Term, Payload: e.Payload})
	}

	if msg.CommitIndex > n.commitIndex {
		limit := n.lastIndex()
		if msg.CommitIndex < limit {
			limit = msg.CommitIndex
		}
		n.commitIndex = limit
		n.applyCommitted()
	}

	n.replyAppend(msg.SourceID, true)
}

// replyAppend answers an AppendEntries message. On success the sequence
// number acknowledges the full local log; on rejection it hints where the
// leader should resume.
func (n *Node) replyAppend(to uuid.UUID, success bool) {
	n.publish(transport.Message{
		Protocol:       transport.ProtocolRaft,
		Type:           transport.MessageTypeRaftAppendResponse,
		SourceID:       n.id,
		DestinationID:  to,
		Term:           n.term,
		Success:        success,
		SequenceNumber: n.lastIndex(),
	})
}

// --------------------------------------------------------------------------
// Apply and Submit
// --------------------------------------------------------------------------

// applyCommitted applies every newly committed entry in order, exactly once
func (n *Node) applyCommitted() {
	for n.lastApplied < n.commitIndex {
		n.lastApplied++
		e := n.entryAt(n.lastApplied)
		if _, _, _, apply := n.callbacks(); apply != nil {
			apply(e)
		}
		if w, ok := n.waiters[e.Index]; ok {
			delete(n.waiters, e.Index)
			w.done <- nil
		}
	}
}

// submitRequest crosses from Submit into the run loop
type submitRequest struct {
	payload []byte
	done    chan error
}

// handleSubmit appends a command to the log on the leader
func (n *Node) handleSubmit(req *submitRequest) {
	if n.role != Leader {
		req.done <- ErrNotLeader
		return
	}
	e := Entry{Index: n.lastIndex() + 1, Term: n.term, Payload: req.payload}
	n.log = append(n.log, e)
	n.waiters[e.Index] = req

	if len(n.peers) == 0 {
		n.advanceCommit()
		return
	}
	for id := range n.peers {
		n.sendAppend(id)
	}
}

// failAllWaiters resolves every pending submit with the given error
func (n *Node) failAllWaiters(err error) {
	for idx, w := range n.waiters {
		delete(n.waiters, idx)
		w.done <- err
	}
}

// Submit appends an opaque command to the replicated log and returns once
// the entry is committed on a majority. Only the leader accepts commands.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (n *Node) Submit(ctx context.Context, payload []byte) error {
	req := &submitRequest{payload: payload, done: make(chan error, 1)}

	select {
	case n.submitCh <- req:
	case <-n.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-n.stop:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
