package raft

import (
	"time"

	"github.com/ValentinKolb/dGrid/lib/transport"
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Election Timeout
// --------------------------------------------------------------------------

// resetElectionDeadline draws a fresh randomized timeout from [min, 2*min)
func (n *Node) resetElectionDeadline() {
	min := n.cfg.MinElectionTimeout
	if min <= 0 {
		min = DefaultConfig().MinElectionTimeout
	}
	jitter := time.Duration(0)
	if n.rnd != nil {
		jitter = time.Duration(n.rnd.Int63n(int64(min)))
	}
	n.electionDeadline = time.Now().Add(min + jitter)
}

// --------------------------------------------------------------------------
// Candidate Side
// --------------------------------------------------------------------------

// startElection moves to candidate, votes for itself and solicits votes
func (n *Node) startElection() {
	n.term++
	n.role = Candidate
	n.votedFor = n.id
	n.votes = map[uuid.UUID]bool{n.id: true}
	n.resetElectionDeadline()
	n.setLeader(uuid.Nil)

	log.Infof("%s starting election for term %d (%d peers)", n.shortID(), n.term, len(n.peers))

	n.publish(transport.Message{
		Protocol:       transport.ProtocolRaft,
		Type:           transport.MessageTypeRaftVoteRequest,
		SourceID:       n.id,
		Term:           n.term,
		SequenceNumber: n.lastIndex(),
		PrevLogTerm:    n.lastTerm(),
	})
}

// handleVoteResponse counts granted votes while campaigning
func (n *Node) handleVoteResponse(msg transport.Message) {
	if n.role != Candidate || msg.Term != n.term || !msg.Granted {
		return
	}
	n.votes[msg.SourceID] = true
	if len(n.votes) >= n.majority() {
		n.becomeLeader()
	}
}

// majority returns the number of votes required to win, the local node
// included in the cluster size.
func (n *Node) majority() int {
	return (len(n.peers)+1)/2 + 1
}

// becomeLeader transitions to leader and asserts authority immediately
func (n *Node) becomeLeader() {
	n.role = Leader
	log.Infof("%s won election for term %d", n.shortID(), n.term)

	for _, p := range n.peers {
		p.nextIndex = n.lastIndex() + 1
		p.matchIndex = 0
	}
	n.setLeader(n.id)
	n.lastBroadcast = time.Now()
	n.broadcastAppend()
}

// stepDown returns a candidate or leader to follower
func (n *Node) stepDown() {
	if n.role == Leader {
		log.Infof("%s stepping down as leader (term %d)", n.shortID(), n.term)
		n.failAllWaiters(ErrLeadershipLost)
	}
	n.role = Follower
	n.resetElectionDeadline()
}

// --------------------------------------------------------------------------
// Voter Side
// --------------------------------------------------------------------------

// handleVoteRequest grants or denies a vote for the requesting candidate
func (n *Node) handleVoteRequest(msg transport.Message) {
	granted := false

	switch {
	case msg.Term < n.term:
		// stale candidate
	case n.votedFor != uuid.Nil && n.votedFor != msg.SourceID:
		// already voted for someone else this term
	case !n.logUpToDate(msg.PrevLogTerm, msg.SequenceNumber):
		// candidate's log is behind ours
	default:
		granted = true
		n.votedFor = msg.SourceID
		n.resetElectionDeadline()
		log.Debugf("%s voting for %s in term %d", n.shortID(), shortID(msg.SourceID), n.term)
	}

	n.publish(transport.Message{
		Protocol:      transport.ProtocolRaft,
		Type:          transport.MessageTypeRaftVoteResponse,
		SourceID:      n.id,
		DestinationID: msg.SourceID,
		Term:          n.term,
		Granted:       granted,
	})
}

// logUpToDate reports whether a candidate log described by (lastTerm,
// lastIndex) is at least as up-to-date as ours. The last term dominates;
// equal terms are broken by index.
func (n *Node) logUpToDate(lastTerm, lastIndex uint64) bool {
	ourTerm, ourIndex := n.lastTerm(), n.lastIndex()
	if lastTerm != ourTerm {
		return lastTerm > ourTerm
	}
	return lastIndex >= ourIndex
}
