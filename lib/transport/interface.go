package transport

import (
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Protocols and Message Types
// --------------------------------------------------------------------------

// Protocol identifies which subsystem an inbound message belongs to.
// The grid routes messages to the raft coordinator or to the endpoint of a
// named storage based on this tag.
type Protocol string

const (
	ProtocolSeparatedStorage  Protocol = "separated-storage"
	ProtocolReplicatedStorage Protocol = "replicated-storage"
	ProtocolFederatedStorage  Protocol = "federated-storage"
	ProtocolBackupStorage     Protocol = "backup-storage"
	ProtocolRaft              Protocol = "raft"
)

// MessageType identifies the kind of a message within a protocol
type MessageType string

const (
	// storage endpoint requests and responses
	MessageTypeGetEntriesRequest     MessageType = "get-entries-request"
	MessageTypeGetEntriesResponse    MessageType = "get-entries-response"
	MessageTypeGetKeysRequest        MessageType = "get-keys-request"
	MessageTypeGetKeysResponse       MessageType = "get-keys-response"
	MessageTypeUpdateEntriesRequest  MessageType = "update-entries-request"
	MessageTypeUpdateEntriesResponse MessageType = "update-entries-response"
	MessageTypeInsertEntriesRequest  MessageType = "insert-entries-request"
	MessageTypeInsertEntriesResponse MessageType = "insert-entries-response"
	MessageTypeDeleteEntriesRequest  MessageType = "delete-entries-request"
	MessageTypeDeleteEntriesResponse MessageType = "delete-entries-response"

	// storage endpoint notifications (fire and forget)
	MessageTypeUpdateEntriesNotification MessageType = "update-entries-notification"
	MessageTypeInsertEntriesNotification MessageType = "insert-entries-notification"
	MessageTypeDeleteEntriesNotification MessageType = "delete-entries-notification"

	// backup storage messages
	MessageTypeBackupSave        MessageType = "backup-save"
	MessageTypeBackupDelete      MessageType = "backup-delete"
	MessageTypeBackupEvict       MessageType = "backup-evict"
	MessageTypeBackupGetRequest  MessageType = "backup-get-request"
	MessageTypeBackupGetResponse MessageType = "backup-get-response"

	// raft subtypes
	MessageTypeRaftHello          MessageType = "raft-hello"
	MessageTypeRaftVoteRequest    MessageType = "raft-vote-request"
	MessageTypeRaftVoteResponse   MessageType = "raft-vote-response"
	MessageTypeRaftAppendRequest  MessageType = "raft-append-request"
	MessageTypeRaftAppendResponse MessageType = "raft-append-response"
)

// --------------------------------------------------------------------------
// Message
// --------------------------------------------------------------------------

// RaftEntry is one replicated log entry carried inside a raft append message
type RaftEntry struct {
	Index   uint64
	Term    uint64
	Payload []byte
}

// Message is the unit crossing the message bus.
//
// Keys and Values carry already-encoded byte strings; the fabric never
// inspects them. A zero DestinationID means broadcast. The raft fields are
// only meaningful for ProtocolRaft messages.
type Message struct {
	Protocol      Protocol
	Type          MessageType
	SourceID      uuid.UUID
	DestinationID uuid.UUID
	CorrelationID uuid.UUID
	StorageID     string

	Keys   [][]byte
	Values [][]byte

	// raft fields
	Term           uint64
	SequenceNumber uint64
	PrevLogIndex   uint64
	PrevLogTerm    uint64
	CommitIndex    uint64
	Success        bool
	Granted        bool
	RaftEntries    []RaftEntry
}

// IsBroadcast reports whether the message is addressed to all remote peers
func (m *Message) IsBroadcast() bool {
	return m.DestinationID == uuid.Nil
}

// --------------------------------------------------------------------------
// Transport
// --------------------------------------------------------------------------

// Handler is the single local consumer of inbound messages
type Handler func(msg Message)

// Transport is the interface for the message bus adapter. It is deliberately
// weak: publishing is best-effort, delivery is unordered and messages may be
// dropped or duplicated. Everything above it (endpoint correlation, raft)
// is built to tolerate that.
//
// The transport must be created before any storage and closed after all
// storages are closed.
type Transport interface {
	// Publish sends a message to the bus. Best-effort: an error indicates
	// a local failure, a nil return is no delivery guarantee.
	Publish(msg Message) error
	// Subscribe registers the single local handler for inbound messages.
	// Later calls replace the handler.
	Subscribe(handler Handler)
	// Close detaches from the bus and releases all resources
	Close() error
}
