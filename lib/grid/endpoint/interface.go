package endpoint

import (
	"github.com/google/uuid"
)

// --------------------------------------------------------------------------
// Inbound Handler Contract
// --------------------------------------------------------------------------

// Handler is the inbound side of a storage endpoint: one method per message
// kind the fabric can deliver. A strategy implements the kinds it cares
// about and embeds NopHandler for the rest.
//
// Request handlers return the content of the response; the endpoint encodes
// and delivers it to the requesting peer. All methods execute on bus
// dispatch or notification-pump goroutines; request handlers must not issue
// correlated requests of their own (notification handlers may).
type Handler[K comparable, V any] interface {
	// HandleGetEntriesRequest answers with the local matches for the keys
	HandleGetEntriesRequest(keys []K, source uuid.UUID) map[K]V
	// HandleGetKeysRequest answers with all local keys
	HandleGetKeysRequest(source uuid.UUID) []K
	// HandleUpdateEntriesRequest applies updates and answers with the old
	// values as the strategy defines them.
	HandleUpdateEntriesRequest(entries map[K]V, source uuid.UUID) map[K]V
	// HandleInsertEntriesRequest applies inserts and answers with existing
	// entries that blocked insertion.
	HandleInsertEntriesRequest(entries map[K]V, source uuid.UUID) map[K]V
	// HandleDeleteEntriesRequest deletes and answers with the keys actually
	// deleted.
	HandleDeleteEntriesRequest(keys []K, source uuid.UUID) []K

	// HandleUpdateEntriesNotification applies a fire-and-forget update
	HandleUpdateEntriesNotification(entries map[K]V, source uuid.UUID)
	// HandleInsertEntriesNotification applies a fire-and-forget insert
	HandleInsertEntriesNotification(entries map[K]V, source uuid.UUID)
	// HandleDeleteEntriesNotification applies a fire-and-forget delete
	HandleDeleteEntriesNotification(keys []K, source uuid.UUID)

	// HandleBackupSaveNotification stores backup copies for the source peer
	HandleBackupSaveNotification(entries map[K]V, source uuid.UUID)
	// HandleBackupDeleteNotification drops backup copies of the given keys
	HandleBackupDeleteNotification(keys []K, source uuid.UUID)
	// HandleBackupEvictNotification drops backup copies of evicted keys
	HandleBackupEvictNotification(keys []K, source uuid.UUID)
	// HandleBackupGetRequest answers with the entries held on behalf of the
	// requesting peer.
	HandleBackupGetRequest(source uuid.UUID) map[K]V

	// HandleRemoteEndpointJoined is invoked when a peer joins the grid
	HandleRemoteEndpointJoined(id uuid.UUID)
	// HandleRemoteEndpointDetached is invoked when a peer leaves the grid
	HandleRemoteEndpointDetached(id uuid.UUID)
	// HandleLeaderChanged is invoked when the raft leader changes; ok is
	// false while no leader is known.
	HandleLeaderChanged(id uuid.UUID, ok bool)
}

// --------------------------------------------------------------------------
// No-op Defaults
// --------------------------------------------------------------------------

// NopHandler provides a no-op implementation of every Handler method.
// Strategies embed it and override what they need.
type NopHandler[K comparable, V any] struct{}

func (NopHandler[K, V]) HandleGetEntriesRequest(_ []K, _ uuid.UUID) map[K]V { return nil }

func (NopHandler[K, V]) HandleGetKeysRequest(_ uuid.UUID) []K { return nil }

func (NopHandler[K, V]) HandleUpdateEntriesRequest(_ map[K]V, _ uuid.UUID) map[K]V { return nil }

func (NopHandler[K, V]) HandleInsertEntriesRequest(_ map[K]V, _ uuid.UUID) map[K]V { return nil }

func (NopHandler[K, V]) HandleDeleteEntriesRequest(_ []K, _ uuid.UUID) []K { return nil }

func (NopHandler[K, V]) HandleUpdateEntriesNotification(_ map[K]V, _ uuid.UUID) {}

func (NopHandler[K, V]) HandleInsertEntriesNotification(_ map[K]V, _ uuid.UUID) {}

func (NopHandler[K, V]) HandleDeleteEntriesNotification(_ []K, _ uuid.UUID) {}

func (NopHandler[K, V]) HandleBackupSaveNotification(_ map[K]V, _ uuid.UUID) {}

func (NopHandler[K, V]) HandleBackupDeleteNotification(_ []K, _ uuid.UUID) {}

func (NopHandler[K, V]) HandleBackupEvictNotification(_ []K, _ uuid.UUID) {}

func (NopHandler[K, V]) HandleBackupGetRequest(_ uuid.UUID) map[K]V { return nil }

func (NopHandler[K, V]) HandleRemoteEndpointJoined(_ uuid.UUID) {}

func (NopHandler[K, V]) HandleRemoteEndpointDetached(_ uuid.UUID) {}

func (NopHandler[K, V]) HandleLeaderChanged(_ uuid.UUID, _ bool) {}
