// Package backups implements the eviction-aware replication buffer of the
// separated storage.
//
// A separated storage owns every key its local store holds. If the owning
// peer leaves the grid those entries would be lost, so the storage keeps
// exactly one copy of each entry on another peer: the backup. Saves,
// deletes and evictions travel as fire-and-forget notifications on the
// dedicated backup-storage protocol; only the rejoin reconciliation
// (backup-get) is a correlated request.
//
// When a peer detaches, every other peer extracts the entries it held on
// behalf of the departed one and restores them into its own local store,
// becoming their new owner. Tolerance is single-failure: losing the owner
// and its holder between two saves loses the affected entries.
package backups
