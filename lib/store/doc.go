// Package store defines the storage contracts of the grid and a unified
// error model shared by all distribution strategies.
//
// Two interfaces matter:
//
//   - LocalStorage: the contract a distributed storage consumes for its
//     local data. The library ships a concurrent in-memory implementation in
//     the "github.com/ValentinKolb/dGrid/lib/store/memstore" package;
//     applications may bring their own as long as it is thread-safe and
//     emits storage events.
//
//   - Storage: the application-facing contract implemented by the three
//     distribution strategies:
//
//     separated  — each key is owned by exactly one peer (the first to
//     insert it); reads fall through to the owner, a backup copy on a
//     second peer survives the owner leaving.
//     Package "lib/store/separated".
//
//     replicated — every peer holds a full copy; writes are serialized
//     through the raft leader.
//     Package "lib/store/replicated".
//
//     federated  — every peer holds its observed share; writes merge via a
//     configured merge operator and propagate as notifications.
//     Package "lib/store/federated".
//
// All strategies report failures through the Error/RetCode types in this
// package. Remote timeouts additionally carry a *TimeoutError naming the
// peers that did not answer, alongside the partial result.
package store
