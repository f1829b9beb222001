// Package federated implements the merge-operator distribution strategy.
//
// Every peer keeps a local copy representing the merge-reduction of all
// contributions it has observed. A set folds the written value into the
// local copy through the configured merge operator and broadcasts the raw
// contribution — not the merged total — so every peer performs the same
// fold exactly once per contribution. When the operator is commutative and
// associative, all peers converge on the same value regardless of delivery
// order; for any other operator the result depends on the order in which
// contributions arrive, which is all the strategy promises.
//
// Reads prefer the local copy and fall back to a broadcast request that
// collects the converged copies of the other peers.
//
// The merge operator is mandatory: building a federated storage without
// one refuses with a configuration error.
package federated
