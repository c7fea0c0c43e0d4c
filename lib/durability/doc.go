// Package durability implements the Active Durability Monitor (ADM): the
// per-partition state machine that accepts client write prepares, collects
// replica acknowledgements over streaming channels, and commits or aborts
// prepares once a configurable replication topology's durability
// requirement is met.
//
// The package is organized around four small, independently testable
// pieces:
//
//   - trackedWrites: an ordered, cursor-stable container of in-flight
//     SyncWrite prepares, keyed by seqno.
//   - topology: the chain/majority math that decides whether a given
//     prepare's durability level is satisfiable and, later, satisfied.
//   - CompletedQueue: the FIFO that decouples the decision to commit or
//     abort a prepare from the (potentially blocking) side effects of
//     applying that decision to the hash table and notifying the client.
//   - ActiveDurabilityMonitor / PassiveDurabilityMonitor: the two roles a
//     partition can be in, sharing the tracked-writes/queue machinery.
//
// Callers never acquire the hash-table lock while holding the ADM's state
// lock: every public method collects its commit/abort decisions under the
// state lock, releases it, and only then drains the completed queue.
package durability
