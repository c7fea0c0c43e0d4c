package durability

import (
	"fmt"
	"time"
)

// Seqno is a log sequence number assigned by the ordered log external to
// this package. Seqnos are strictly positive and strictly increasing per
// partition.
type Seqno = int64

// Cookie is the opaque client handle for a pending synchronous write. The
// ADM only stores, compares-for-presence, and hands this value back to a
// notifier; it never inspects or dereferences it.
type Cookie any

// DurabilityLevel is part of the external wire contract.
type DurabilityLevel uint8

const (
	// LevelMajority is satisfied once a majority of each chain has
	// prepared (received) the write.
	LevelMajority DurabilityLevel = iota
	// LevelMajorityAndPersistOnMaster additionally requires the active
	// node to have persisted the write to disk.
	LevelMajorityAndPersistOnMaster
	// LevelPersistToMajority requires a majority of each chain to have
	// persisted (not merely received) the write.
	LevelPersistToMajority
)

func (l DurabilityLevel) String() string {
	switch l {
	case LevelMajority:
		return "Majority"
	case LevelMajorityAndPersistOnMaster:
		return "MajorityAndPersistOnMaster"
	case LevelPersistToMajority:
		return "PersistToMajority"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(l))
	}
}

// requiresMasterPersistence reports whether a prepare at this level is not
// considered acked-by-self until notifyLocalPersistence advances the
// active node's position past it.
func (l DurabilityLevel) requiresMasterPersistence() bool {
	return l == LevelMajorityAndPersistOnMaster || l == LevelPersistToMajority
}

// countsPersistedAcks reports whether the commit condition for this level
// is evaluated against nodes' persisted-ack seqno rather than their plain
// (received/prepared) ack seqno.
func (l DurabilityLevel) countsPersistedAcks() bool {
	return l == LevelPersistToMajority
}

// noDeadline is the zero-value deadline used whenever hasDeadline is
// false; it is never read, but keeps call sites self-documenting.
var noDeadline time.Time

// Decision is the outcome recorded in the CompletedQueue for a prepare.
type Decision uint8

const (
	DecisionCommit Decision = iota
	DecisionAbort
)

func (d Decision) String() string {
	if d == DecisionCommit {
		return "Commit"
	}
	return "Abort"
}

// SyncWrite is one tracked prepare.
type SyncWrite struct {
	seqno Seqno
	key   string

	cookie    Cookie
	hasCookie bool

	level DurabilityLevel

	hasDeadline bool
	deadline    time.Time

	// ackSet holds the ids of nodes that have a plain (received/prepared)
	// ack seqno >= this write's seqno.
	ackSet map[string]struct{}
	// persistedAckSet holds the ids of nodes whose persisted-ack seqno is
	// >= this write's seqno.
	persistedAckSet map[string]struct{}

	persistedOnMaster bool
}

// Seqno returns the write's log sequence number.
func (w *SyncWrite) Seqno() Seqno { return w.seqno }

// Key returns the write's key.
func (w *SyncWrite) Key() string { return w.key }

// Level returns the write's durability level.
func (w *SyncWrite) Level() DurabilityLevel { return w.level }

// Cookie returns the write's client handle and whether one is present.
func (w *SyncWrite) Cookie() (Cookie, bool) { return w.cookie, w.hasCookie }

func newSyncWrite(seqno Seqno, key string, cookie Cookie, hasCookie bool, level DurabilityLevel, deadline time.Time, hasDeadline bool) *SyncWrite {
	return &SyncWrite{
		seqno:           seqno,
		key:             key,
		cookie:          cookie,
		hasCookie:       hasCookie,
		level:           level,
		deadline:        deadline,
		hasDeadline:     hasDeadline,
		ackSet:          make(map[string]struct{}),
		persistedAckSet: make(map[string]struct{}),
	}
}

// ackCount returns the number of distinct nodes, restricted to the given
// membership set, whose ack (or persisted-ack, if persisted is true) set
// contains this write.
func (w *SyncWrite) ackCount(members map[string]struct{}, persisted bool) int {
	set := w.ackSet
	if persisted {
		set = w.persistedAckSet
	}
	n := 0
	for id := range members {
		if _, ok := set[id]; ok {
			n++
		}
	}
	return n
}

func (w *SyncWrite) addAck(id string, persisted bool) {
	if persisted {
		w.persistedAckSet[id] = struct{}{}
	} else {
		w.ackSet[id] = struct{}{}
	}
}
