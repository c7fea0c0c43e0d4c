package durability

import (
	"fmt"
	"sync"
	"time"
)

// pendingAck holds an ack received from a node not currently present in
// the topology. A seqno of -1 means "no ack of this kind queued yet".
type pendingAck struct {
	ackSeqno       Seqno
	persistedSeqno Seqno
}

func newPendingAck() pendingAck {
	return pendingAck{ackSeqno: -1, persistedSeqno: -1}
}

// admCounters are the accumulating counters of the stats surface:
// num_accepted, num_committed, num_aborted.
type admCounters struct {
	numAccepted  uint64
	numCommitted uint64
	numAborted   uint64
}

// ActiveDurabilityMonitor is the per-partition durability state machine.
// All operations acquire mu, mutate state and queue decisions, then
// release mu before the caller drains the completed queue — never both
// locks at once.
type ActiveDurabilityMonitor struct {
	mu sync.Mutex

	selfID   string
	clock    Clock
	applier  HashTableApplier
	notifier ClientNotifier

	topology    *Topology
	topologySet bool

	tracked     *trackedWrites
	pendingAcks map[string]pendingAck

	queue *CompletedQueue

	hps          Seqno
	hcs          Seqno
	maxSeenSeqno Seqno

	stats admCounters
}

// NewActiveDurabilityMonitor constructs an ADM for partition with self
// node id selfID. Topology must be installed via SetReplicationTopology
// before AddSyncWrite may be called.
func NewActiveDurabilityMonitor(selfID string, clock Clock, applier HashTableApplier, notifier ClientNotifier) *ActiveDurabilityMonitor {
	return &ActiveDurabilityMonitor{
		selfID:      selfID,
		clock:       clock,
		applier:     applier,
		notifier:    notifier,
		tracked:     newTrackedWrites(),
		pendingAcks: make(map[string]pendingAck),
		queue:       newCompletedQueue(),
		hcs:         0,
		hps:         0,
	}
}

// --------------------------------------------------------------------------
// Topology
// --------------------------------------------------------------------------

// SetReplicationTopology installs a new topology, atomically replacing
// whatever was installed before. Per-node state (cursor, ack seqnos) is
// preserved for any node id present in both
// the old and new topology; nodes new to the topology start with their
// cursor lazily seeded at the front of tracked writes on first ack.
// Pending acks queued for nodes the new topology newly assigns are
// applied immediately, which may complete prepares.
func (m *ActiveDurabilityMonitor) SetReplicationTopology(topo *Topology) {
	m.mu.Lock()

	old := make(map[string]*chainNode)
	if m.topology != nil {
		for _, c := range m.topology.chains {
			for _, n := range c.nodes {
				if n.assigned() {
					old[*n.id] = n
				}
			}
		}
	}

	newlyPresent := make([]string, 0)
	for _, c := range topo.chains {
		for _, n := range c.nodes {
			if !n.assigned() {
				continue
			}
			if prev, ok := old[*n.id]; ok {
				n.writePos = prev.writePos
				n.persistedPos = prev.persistedPos
				n.ackSeqno = prev.ackSeqno
				n.persistedSeqno = prev.persistedSeqno
			} else {
				newlyPresent = append(newlyPresent, *n.id)
			}
		}
	}

	m.topology = topo
	m.topologySet = true

	for _, id := range newlyPresent {
		if p, ok := m.pendingAcks[id]; ok {
			if p.ackSeqno >= 0 {
				m.applyAckLocked(id, p.ackSeqno, false)
			}
			if p.persistedSeqno >= 0 {
				m.applyAckLocked(id, p.persistedSeqno, true)
			}
			delete(m.pendingAcks, id)
		}
	}

	m.checkForCommitLocked()
	m.mu.Unlock()
	m.drainCompletedQueue()
}

// IsDurabilityPossible reports whether the installed topology can
// currently satisfy a majority on every chain.
func (m *ActiveDurabilityMonitor) IsDurabilityPossible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topologySet && m.topology.isDurabilityPossible()
}

// RemoveQueuedAck discards any pending ack queued for a node not present
// in the topology, called when that node's replication stream closes.
func (m *ActiveDurabilityMonitor) RemoveQueuedAck(nodeID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pendingAcks, nodeID)
}

// --------------------------------------------------------------------------
// addSyncWrite
// --------------------------------------------------------------------------

// AddSyncWrite tracks a prepare already accepted and seqno-assigned by the
// ordered log. cookie/hasCookie is the client handle to notify on
// resolution (absent for warmup-originated or replica-side prepares,
// which never call this). timeout of zero means no deadline ("never").
func (m *ActiveDurabilityMonitor) AddSyncWrite(cookie Cookie, hasCookie bool, key string, seqno Seqno, level DurabilityLevel, timeout time.Duration) error {
	m.mu.Lock()

	if !m.topologySet {
		m.mu.Unlock()
		return newError(ErrCTopologyNotSet, "addSyncWrite called before setReplicationTopology")
	}

	if seqno > m.maxSeenSeqno {
		m.maxSeenSeqno = seqno
	}
	m.stats.numAccepted++

	if !m.topology.isDurabilityPossible() {
		m.stats.numAborted++
		if seqno > m.hcs {
			m.hcs = seqno
		}
		m.queue.push(completedEntry{
			seqno: seqno, key: key,
			decision: DecisionAbort, abortReason: AbortReasonDurabilityImpossible,
			cookie: cookie, hasCookie: hasCookie,
		})
		m.mu.Unlock()
		m.drainCompletedQueue()
		return nil
	}

	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = m.clock.Now().Add(timeout)
	}

	w := newSyncWrite(seqno, key, cookie, hasCookie, level, deadline, hasDeadline)
	m.tracked.PushBack(w)

	// The active node's own ack is implicit immediately: it is, by
	// definition, the node that just accepted this prepare into its log.
	m.applyAckLocked(m.selfID, seqno, false)

	m.checkForCommitLocked()
	m.mu.Unlock()
	m.drainCompletedQueue()
	return nil
}

// --------------------------------------------------------------------------
// seqnoAckReceived
// --------------------------------------------------------------------------

// SeqnoAckReceived applies an ack from a replication stream. persisted
// distinguishes a plain (received/prepared) ack from a persisted-ack; the
// producer is expected to only ever send a persisted-ack when the
// prepare's durability level demands one.
func (m *ActiveDurabilityMonitor) SeqnoAckReceived(nodeID string, preparedSeqno Seqno, persisted bool) error {
	m.mu.Lock()

	occurrences := m.nodeOccurrences(nodeID)
	if len(occurrences) == 0 {
		p, ok := m.pendingAcks[nodeID]
		if !ok {
			p = newPendingAck()
		}
		if persisted {
			if preparedSeqno > p.persistedSeqno {
				p.persistedSeqno = preparedSeqno
			}
		} else if preparedSeqno > p.ackSeqno {
			p.ackSeqno = preparedSeqno
		}
		m.pendingAcks[nodeID] = p
		m.mu.Unlock()
		return nil
	}

	if preparedSeqno > m.maxSeenSeqno {
		m.mu.Unlock()
		return newError(ErrCReplicaProtocolViolation,
			fmt.Sprintf("node %s acked seqno %d beyond anything ever tracked (max seen %d)", nodeID, preparedSeqno, m.maxSeenSeqno))
	}

	// seqnoAckReceived(n, s); seqnoAckReceived(n, s) redelivered is a
	// no-op (idempotence). seqnoAckReceived(n, s'), s' < s, is the node
	// moving its own ack position backwards and is a protocol violation,
	// not a redelivery: drop any queued ack for it rather than apply one.
	for _, n := range occurrences {
		bound := n.ackSeqno
		if persisted {
			bound = n.persistedSeqno
		}
		if preparedSeqno < bound {
			delete(m.pendingAcks, nodeID)
			m.mu.Unlock()
			return newError(ErrCReplicaProtocolViolation,
				fmt.Sprintf("node %s acked seqno %d behind its already-acknowledged position %d", nodeID, preparedSeqno, bound))
		}
	}

	m.applyAckLocked(nodeID, preparedSeqno, persisted)
	m.checkForCommitLocked()
	m.mu.Unlock()
	m.drainCompletedQueue()
	return nil
}

// NotifyLocalPersistence is called by the storage layer after a
// successful flush of seqno; it advances the active node's persisted-ack
// position, which may raise HPS and unblock commits.
func (m *ActiveDurabilityMonitor) NotifyLocalPersistence(seqno Seqno) {
	m.mu.Lock()
	m.applyAckLocked(m.selfID, seqno, true)
	m.checkForCommitLocked()
	m.mu.Unlock()
	m.drainCompletedQueue()
}

// --------------------------------------------------------------------------
// processTimeout
// --------------------------------------------------------------------------

// ProcessTimeout walks tracked writes in seqno order and aborts every one
// whose deadline has passed as of asOf, unless it has already met its own
// commit condition in this same pass (commit wins ties).
func (m *ActiveDurabilityMonitor) ProcessTimeout(asOf time.Time) {
	m.mu.Lock()

	for n := m.tracked.Front(); n != nil; {
		next := n.next
		w := n.write
		if w.hasDeadline && w.deadline.Before(asOf) && !m.commitConditionMet(w) {
			m.removeNodeLocked(n)
			m.stats.numAborted++
			if w.seqno > m.hcs {
				m.hcs = w.seqno
			}
			m.queue.push(completedEntry{
				seqno: w.seqno, key: w.key,
				decision: DecisionAbort, abortReason: AbortReasonTimeout,
				cookie: w.cookie, hasCookie: w.hasCookie,
			})
		}
		n = next
	}

	m.checkForCommitLocked()
	m.mu.Unlock()
	m.drainCompletedQueue()
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// GetHighPreparedSeqno returns HPS.
func (m *ActiveDurabilityMonitor) GetHighPreparedSeqno() Seqno {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hps
}

// GetHighCompletedSeqno returns HCS.
func (m *ActiveDurabilityMonitor) GetHighCompletedSeqno() Seqno {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hcs
}

// NumTracked returns the number of in-flight prepares.
func (m *ActiveDurabilityMonitor) NumTracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tracked.Len()
}

// GetCookiesForInFlightSyncWrites atomically returns every non-absent
// client handle still tracked and clears them, so that callers (e.g. a
// conversion back to a passive role) can notify each exactly once without
// the ADM notifying them again later.
func (m *ActiveDurabilityMonitor) GetCookiesForInFlightSyncWrites() []Cookie {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Cookie
	m.tracked.Each(func(n *writeNode) {
		if n.write.hasCookie {
			out = append(out, n.write.cookie)
			n.write.hasCookie = false
			n.write.cookie = nil
		}
	})
	return out
}

// --------------------------------------------------------------------------
// Internal helpers (all require m.mu held)
// --------------------------------------------------------------------------

// nodeOccurrences returns every chainNode assigned to nodeID across both
// chains (normally the active node occurs in both; a replica occurs in
// at most one).
func (m *ActiveDurabilityMonitor) nodeOccurrences(nodeID string) []*chainNode {
	if m.topology == nil {
		return nil
	}
	var out []*chainNode
	for _, c := range m.topology.chains {
		if n, ok := c.nodeByID(nodeID); ok {
			out = append(out, n)
		}
	}
	return out
}

// applyAckLocked raises nodeID's ack (or persisted-ack) seqno to at least
// seqno on every chain it occurs in, then advances that node's cursor,
// crediting every prepare the cursor crosses.
func (m *ActiveDurabilityMonitor) applyAckLocked(nodeID string, seqno Seqno, persisted bool) {
	isSelf := nodeID == m.selfID
	for _, n := range m.nodeOccurrences(nodeID) {
		bound := n.ackSeqno
		if persisted {
			bound = n.persistedSeqno
		}
		if seqno > bound {
			bound = seqno
			if persisted {
				n.persistedSeqno = seqno
			} else {
				n.ackSeqno = seqno
			}
		}
		m.advanceNodeCursor(n, bound, persisted, nodeID, isSelf)
	}
}

// advanceNodeCursor walks n's cursor (plain or persisted) forward,
// crediting nodeID into the ack set of every write up to and including
// bound. The cursor holds the last node already credited (nil meaning
// none yet, so the next candidate is the container's front); storing the
// last-credited node rather than the next-to-visit one means a cursor
// that has caught up to the tail self-heals the moment a later write is
// appended, since trackedWrites.PushBack wires the old tail's next
// pointer to the new node. When isSelf, crossing a write also advances
// HPS if the write's own self-ack requirement for its level is thereby
// met.
func (m *ActiveDurabilityMonitor) advanceNodeCursor(n *chainNode, bound Seqno, persisted bool, nodeID string, isSelf bool) {
	cur := n.writePos
	if persisted {
		cur = n.persistedPos
	}

	next := m.tracked.Front()
	if cur != nil {
		next = cur.next
	}

	for next != nil && next.write.seqno <= bound {
		w := next.write
		w.addAck(nodeID, persisted)

		if isSelf {
			selfSatisfiesLevel := persisted == w.level.requiresMasterPersistence()
			if selfSatisfiesLevel && w.seqno > m.hps {
				m.hps = w.seqno
			}
			if persisted {
				w.persistedOnMaster = true
			}
		}

		cur = next
		next = next.next
	}

	if persisted {
		n.persistedPos = cur
	} else {
		n.writePos = cur
	}
}

// advanceCursorsPast redirects any chain-node cursor currently crediting
// up through n to n's predecessor, before n is detached from tracked
// writes. Without this, a node whose last-credited write is exactly the
// one now being removed would be left holding a dangling cursor.
func (m *ActiveDurabilityMonitor) advanceCursorsPast(n *writeNode) {
	if m.topology == nil {
		return
	}
	prev := n.prev
	for _, c := range m.topology.chains {
		for _, node := range c.nodes {
			if node.writePos == n {
				node.writePos = prev
			}
			if node.persistedPos == n {
				node.persistedPos = prev
			}
		}
	}
}

func (m *ActiveDurabilityMonitor) removeNodeLocked(n *writeNode) {
	m.advanceCursorsPast(n)
	m.tracked.Remove(n)
}

// commitConditionMet evaluates w's per-level commit condition against the
// currently installed topology's ack sets.
func (m *ActiveDurabilityMonitor) commitConditionMet(w *SyncWrite) bool {
	if m.topology == nil {
		return false
	}
	switch w.level {
	case LevelMajority:
		return m.chainsApprove(w, false)
	case LevelMajorityAndPersistOnMaster:
		return m.chainsApprove(w, false) && m.topology.active().persistedSeqno >= w.seqno
	case LevelPersistToMajority:
		return m.chainsApprove(w, true)
	default:
		return false
	}
}

func (m *ActiveDurabilityMonitor) chainsApprove(w *SyncWrite, persisted bool) bool {
	for _, c := range m.topology.chains {
		if !c.meetsCommitCondition(w, persisted) {
			return false
		}
	}
	return true
}

// checkForCommitLocked walks tracked writes strictly from the front,
// committing a contiguous run of prepares whose commit condition is met.
// It stops at the first prepare that does not meet its condition, even if
// a later one would.
func (m *ActiveDurabilityMonitor) checkForCommitLocked() {
	for {
		front := m.tracked.Front()
		if front == nil || !m.commitConditionMet(front.write) {
			return
		}
		w := front.write
		m.advanceCursorsPast(front)
		m.tracked.PopFront()

		if w.seqno > m.hcs {
			m.hcs = w.seqno
		}
		m.stats.numCommitted++
		m.queue.push(completedEntry{
			seqno: w.seqno, key: w.key,
			decision: DecisionCommit,
			cookie:   w.cookie, hasCookie: w.hasCookie,
		})
	}
}

// drainCompletedQueue applies every queued decision to the hash table and
// notifies the client, strictly in FIFO order, without holding mu.
func (m *ActiveDurabilityMonitor) drainCompletedQueue() {
	for _, e := range m.queue.drain() {
		var err error
		if e.decision == DecisionCommit {
			err = m.applier.ApplyCommit(e.key, e.seqno)
		} else {
			err = m.applier.ApplyAbort(e.key, e.seqno)
		}
		if err != nil {
			log.Errorf("durability: failed to apply %s for seqno %d (key %s): %v", e.decision, e.seqno, e.key, err)
		}
		if e.hasCookie && m.notifier != nil {
			m.notifier.Notify(e.cookie, resultFor(e.decision, e.abortReason))
		}
	}
}
