package durability

// PassiveDurabilityMonitor is the replica-side counterpart of
// ActiveDurabilityMonitor. A passive monitor does not run
// the quorum/commit state machine at all: it only mirrors the prepares it
// has received from the active node, so that it can be promoted in place
// if this node becomes active.
type PassiveDurabilityMonitor struct {
	tracked *trackedWrites
	hps     Seqno
	hcs     Seqno
}

// NewPassiveDurabilityMonitor constructs an empty passive monitor.
func NewPassiveDurabilityMonitor() *PassiveDurabilityMonitor {
	return &PassiveDurabilityMonitor{tracked: newTrackedWrites()}
}

// AddSyncWrite mirrors a prepare streamed from the active node. Passive
// monitors never see a client cookie: the client, if any, is blocked on
// the original active node.
func (p *PassiveDurabilityMonitor) AddSyncWrite(key string, seqno Seqno, level DurabilityLevel) {
	w := newSyncWrite(seqno, key, nil, false, level, noDeadline, false)
	p.tracked.PushBack(w)
	if seqno > p.hps {
		p.hps = seqno
	}
}

// Commit marks seqno (and everything before it) resolved, used when the
// passive monitor is told by the active node that a prepare committed.
func (p *PassiveDurabilityMonitor) Commit(seqno Seqno) {
	for n := p.tracked.Front(); n != nil && n.write.seqno <= seqno; n = p.tracked.Front() {
		p.tracked.PopFront()
	}
	if seqno > p.hcs {
		p.hcs = seqno
	}
}

// Abort discards seqno and raises the high completed seqno, used when the active
// node tells the passive monitor a prepare aborted.
func (p *PassiveDurabilityMonitor) Abort(seqno Seqno) {
	if n, ok := p.tracked.At(seqno); ok {
		p.tracked.Remove(n)
	}
	if seqno > p.hcs {
		p.hcs = seqno
	}
}

// GetHighPreparedSeqno returns this replica's view of HPS.
func (p *PassiveDurabilityMonitor) GetHighPreparedSeqno() Seqno { return p.hps }

// GetHighCompletedSeqno returns this replica's view of HCS.
func (p *PassiveDurabilityMonitor) GetHighCompletedSeqno() Seqno { return p.hcs }

// NewActiveDurabilityMonitorFromPassive converts a passive monitor into an
// active one on promotion. Every still-outstanding prepare
// is carried over with its seqno, key and level preserved; cookies are
// dropped (no client was ever waiting on this node for them) and deadlines
// are reset to "never", since the promoted node has no way to know how
// much of the original timeout window already elapsed.
func NewActiveDurabilityMonitorFromPassive(p *PassiveDurabilityMonitor, selfID string, clock Clock, applier HashTableApplier, notifier ClientNotifier) *ActiveDurabilityMonitor {
	m := NewActiveDurabilityMonitor(selfID, clock, applier, notifier)
	m.hps = p.hps
	m.hcs = p.hcs

	p.tracked.Each(func(n *writeNode) {
		w := n.write
		fresh := newSyncWrite(w.seqno, w.key, nil, false, w.level, noDeadline, false)
		m.tracked.PushBack(fresh)
		if w.seqno > m.maxSeenSeqno {
			m.maxSeenSeqno = w.seqno
		}
	})

	return m
}
