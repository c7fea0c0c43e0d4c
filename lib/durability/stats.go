package durability

// NodeStats is the per-node view of a replication chain's progress.
type NodeStats struct {
	NodeID         string
	Assigned       bool
	AckSeqno       Seqno
	PersistedSeqno Seqno
}

// ChainStats is the per-chain view of a replication chain.
type ChainStats struct {
	Name  ChainName
	Nodes []NodeStats
}

// Stats is the full introspection snapshot of an ActiveDurabilityMonitor.
// It is built by AddStats under the state lock, then handed to the
// caller, which is free to render or export it at leisure.
type Stats struct {
	HighPreparedSeqno  Seqno
	HighCompletedSeqno Seqno
	NumTracked         int
	NumAccepted        uint64
	NumCommitted       uint64
	NumAborted         uint64
	DurabilityPossible bool
	Chains             []ChainStats
}

// AddStats takes a snapshot of the monitor's current state.
// The name mirrors the accumulating-collector style of the rest of this
// package's external interfaces: callers that already hold a metrics
// registry can fold the returned Stats straight into it.
func (m *ActiveDurabilityMonitor) AddStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		HighPreparedSeqno:  m.hps,
		HighCompletedSeqno: m.hcs,
		NumTracked:         m.tracked.Len(),
		NumAccepted:        m.stats.numAccepted,
		NumCommitted:       m.stats.numCommitted,
		NumAborted:         m.stats.numAborted,
		DurabilityPossible: m.topologySet && m.topology.isDurabilityPossible(),
	}

	if m.topology == nil {
		return s
	}

	for _, c := range m.topology.chains {
		cs := ChainStats{Name: c.name}
		for _, n := range c.nodes {
			ns := NodeStats{Assigned: n.assigned()}
			if n.assigned() {
				ns.NodeID = *n.id
				ns.AckSeqno = n.ackSeqno
				ns.PersistedSeqno = n.persistedSeqno
			}
			cs.Nodes = append(cs.Nodes, ns)
		}
		s.Chains = append(s.Chains, cs)
	}

	return s
}
