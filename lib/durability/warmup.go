package durability

import "fmt"

// WarmupState is the persisted durability bookkeeping recovered from a
// vbucket_state document on restart.
type WarmupState struct {
	HighPreparedSeqno  Seqno
	HighCompletedSeqno Seqno
}

// OutstandingPrepare is one prepare that was tracked but not yet resolved
// at the time the previous process exited, recovered by replaying the
// ordered log from HighCompletedSeqno.
type OutstandingPrepare struct {
	Key   string
	Seqno Seqno
	Level DurabilityLevel
}

// NewActiveDurabilityMonitorFromWarmup reconstructs an active monitor from
// persisted state plus the prepares found still outstanding in the log
// past the persisted HighCompletedSeqno. prepares must be
// strictly ascending by seqno, matching the order they were originally
// appended; a topology must still be installed via SetReplicationTopology
// before the monitor accepts new prepares or acks.
func NewActiveDurabilityMonitorFromWarmup(state WarmupState, prepares []OutstandingPrepare, selfID string, clock Clock, applier HashTableApplier, notifier ClientNotifier) (*ActiveDurabilityMonitor, error) {
	m := NewActiveDurabilityMonitor(selfID, clock, applier, notifier)
	m.hps = state.HighPreparedSeqno
	m.hcs = state.HighCompletedSeqno
	m.maxSeenSeqno = state.HighPreparedSeqno

	last := Seqno(-1)
	for _, p := range prepares {
		if last >= 0 && p.Seqno <= last {
			return nil, newError(ErrCWarmupOutOfOrder,
				fmt.Sprintf("outstanding prepares out of order: seqno %d after %d", p.Seqno, last))
		}
		last = p.Seqno

		w := newSyncWrite(p.Seqno, p.Key, nil, false, p.Level, noDeadline, false)
		m.tracked.PushBack(w)
		if p.Seqno > m.maxSeenSeqno {
			m.maxSeenSeqno = p.Seqno
		}
	}

	return m, nil
}
