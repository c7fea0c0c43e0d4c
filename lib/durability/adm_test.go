package durability

import (
	"sync"
	"testing"
	"time"
)

// manualClock is a Clock test double whose Now() is advanced explicitly,
// so ProcessTimeout can be exercised deterministically.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingApplier is a HashTableApplier test double recording every
// ApplyCommit/ApplyAbort call, in order, without synchronization beyond a
// mutex (the ADM itself serializes calls to it via the completed queue).
type recordingApplier struct {
	mu      sync.Mutex
	commits []Seqno
	aborts  []Seqno
}

func (a *recordingApplier) ApplyCommit(key string, seqno Seqno) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.commits = append(a.commits, seqno)
	return nil
}

func (a *recordingApplier) ApplyAbort(key string, seqno Seqno) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aborts = append(a.aborts, seqno)
	return nil
}

// recordingNotifier is a ClientNotifier test double.
type recordingNotifier struct {
	mu      sync.Mutex
	results map[Seqno]Result
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{results: make(map[Seqno]Result)}
}

func (n *recordingNotifier) Notify(cookie Cookie, result Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results[cookie.(Seqno)] = result
}

func (n *recordingNotifier) resultFor(seqno Seqno) (Result, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.results[seqno]
	return r, ok
}

func newTestADM(t *testing.T, selfID string, chains []RawChain) (*ActiveDurabilityMonitor, *manualClock, *recordingApplier, *recordingNotifier) {
	t.Helper()
	clock := newManualClock(time.Unix(0, 0))
	applier := &recordingApplier{}
	notifier := newRecordingNotifier()
	m := NewActiveDurabilityMonitor(selfID, clock, applier, notifier)

	topo, err := ParseTopology(chains, selfID)
	if err != nil {
		t.Fatalf("ParseTopology failed: %v", err)
	}
	m.SetReplicationTopology(topo)

	return m, clock, applier, notifier
}

// TestMajorityCommitThreeNodes exercises a 3-node
// chain (active + 2 replicas) commits a Majority write once one replica
// acks, since the active's implicit self-ack already counts for one.
func TestMajorityCommitThreeNodes(t *testing.T) {
	m, _, applier, notifier := newTestADM(t, "a", []RawChain{{strp("a"), strp("b"), strp("c")}})

	if err := m.AddSyncWrite(Seqno(10), true, "key1", 10, LevelMajority, 0); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}

	if len(applier.commits) != 0 {
		t.Fatalf("should not commit before any replica ack, got %v", applier.commits)
	}

	if err := m.SeqnoAckReceived("b", 10, false); err != nil {
		t.Fatalf("SeqnoAckReceived: %v", err)
	}

	if len(applier.commits) != 1 || applier.commits[0] != 10 {
		t.Fatalf("expected commit of seqno 10, got %v", applier.commits)
	}
	if r, ok := notifier.resultFor(10); !ok || r != ResultSuccess {
		t.Errorf("expected client notified Success, got %v (present=%v)", r, ok)
	}
	if m.GetHighCompletedSeqno() != 10 {
		t.Errorf("expected HCS 10, got %d", m.GetHighCompletedSeqno())
	}
}

// TestPersistToMajorityWaitsForPersistedAcks exercises the scenario
// 2: a PersistToMajority write must not commit on plain acks alone, only
// once a majority of persisted acks (including the active's own, via
// NotifyLocalPersistence) are in.
func TestPersistToMajorityWaitsForPersistedAcks(t *testing.T) {
	m, _, applier, _ := newTestADM(t, "a", []RawChain{{strp("a"), strp("b"), strp("c")}})

	if err := m.AddSyncWrite(nil, false, "key1", 1, LevelPersistToMajority, 0); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}

	if err := m.SeqnoAckReceived("b", 1, false); err != nil {
		t.Fatalf("SeqnoAckReceived: %v", err)
	}
	if len(applier.commits) != 0 {
		t.Fatalf("plain acks alone must not satisfy PersistToMajority, got %v", applier.commits)
	}

	if err := m.SeqnoAckReceived("b", 1, true); err != nil {
		t.Fatalf("SeqnoAckReceived persisted: %v", err)
	}
	if len(applier.commits) != 0 {
		t.Fatalf("only 1 of 3 persisted acks should not reach majority 2, got %v", applier.commits)
	}

	m.NotifyLocalPersistence(1)

	if len(applier.commits) != 1 || applier.commits[0] != 1 {
		t.Fatalf("expected commit once active's own persisted ack arrives, got %v", applier.commits)
	}
}

// TestTwoChainCommit exercises a write that only commits
// once both chains independently reach majority.
func TestTwoChainCommit(t *testing.T) {
	m, _, applier, _ := newTestADM(t, "a", []RawChain{
		{strp("a"), strp("b")},
		{strp("a"), strp("c")},
	})

	if err := m.AddSyncWrite(nil, false, "key1", 1, LevelMajority, 0); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}

	if err := m.SeqnoAckReceived("b", 1, false); err != nil {
		t.Fatalf("SeqnoAckReceived: %v", err)
	}
	if len(applier.commits) != 0 {
		t.Fatalf("first chain alone should not commit, got %v", applier.commits)
	}

	if err := m.SeqnoAckReceived("c", 1, false); err != nil {
		t.Fatalf("SeqnoAckReceived: %v", err)
	}
	if len(applier.commits) != 1 {
		t.Fatalf("both chains satisfied should commit, got %v", applier.commits)
	}
}

// TestTimeoutAbort exercises a write whose deadline
// passes before the commit condition is met is aborted, and the client is
// notified Timedout.
func TestTimeoutAbort(t *testing.T) {
	m, clock, applier, notifier := newTestADM(t, "a", []RawChain{{strp("a"), strp("b"), strp("c")}})

	if err := m.AddSyncWrite(Seqno(5), true, "key1", 5, LevelMajority, 10*time.Second); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}

	clock.Advance(11 * time.Second)
	m.ProcessTimeout(clock.Now())

	if len(applier.aborts) != 1 || applier.aborts[0] != 5 {
		t.Fatalf("expected abort of seqno 5, got %v", applier.aborts)
	}
	if r, ok := notifier.resultFor(5); !ok || r != ResultTimedout {
		t.Errorf("expected client notified Timedout, got %v (present=%v)", r, ok)
	}
	if m.NumTracked() != 0 {
		t.Errorf("expected no writes left tracked, got %d", m.NumTracked())
	}
}

// TestTimeoutSkipsWriteThatAlreadyMeetsCommitCondition verifies that a
// write which reached its commit condition before its deadline stays
// committed when ProcessTimeout later runs past that deadline, while a
// write still short of majority is aborted.
func TestTimeoutSkipsWriteThatAlreadyMeetsCommitCondition(t *testing.T) {
	m, clock, applier, _ := newTestADM(t, "a", []RawChain{{strp("a"), strp("b"), strp("c")}})

	if err := m.AddSyncWrite(nil, false, "key1", 1, LevelMajority, 5*time.Second); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}
	if err := m.AddSyncWrite(nil, false, "key2", 2, LevelMajority, 5*time.Second); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}

	// b's ack for seqno 1 gives it a majority (self + b), so it commits
	// right away; seqno 2 has no replica ack and stays pending.
	if err := m.SeqnoAckReceived("b", 1, false); err != nil {
		t.Fatalf("SeqnoAckReceived: %v", err)
	}

	clock.Advance(6 * time.Second)
	m.ProcessTimeout(clock.Now())

	if len(applier.commits) != 1 || applier.commits[0] != 1 {
		t.Fatalf("seqno 1 should have committed on b's ack before the timeout pass, got commits=%v", applier.commits)
	}
	if len(applier.aborts) != 1 || applier.aborts[0] != 2 {
		t.Fatalf("seqno 2 should have aborted, got %v", applier.aborts)
	}
}

// TestQueuedAckFromUnknownNodeAppliedPostTopology exercises the
// scenario 5: an ack from a node not yet present in the topology is
// queued, and applied retroactively once a topology update assigns that
// node, potentially completing a commit immediately.
func TestQueuedAckFromUnknownNodeAppliedPostTopology(t *testing.T) {
	m, _, applier, _ := newTestADM(t, "a", []RawChain{{strp("a"), strp("y"), nil}})

	if err := m.AddSyncWrite(nil, false, "key1", 10, LevelMajority, 0); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}

	if err := m.SeqnoAckReceived("x", 10, false); err != nil {
		t.Fatalf("SeqnoAckReceived from unknown node: %v", err)
	}
	if len(applier.commits) != 0 {
		t.Fatalf("ack from unassigned node must not count yet, got %v", applier.commits)
	}

	topo, err := ParseTopology([]RawChain{{strp("a"), strp("y"), strp("x")}}, "a")
	if err != nil {
		t.Fatalf("ParseTopology: %v", err)
	}
	m.SetReplicationTopology(topo)

	if len(applier.commits) != 1 || applier.commits[0] != 10 {
		t.Fatalf("queued ack should be applied once node x is assigned, got %v", applier.commits)
	}
}

// TestLockOrderSafety exercises applier and notifier callbacks
// invoked from drainCompletedQueue must never be called while the ADM's
// state lock is held, so a callback that re-enters the monitor does not
// deadlock.
func TestLockOrderSafety(t *testing.T) {
	clock := newManualClock(time.Unix(0, 0))
	notifier := newRecordingNotifier()

	m := NewActiveDurabilityMonitor("a", clock, nil, notifier)
	topo, err := ParseTopology([]RawChain{{strp("a"), strp("b")}}, "a")
	if err != nil {
		t.Fatalf("ParseTopology: %v", err)
	}
	m.SetReplicationTopology(topo)

	reentrant := &reentrantApplier{m: m}
	m.applier = reentrant

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.AddSyncWrite(nil, false, "key1", 1, LevelMajority, 0); err != nil {
			t.Errorf("AddSyncWrite: %v", err)
		}
		if err := m.SeqnoAckReceived("b", 1, false); err != nil {
			t.Errorf("SeqnoAckReceived: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("deadlock: re-entrant applier call while state lock held")
	}
}

// reentrantApplier calls back into the monitor from within ApplyCommit, to
// prove drainCompletedQueue never runs under the state lock.
type reentrantApplier struct {
	m *ActiveDurabilityMonitor
}

func (a *reentrantApplier) ApplyCommit(key string, seqno Seqno) error {
	a.m.GetHighCompletedSeqno()
	return nil
}

func (a *reentrantApplier) ApplyAbort(key string, seqno Seqno) error {
	a.m.GetHighCompletedSeqno()
	return nil
}

func TestAddSyncWriteRequiresTopology(t *testing.T) {
	clock := newManualClock(time.Unix(0, 0))
	m := NewActiveDurabilityMonitor("a", clock, &recordingApplier{}, newRecordingNotifier())

	if err := m.AddSyncWrite(nil, false, "key1", 1, LevelMajority, 0); err == nil {
		t.Fatal("expected error when topology not yet set")
	}
}

func TestAddSyncWriteAbortsImmediatelyWhenDurabilityImpossible(t *testing.T) {
	m, _, applier, notifier := newTestADM(t, "a", []RawChain{{strp("a"), nil, nil, nil}})

	if err := m.AddSyncWrite(Seqno(1), true, "key1", 1, LevelMajority, 0); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}

	if len(applier.aborts) != 1 || applier.aborts[0] != 1 {
		t.Fatalf("expected immediate abort, got commits=%v aborts=%v", applier.commits, applier.aborts)
	}
	if r, ok := notifier.resultFor(1); !ok || r != ResultDurabilityImpossible {
		t.Errorf("expected DurabilityImpossible, got %v (present=%v)", r, ok)
	}
}

func TestSeqnoAckReceivedRejectsBeyondMaxSeen(t *testing.T) {
	m, _, _, _ := newTestADM(t, "a", []RawChain{{strp("a"), strp("b")}})

	if err := m.AddSyncWrite(nil, false, "key1", 5, LevelMajority, 0); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}

	if err := m.SeqnoAckReceived("b", 99, false); err == nil {
		t.Fatal("expected protocol violation error for ack beyond max seen seqno")
	}
}

func TestSeqnoAckReceivedRedeliveryIsNoOp(t *testing.T) {
	m, _, applier, _ := newTestADM(t, "a", []RawChain{{strp("a"), strp("b"), strp("c")}})

	if err := m.AddSyncWrite(nil, false, "key1", 1, LevelMajority, 0); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}
	if err := m.AddSyncWrite(nil, false, "key2", 2, LevelMajority, 0); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}

	if err := m.SeqnoAckReceived("b", 2, false); err != nil {
		t.Fatalf("SeqnoAckReceived: %v", err)
	}
	if len(applier.commits) != 2 {
		t.Fatalf("expected both writes committed, got %v", applier.commits)
	}

	// A redelivery of the exact same ack must be a harmless no-op.
	if err := m.SeqnoAckReceived("b", 2, false); err != nil {
		t.Fatalf("redelivered ack should be a no-op, not an error: %v", err)
	}
}

func TestSeqnoAckReceivedDecreaseIsProtocolViolation(t *testing.T) {
	m, _, _, _ := newTestADM(t, "a", []RawChain{{strp("a"), strp("b"), strp("c")}})

	if err := m.AddSyncWrite(nil, false, "key1", 1, LevelMajority, 0); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}
	if err := m.AddSyncWrite(nil, false, "key2", 2, LevelMajority, 0); err != nil {
		t.Fatalf("AddSyncWrite: %v", err)
	}

	if err := m.SeqnoAckReceived("b", 2, false); err != nil {
		t.Fatalf("SeqnoAckReceived: %v", err)
	}

	// A node moving its own ack position backwards is not a redelivery, it
	// is a protocol violation.
	err := m.SeqnoAckReceived("b", 1, false)
	if err == nil {
		t.Fatal("expected protocol violation error for a decreased ack")
	}
	durErr, ok := err.(*Error)
	if !ok || durErr.Code != ErrCReplicaProtocolViolation {
		t.Fatalf("expected ErrCReplicaProtocolViolation, got %v", err)
	}
}
