package durability

import "testing"

func TestTrackedWritesPushBackAndFront(t *testing.T) {
	tw := newTrackedWrites()

	if tw.Front() != nil {
		t.Fatal("new trackedWrites should have a nil front")
	}

	w1 := newSyncWrite(1, "a", nil, false, LevelMajority, noDeadline, false)
	w2 := newSyncWrite(2, "b", nil, false, LevelMajority, noDeadline, false)
	tw.PushBack(w1)
	tw.PushBack(w2)

	if tw.Len() != 2 {
		t.Errorf("expected len 2, got %d", tw.Len())
	}
	if tw.Front().write != w1 {
		t.Error("front should be the first pushed write")
	}
	if tw.Back().write != w2 {
		t.Error("back should be the last pushed write")
	}
}

func TestTrackedWritesPushBackRejectsNonMonotonic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-monotonic seqno")
		}
	}()

	tw := newTrackedWrites()
	tw.PushBack(newSyncWrite(5, "a", nil, false, LevelMajority, noDeadline, false))
	tw.PushBack(newSyncWrite(5, "b", nil, false, LevelMajority, noDeadline, false))
}

func TestTrackedWritesPopFront(t *testing.T) {
	tw := newTrackedWrites()
	tw.PushBack(newSyncWrite(1, "a", nil, false, LevelMajority, noDeadline, false))
	tw.PushBack(newSyncWrite(2, "b", nil, false, LevelMajority, noDeadline, false))

	n := tw.PopFront()
	if n.write.seqno != 1 {
		t.Fatalf("expected popped seqno 1, got %d", n.write.seqno)
	}
	if tw.Len() != 1 {
		t.Errorf("expected len 1 after pop, got %d", tw.Len())
	}
	if _, ok := tw.At(1); ok {
		t.Error("popped seqno should no longer be indexed")
	}
	if tw.Front().write.seqno != 2 {
		t.Error("front should advance to the remaining write")
	}
}

// TestTrackedWritesCursorStability verifies the invariant that a cursor
// pointing deeper into the list survives a front-erase of earlier nodes.
func TestTrackedWritesCursorStability(t *testing.T) {
	tw := newTrackedWrites()
	tw.PushBack(newSyncWrite(1, "a", nil, false, LevelMajority, noDeadline, false))
	tw.PushBack(newSyncWrite(2, "b", nil, false, LevelMajority, noDeadline, false))
	tw.PushBack(newSyncWrite(3, "c", nil, false, LevelMajority, noDeadline, false))

	cursor, _ := tw.At(3)

	tw.PopFront()
	tw.PopFront()

	if cursor.write.seqno != 3 {
		t.Fatalf("cursor should still point at seqno 3, got %d", cursor.write.seqno)
	}
	if tw.Front() != cursor {
		t.Error("remaining front should be the cursor's node")
	}
}

func TestTrackedWritesRemoveMiddle(t *testing.T) {
	tw := newTrackedWrites()
	tw.PushBack(newSyncWrite(1, "a", nil, false, LevelMajority, noDeadline, false))
	n2 := tw.PushBack(newSyncWrite(2, "b", nil, false, LevelMajority, noDeadline, false))
	tw.PushBack(newSyncWrite(3, "c", nil, false, LevelMajority, noDeadline, false))

	tw.Remove(n2)

	if tw.Len() != 2 {
		t.Errorf("expected len 2 after removing middle, got %d", tw.Len())
	}
	if _, ok := tw.At(2); ok {
		t.Error("removed seqno should no longer be indexed")
	}

	var seqnos []Seqno
	tw.Each(func(n *writeNode) { seqnos = append(seqnos, n.write.seqno) })
	if len(seqnos) != 2 || seqnos[0] != 1 || seqnos[1] != 3 {
		t.Errorf("expected remaining seqnos [1 3], got %v", seqnos)
	}
}

func TestTrackedWritesRemoveTail(t *testing.T) {
	tw := newTrackedWrites()
	tw.PushBack(newSyncWrite(1, "a", nil, false, LevelMajority, noDeadline, false))
	n2 := tw.PushBack(newSyncWrite(2, "b", nil, false, LevelMajority, noDeadline, false))

	tw.Remove(n2)

	if tw.Back().write.seqno != 1 {
		t.Error("back should retreat to the remaining node")
	}
}
