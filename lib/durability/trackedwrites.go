package durability

// writeNode is one node of the intrusive doubly-linked list backing
// trackedWrites. Chain-node cursors hold a *writeNode directly, so erasing
// a contiguous front prefix never invalidates a cursor that still points
// further back in the list.
type writeNode struct {
	prev, next *writeNode
	write      *SyncWrite
}

// trackedWrites is an ordered sequence of SyncWrite prepares indexed by
// seqno.
type trackedWrites struct {
	head, tail *writeNode
	byIndex    map[Seqno]*writeNode
}

func newTrackedWrites() *trackedWrites {
	return &trackedWrites{byIndex: make(map[Seqno]*writeNode)}
}

// Len returns the number of tracked prepares.
func (t *trackedWrites) Len() int { return len(t.byIndex) }

// Front returns the node with the lowest seqno, or nil if empty.
func (t *trackedWrites) Front() *writeNode { return t.head }

// Back returns the node with the highest seqno, or nil if empty.
func (t *trackedWrites) Back() *writeNode { return t.tail }

// At looks up the node tracking the given seqno.
func (t *trackedWrites) At(seqno Seqno) (*writeNode, bool) {
	n, ok := t.byIndex[seqno]
	return n, ok
}

// PushBack appends a SyncWrite to the back of the container. The seqno
// must be strictly greater than the current tail's seqno; callers violate
// an invariant owned by the ordered log if this does not hold, which is a
// fatal programming error, not a recoverable one.
func (t *trackedWrites) PushBack(w *SyncWrite) *writeNode {
	if t.tail != nil && w.seqno <= t.tail.write.seqno {
		log.Panicf("trackedWrites: non-monotonic append: seqno %d after %d", w.seqno, t.tail.write.seqno)
	}
	n := &writeNode{write: w}
	if t.tail == nil {
		t.head = n
		t.tail = n
	} else {
		n.prev = t.tail
		t.tail.next = n
		t.tail = n
	}
	t.byIndex[w.seqno] = n
	return n
}

// PopFront removes and returns the front node, or nil if empty.
func (t *trackedWrites) PopFront() *writeNode {
	n := t.head
	if n == nil {
		return nil
	}
	t.head = n.next
	if t.head != nil {
		t.head.prev = nil
	} else {
		t.tail = nil
	}
	n.next = nil
	delete(t.byIndex, n.write.seqno)
	return n
}

// Remove detaches an arbitrary node from the container (used by
// processTimeout, which may abort a prepare that is not at the front).
func (t *trackedWrites) Remove(n *writeNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else if t.head == n {
		t.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else if t.tail == n {
		t.tail = n.prev
	}
	delete(t.byIndex, n.write.seqno)
	n.prev, n.next = nil, nil
}

// Each iterates every tracked write in seqno order.
func (t *trackedWrites) Each(fn func(*writeNode)) {
	for n := t.head; n != nil; {
		next := n.next
		fn(n)
		n = next
	}
}
