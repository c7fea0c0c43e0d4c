package durability

import "testing"

func strp(s string) *string { return &s }

func TestParseTopologySingleChain(t *testing.T) {
	self := "node-a"
	topo, err := ParseTopology([]RawChain{{strp(self), strp("node-b"), strp("node-c")}}, self)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(topo.chains) != 1 {
		t.Fatalf("expected 1 chain, got %d", len(topo.chains))
	}
	c := topo.chains[0]
	if c.size() != 3 || c.assignedCount() != 3 {
		t.Errorf("expected 3 assigned nodes, got size=%d assigned=%d", c.size(), c.assignedCount())
	}
	if c.majority() != 2 {
		t.Errorf("expected majority 2 for 3 nodes, got %d", c.majority())
	}
}

func TestParseTopologyTwoChains(t *testing.T) {
	self := "node-a"
	topo, err := ParseTopology([]RawChain{
		{strp(self), strp("b"), strp("c")},
		{strp(self), strp("d")},
	}, self)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(topo.chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(topo.chains))
	}
	if topo.active() != topo.chains[0].nodes[0] {
		t.Error("active() should return chain[0]'s position-0 node")
	}
}

func TestParseTopologyRejectsWrongActive(t *testing.T) {
	_, err := ParseTopology([]RawChain{{strp("other"), strp("b")}}, "self")
	if err == nil {
		t.Fatal("expected error when position 0 is not the active node")
	}
}

func TestParseTopologyRejectsUnassignedActive(t *testing.T) {
	_, err := ParseTopology([]RawChain{{nil, strp("b")}}, "self")
	if err == nil {
		t.Fatal("expected error when active position is unassigned")
	}
}

func TestParseTopologyRejectsDuplicateIDs(t *testing.T) {
	self := "self"
	_, err := ParseTopology([]RawChain{{strp(self), strp("b"), strp("b")}}, self)
	if err == nil {
		t.Fatal("expected error on duplicate node id within a chain")
	}
}

func TestParseTopologyRejectsTooFewChains(t *testing.T) {
	if _, err := ParseTopology(nil, "self"); err == nil {
		t.Fatal("expected error for zero chains")
	}
}

func TestParseTopologyRejectsTooManyChains(t *testing.T) {
	self := "self"
	chains := []RawChain{{strp(self)}, {strp(self)}, {strp(self)}}
	if _, err := ParseTopology(chains, self); err == nil {
		t.Fatal("expected error for more than 2 chains")
	}
}

func TestParseTopologyAllowsUnassignedNonActiveSlots(t *testing.T) {
	self := "self"
	topo, err := ParseTopology([]RawChain{{strp(self), nil, strp("c")}}, self)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := topo.chains[0]
	if c.assignedCount() != 2 {
		t.Errorf("expected 2 assigned out of 3 slots, got %d", c.assignedCount())
	}
	if !c.isDurabilityPossible() {
		t.Error("2 of 3 assigned should still meet majority 2, expected durability possible")
	}
}

func TestChainIsDurabilityPossible(t *testing.T) {
	self := "self"
	topo, err := ParseTopology([]RawChain{{strp(self), nil, nil, strp("d")}}, self)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := topo.chains[0]
	// 4 slots, majority 3, only 2 assigned.
	if c.isDurabilityPossible() {
		t.Error("2 of 4 assigned should not meet majority 3")
	}
	if topo.isDurabilityPossible() {
		t.Error("topology should report durability impossible when any chain is")
	}
}
