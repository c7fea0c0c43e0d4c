package server

import (
	"github.com/ValentinKolb/dKV/lib/durability"
	iStore "github.com/ValentinKolb/dKV/lib/store"
	"github.com/ValentinKolb/dKV/rpc/common"
)

// NewSyncStoreServerAdapter builds the adapter for an active sync store
// shard: client IStore/ISyncStore traffic (Get/Set/SetSync/...) is routed
// to the shard's store, while MsgTDUR* replication traffic is routed to
// active's quorum/commit state machine. A syncstore.Store is reachable
// through both surfaces at once, so this shard needs both adapters,
// dispatched by message type rather than picking one.
func NewSyncStoreServerAdapter(active *durability.ActiveDurabilityMonitor) IRPCServerAdapter {
	return &syncStoreServerAdapter{
		istore:     NewIStoreServerAdapter(),
		durability: NewDurabilityServerAdapter(active, nil, nil),
	}
}

type syncStoreServerAdapter struct {
	istore     IRPCServerAdapter
	durability IRPCServerAdapter
}

func (adapter *syncStoreServerAdapter) Handle(req *common.Message, s iStore.IStore) *common.Message {
	switch req.MsgType {
	case common.MsgTDURPrepare, common.MsgTDURAck:
		return adapter.durability.Handle(req, s)
	default:
		return adapter.istore.Handle(req, s)
	}
}
