package server

import (
	"fmt"
	"github.com/ValentinKolb/dKV/lib/durability"
	"github.com/ValentinKolb/dKV/lib/replication/producer"
	"github.com/ValentinKolb/dKV/lib/store"
	"github.com/ValentinKolb/dKV/rpc/common"
)

// NewDurabilityServerAdapter creates an adapter that handles durability
// wire messages against a single shard's monitors. Exactly one of active
// or passive should be non-nil, matching whichever role this shard
// currently holds. reporter is only meaningful for a passive shard: when
// non-nil, it reports a persisted ack back to the active node for every
// mirrored prepare whose level demands one; it is otherwise ignored.
func NewDurabilityServerAdapter(active *durability.ActiveDurabilityMonitor, passive *durability.PassiveDurabilityMonitor, reporter *producer.AckReporter) IRPCServerAdapter {
	return &durabilityServerAdapter{active: active, passive: passive, reporter: reporter}
}

type durabilityServerAdapter struct {
	active   *durability.ActiveDurabilityMonitor
	passive  *durability.PassiveDurabilityMonitor
	reporter *producer.AckReporter
}

func (adapter *durabilityServerAdapter) Handle(req *common.Message, _ store.IStore) *common.Message {
	switch req.MsgType {
	case common.MsgTDURPrepare:
		return adapter.handlePrepare(req)
	case common.MsgTDURAck:
		return adapter.handleAck(req)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC DurabilityAdapter - Unsuported message type: %s", req.MsgType),
		)
	}
}

// handlePrepare mirrors a prepare streamed from the active node into this
// shard's passive monitor and plain-acks it on the same round trip. If
// the prepare's level requires a persisted ack and this replica has an
// ack reporter configured, the persisted ack is reported back to the
// active node asynchronously once this prepare is durably tracked here.
func (adapter *durabilityServerAdapter) handlePrepare(req *common.Message) *common.Message {
	if adapter.passive == nil {
		return common.NewDurPrepareResponse(false, fmt.Errorf("shard is not a passive replica"))
	}
	seqno := durability.Seqno(req.ExpireIn)
	level := durability.DurabilityLevel(req.DeleteIn)
	adapter.passive.AddSyncWrite(req.Key, seqno, level)

	if adapter.reporter != nil && level == durability.LevelPersistToMajority {
		go func() {
			if err := adapter.reporter.ReportPersistedAck(seqno); err != nil {
				Logger.Errorf("durability: failed to report persisted ack for seqno %d: %v", seqno, err)
			}
		}()
	}

	return common.NewDurPrepareResponse(true, nil)
}

// handleAck applies a SeqnoAck reported by a replica to this shard's
// active monitor. req.Key carries the reporting node's id, req.ExpireIn
// the acked seqno, req.Ok whether it is a persisted ack. A protocol
// violation (an ack beyond anything tracked, or behind a node's own
// already-acknowledged position) is logged here and fails this round
// trip, which is this request/response protocol's equivalent of closing
// the offending replica's stream.
func (adapter *durabilityServerAdapter) handleAck(req *common.Message) *common.Message {
	if adapter.active == nil {
		return common.NewDurAckResponse(fmt.Errorf("shard is not the active node"))
	}
	seqno := durability.Seqno(req.ExpireIn)
	if err := adapter.active.SeqnoAckReceived(req.Key, seqno, req.Ok); err != nil {
		Logger.Errorf("durability: rejecting ack from %s: %v", req.Key, err)
		return common.NewDurAckResponse(err)
	}
	return common.NewDurAckResponse(nil)
}
