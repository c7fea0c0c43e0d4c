// Package producer moves ADM prepares and acks between nodes over the
// existing rpc/transport and rpc/serializer abstractions, giving those
// packages a second consumer besides the plain IStore/ILockManager RPCs.
package producer

import (
	"fmt"

	"github.com/ValentinKolb/dKV/lib/durability"
	"github.com/ValentinKolb/dKV/rpc/common"
	"github.com/ValentinKolb/dKV/rpc/serializer"
	"github.com/ValentinKolb/dKV/rpc/transport"
)

// StreamProducer streams prepares from the active node to one passive
// replica, in seqno order, over an already-connected client transport. A
// replica's immediate (plain) ack rides back on the same request/response
// round trip, following this protocol's existing request/response shape
// rather than a dedicated push channel.
type StreamProducer struct {
	nodeID     string
	shardID    uint64
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// NewStreamProducer constructs a producer for one replica. transport must
// already be Connect()ed to that replica's endpoint.
func NewStreamProducer(nodeID string, shardID uint64, t transport.IRPCClientTransport, s serializer.IRPCSerializer) *StreamProducer {
	return &StreamProducer{nodeID: nodeID, shardID: shardID, transport: t, serializer: s}
}

// SendPrepare streams one prepare to the replica and reports whether it
// was plain-acked on the same round trip.
func (p *StreamProducer) SendPrepare(key string, value []byte, seqno durability.Seqno, level durability.DurabilityLevel) (acked bool, err error) {
	req := common.NewDurPrepareRequest(key, value, uint64(seqno), uint8(level))

	reqBytes, err := p.serializer.Serialize(*req)
	if err != nil {
		return false, fmt.Errorf("producer: failed to serialize prepare: %w", err)
	}

	respBytes, err := p.transport.Send(p.shardID, reqBytes)
	if err != nil {
		return false, fmt.Errorf("producer: failed to send prepare to %s: %w", p.nodeID, err)
	}

	var resp common.Message
	if err := p.serializer.Deserialize(respBytes, &resp); err != nil {
		return false, fmt.Errorf("producer: failed to deserialize prepare response: %w", err)
	}
	if resp.Err != "" {
		return false, fmt.Errorf("producer: replica %s rejected prepare: %s", p.nodeID, resp.Err)
	}

	return resp.Ok, nil
}

// AckReporter is used by a passive node to report a persisted ack back to
// the active node once its own storage engine has flushed a prepare to
// disk, over a client transport Connect()ed to the active node's
// endpoint.
type AckReporter struct {
	selfNodeID string
	shardID    uint64
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// NewAckReporter constructs an ack reporter identifying itself as
// selfNodeID to the active node it reports to.
func NewAckReporter(selfNodeID string, shardID uint64, t transport.IRPCClientTransport, s serializer.IRPCSerializer) *AckReporter {
	return &AckReporter{selfNodeID: selfNodeID, shardID: shardID, transport: t, serializer: s}
}

// ReportPersistedAck tells the active node this replica has persisted
// seqno to disk.
func (r *AckReporter) ReportPersistedAck(seqno durability.Seqno) error {
	req := common.NewDurAckRequest(r.selfNodeID, uint64(seqno), true)

	reqBytes, err := r.serializer.Serialize(*req)
	if err != nil {
		return fmt.Errorf("producer: failed to serialize ack: %w", err)
	}

	respBytes, err := r.transport.Send(r.shardID, reqBytes)
	if err != nil {
		return fmt.Errorf("producer: failed to send ack: %w", err)
	}

	var resp common.Message
	if err := r.serializer.Deserialize(respBytes, &resp); err != nil {
		return fmt.Errorf("producer: failed to deserialize ack response: %w", err)
	}
	if resp.Err != "" {
		return fmt.Errorf("producer: active node rejected ack: %s", resp.Err)
	}
	return nil
}
