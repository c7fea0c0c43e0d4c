package durability

import "fmt"

// ErrCode enumerates the error kinds raised synchronously by this
// package. Durability-impossible aborts are deliberately not part of
// this set: they are not an error to the ADM, the prepare is accepted and
// immediately queued as an abort.
type ErrCode uint8

const (
	// ErrCInvalidTopology: malformed setReplicationTopology input.
	ErrCInvalidTopology ErrCode = iota
	// ErrCWarmupOutOfOrder: outstanding prepares supplied at warmup were
	// not strictly ascending by seqno.
	ErrCWarmupOutOfOrder
	// ErrCReplicaProtocolViolation: a SeqnoAck moved a node's ack seqno
	// backwards, or referenced a seqno beyond anything ever tracked.
	ErrCReplicaProtocolViolation
	// ErrCTopologyNotSet: an operation that requires a topology was
	// called before setReplicationTopology.
	ErrCTopologyNotSet
)

func (c ErrCode) String() string {
	switch c {
	case ErrCInvalidTopology:
		return "InvalidTopology"
	case ErrCWarmupOutOfOrder:
		return "WarmupOutOfOrder"
	case ErrCReplicaProtocolViolation:
		return "ReplicaProtocolViolation"
	case ErrCTopologyNotSet:
		return "TopologyNotSet"
	default:
		return "Unknown"
	}
}

// Error is the typed error returned by this package's synchronous
// validation paths.
type Error struct {
	Code  ErrCode
	Chain ChainName // set for ErrCInvalidTopology, else empty
	Msg   string
}

func (e *Error) Error() string {
	if e.Chain != "" {
		return fmt.Sprintf("durability error (%s, chain %s): %s", e.Code, e.Chain, e.Msg)
	}
	return fmt.Sprintf("durability error (%s): %s", e.Code, e.Msg)
}

func newError(code ErrCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func newTopologyError(chain ChainName, msg string) *Error {
	return &Error{Code: ErrCInvalidTopology, Chain: chain, Msg: msg}
}
