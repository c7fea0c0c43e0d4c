package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key      string `json:"key,omitempty"`      // Used for: Set, Get, Has, Expire, Delete, Acquire, Release
	ExpireIn uint64 `json:"expireIn,omitempty"` // Used for: Set operations
	DeleteIn uint64 `json:"deleteIn,omitempty"` // Used for: Set, Acquire operations
	Value    []byte `json:"value,omitempty"`    // Used for: Set (request), Get (response), Acquire (response)

	// Response only fields
	Ok  bool   `json:"ok,omitempty"`  // Used for: Get, Has, Acquire, Release responses
	Err string `json:"err,omitempty"` // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: SetSync/DeleteSync (durability level in requests, result in responses)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{
		MsgType: MsgTKVSet,
		Key:     key,
		Value:   value,
	}
}

// NewSetResponse creates a new Set response
func NewSetResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTKVSet,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewSetERequest creates a new SetE request
func NewSetERequest(key string, value []byte, expireIn, deleteIn uint64) *Message {
	return &Message{
		MsgType:  MsgTKVSetE,
		Key:      key,
		Value:    value,
		ExpireIn: expireIn,
		DeleteIn: deleteIn,
	}
}

// NewSetEResponse creates a new SetE response
func NewSetEResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTKVSetE,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewSetEIfUnsetRequest creates a new SetEIfUnset request
func NewSetEIfUnsetRequest(key string, value []byte, expireIn, deleteIn uint64) *Message {
	return &Message{
		MsgType:  MsgTKVSetEIfUnset,
		Key:      key,
		Value:    value,
		ExpireIn: expireIn,
		DeleteIn: deleteIn,
	}
}

// NewSetEIfUnsetResponse creates a new SetEIfUnset response
func NewSetEIfUnsetResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTKVSetEIfUnset,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewExpireRequest creates a new Expire request
func NewExpireRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVExpire,
		Key:     key,
	}
}

// NewExpireResponse creates a new Expire response
func NewExpireResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTKVExpire,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVDelete,
		Key:     key,
	}
}

// NewDeleteResponse creates a new Delete response
func NewDeleteResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTKVDelete,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVGet,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVGet,
		Ok:      ok,
		Value:   value,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewHasRequest creates a new Has request
func NewHasRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVHas,
		Key:     key,
	}
}

// NewHasResponse creates a new Has response
func NewHasResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVHas,
		Ok:      ok,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewAcquireRequest creates a new Acquire request
func NewAcquireRequest(key string, deleteIn uint64) *Message {
	return &Message{
		MsgType:  MsgTLCKAcquire,
		Key:      key,
		DeleteIn: deleteIn,
	}
}

// NewAcquireResponse creates a new Acquire response
func NewAcquireResponse(ok bool, value []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKAcquire,
		Ok:      ok,
		Value:   value,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewReleaseRequest creates a new Release request
func NewReleaseRequest(key string, ownerId []byte) *Message {
	return &Message{
		MsgType: MsgTLCKRelease,
		Key:     key,
		Value:   ownerId,
	}
}

// NewReleaseResponse creates a new Release response
func NewReleaseResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTLCKRelease,
		Ok:      ok,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewCustomRequest creates a new Custom request
func NewCustomRequest(meta []byte) *Message {
	return &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
}

// NewCustomResponse creates a new Custom response
func NewCustomResponse(meta []byte, err error) *Message {
	msg := &Message{
		MsgType: MsgTCustom,
		Meta:    meta,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewDurPrepareRequest creates a new durability Prepare request, streamed
// from the active node to a passive replica. seqno and level are carried
// in ExpireIn/DeleteIn, reusing the existing Message field-overloading
// convention rather than adding durability-specific fields to Message.
func NewDurPrepareRequest(key string, value []byte, seqno uint64, level uint8) *Message {
	return &Message{
		MsgType:  MsgTDURPrepare,
		Key:      key,
		Value:    value,
		ExpireIn: seqno,
		DeleteIn: uint64(level),
	}
}

// NewDurPrepareResponse creates a new durability Prepare response. Ok
// carries whether the replica plain-acked the prepare on this same round
// trip.
func NewDurPrepareResponse(acked bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTDURPrepare,
		Ok:      acked,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewDurAckRequest creates a new durability SeqnoAck request, reported by
// a passive replica back to the active node. Key carries the reporting
// node's id, ExpireIn the acked seqno, Ok whether this is a persisted
// (rather than plain) ack.
func NewDurAckRequest(nodeID string, seqno uint64, persisted bool) *Message {
	return &Message{
		MsgType:  MsgTDURAck,
		Key:      nodeID,
		ExpireIn: seqno,
		Ok:       persisted,
	}
}

// NewDurAckResponse creates a new durability SeqnoAck response.
func NewDurAckResponse(err error) *Message {
	msg := &Message{
		MsgType: MsgTDURAck,
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewSetSyncRequest creates a new synchronous Set request. level is carried
// in Meta[0], reusing the existing Message field-overloading convention
// rather than adding durability-specific fields to Message.
func NewSetSyncRequest(key string, value []byte, expireIn, deleteIn uint64, level uint8) *Message {
	return &Message{
		MsgType:  MsgTKVSetSync,
		Key:      key,
		Value:    value,
		ExpireIn: expireIn,
		DeleteIn: deleteIn,
		Meta:     []byte{level},
	}
}

// NewSetSyncResponse creates a new synchronous Set response. result is the
// resolved durability.Result, carried in Meta[0].
func NewSetSyncResponse(result uint8, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVSetSync,
		Ok:      result == 0, // ResultSuccess
		Meta:    []byte{result},
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewDeleteSyncRequest creates a new synchronous Delete request. level is
// carried in Meta[0].
func NewDeleteSyncRequest(key string, level uint8) *Message {
	return &Message{
		MsgType: MsgTKVDeleteSync,
		Key:     key,
		Meta:    []byte{level},
	}
}

// NewDeleteSyncResponse creates a new synchronous Delete response. result is
// the resolved durability.Result, carried in Meta[0].
func NewDeleteSyncResponse(result uint8, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVDeleteSync,
		Ok:      result == 0, // ResultSuccess
		Meta:    []byte{result},
	}
	if err != nil {
		msg.Err = err.Error()
	}
	return msg
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err string) *Message {
	return &Message{
		MsgType: MsgTError,
		Err:     err,
	}
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTKVSet:
		return "set"
	case MsgTKVSetE:
		return "setE"
	case MsgTKVSetEIfUnset:
		return "setEIfUnset"
	case MsgTKVExpire:
		return "expire"
	case MsgTKVDelete:
		return "delete"
	case MsgTKVGet:
		return "get"
	case MsgTKVHas:
		return "has"
	case MsgTLCKAcquire:
		return "acquire"
	case MsgTLCKRelease:
		return "release"
	case MsgTCustom:
		return "custom"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	case MsgTDURPrepare:
		return "dur_prepare"
	case MsgTDURAck:
		return "dur_ack"
	case MsgTKVSetSync:
		return "setSync"
	case MsgTKVDeleteSync:
		return "deleteSync"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "set":
		*t = MsgTKVSet
	case "setE":
		*t = MsgTKVSetE
	case "setEIfUnset":
		*t = MsgTKVSetEIfUnset
	case "expire":
		*t = MsgTKVExpire
	case "delete":
		*t = MsgTKVDelete
	case "get":
		*t = MsgTKVGet
	case "has":
		*t = MsgTKVHas
	case "acquire":
		*t = MsgTLCKAcquire
	case "release":
		*t = MsgTLCKRelease
	case "custom":
		*t = MsgTCustom
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	case "dur_prepare":
		*t = MsgTDURPrepare
	case "dur_ack":
		*t = MsgTDURAck
	case "setSync":
		*t = MsgTKVSetSync
	case "deleteSync":
		*t = MsgTKVDeleteSync
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// IStore operations

	MsgTKVSet         // Set a key-value pair
	MsgTKVSetE        // Set a key-value pair with expiration
	MsgTKVSetEIfUnset // Set a key-value pair if not already set
	MsgTKVExpire      // Expire a key
	MsgTKVDelete      // Delete a key-value pair
	MsgTKVGet         // Get a value by key
	MsgTKVHas         // Check if a key exists

	// ILockProvider operations

	MsgTLCKAcquire // Acquire a lock
	MsgTLCKRelease // Release a lock

	// Custom operations

	MsgTCustom // Custom operation type

	// Durability operations

	MsgTDURPrepare // Stream a prepared write to a passive replica
	MsgTDURAck     // Report a (plain or persisted) SeqnoAck back to the active node

	// ISyncStore operations (client-facing, distinct from the Dur* replica
	// protocol above)

	MsgTKVSetSync    // Set a key-value pair, blocking until a durability level is met
	MsgTKVDeleteSync // Delete a key, blocking until a durability level is met
)
