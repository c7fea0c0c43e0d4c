package server

import (
	"fmt"
	"github.com/ValentinKolb/dKV/lib/durability"
	iStore "github.com/ValentinKolb/dKV/lib/store"
	"github.com/ValentinKolb/dKV/rpc/common"
)

func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(req *common.Message, s iStore.IStore) *common.Message {
	// Check for nil store
	if s == nil {
		return common.NewErrorResponse("handler: store is nil")
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTKVSet:
		err := s.Set(req.Key, req.Value)
		return common.NewSetResponse(err)
	case common.MsgTKVSetE:
		err := s.SetE(req.Key, req.Value, req.ExpireIn, req.DeleteIn)
		return common.NewSetEResponse(err)
	case common.MsgTKVSetEIfUnset:
		err := s.SetEIfUnset(req.Key, req.Value, req.ExpireIn, req.DeleteIn)
		return common.NewSetEIfUnsetResponse(err)
	case common.MsgTKVExpire:
		err := s.Expire(req.Key)
		return common.NewExpireResponse(err)
	case common.MsgTKVDelete:
		err := s.Delete(req.Key)
		return common.NewDeleteResponse(err)
	case common.MsgTKVGet:
		val, ok, err := s.Get(req.Key)
		return common.NewGetResponse(val, ok, err)
	case common.MsgTKVHas:
		ok, err := s.Has(req.Key)
		return common.NewHasResponse(ok, err)
	case common.MsgTKVSetSync:
		syncStore, ok := s.(iStore.ISyncStore)
		if !ok {
			return common.NewErrorResponse("RPC IStoreAdapter - shard does not support synchronous writes")
		}
		level := durability.LevelMajority
		if len(req.Meta) > 0 {
			level = durability.DurabilityLevel(req.Meta[0])
		}
		result, err := syncStore.SetSync(req.Key, req.Value, req.ExpireIn, req.DeleteIn, level, 0)
		return common.NewSetSyncResponse(uint8(result), err)
	case common.MsgTKVDeleteSync:
		syncStore, ok := s.(iStore.ISyncStore)
		if !ok {
			return common.NewErrorResponse("RPC IStoreAdapter - shard does not support synchronous writes")
		}
		level := durability.LevelMajority
		if len(req.Meta) > 0 {
			level = durability.DurabilityLevel(req.Meta[0])
		}
		result, err := syncStore.DeleteSync(req.Key, level, 0)
		return common.NewDeleteSyncResponse(uint8(result), err)
	default:
		return common.NewErrorResponse(
			fmt.Sprintf("RPC IStoreAdapter - Unsuported message type: %s", req.MsgType),
		)
	}
}

type MessageHandler func(req *common.Message) (resp *common.Message)

type RegisterMessageHandler func(handler MessageHandler)
