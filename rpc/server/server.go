package server

import (
	"fmt"
	vm "github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dKV/lib/db"
	"github.com/ValentinKolb/dKV/lib/db/engines/maple"
	"github.com/ValentinKolb/dKV/lib/durability"
	"github.com/ValentinKolb/dKV/lib/replication/metrics"
	"github.com/ValentinKolb/dKV/lib/replication/producer"
	"github.com/ValentinKolb/dKV/lib/store"
	"github.com/ValentinKolb/dKV/lib/store/dstore"
	"github.com/ValentinKolb/dKV/lib/store/lstore"
	"github.com/ValentinKolb/dKV/lib/store/syncstore"
	"github.com/ValentinKolb/dKV/rpc/common"
	"github.com/ValentinKolb/dKV/rpc/serializer"
	"github.com/ValentinKolb/dKV/rpc/transport"
	"github.com/ValentinKolb/dKV/rpc/transport/http"
	"github.com/ValentinKolb/dKV/rpc/transport/tcp"
	"github.com/ValentinKolb/dKV/rpc/transport/unix"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	netHttp "net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "net/http/pprof"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a struct that represents a shard in the RPC server
// It contains the shard ID, the store it encapsulates and the adapter
// that handles requests for the store
type serverShard struct {
	Store   store.IStore
	Adapter IRPCServerAdapter
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		http.NewHttpServerTransport(),
//		serializer.NewJSONSerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) rpcServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	// Create shards map
	shardMap := xsync.NewMapOf[uint64, serverShard]()

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	// Create the RPC server
	return rpcServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     shardMap,
	}
}

type rpcServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
}

func (s *rpcServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(shardId uint64, req []byte) []byte {
		var msg common.Message
		var respMsg common.Message

		// Get appropriate shard
		shard, ok := s.shards.Load(shardId)

		// Case shard does not exist -> error
		if !ok {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     "shard not found",
			}
		} else {
			// Decode the request
			err := s.serializer.Deserialize(req, &msg)

			if err != nil {
				respMsg = common.Message{
					MsgType: common.MsgTError,
					Err:     fmt.Sprintf("failed to deserialize request: %s", err),
				}
			} else {
				// Let the adapter handle the request
				respMsg = *shard.Adapter.Handle(&msg, shard.Store)
			}
		}

		// Return result
		val, err := s.serializer.Serialize(respMsg)
		if err != nil {
			respMsg = common.Message{
				MsgType: common.MsgTError,
				Err:     fmt.Sprintf("failed to serialize response: %s", err),
			}
		}
		return val
	})
}

// newSyncStoreShard builds a syncstore.Store for shardID, installing a
// single-chain topology of self + s.config.SyncReplicas and a StreamProducer
// per replica, each dialed with the same transport kind this server itself
// listens on.
func (s *rpcServer) newSyncStoreShard(shardID uint64, dbFactory store.DBFactory) (*syncstore.Store, IRPCServerAdapter, error) {
	if s.config.NodeID == "" {
		return nil, nil, fmt.Errorf("NodeID is required for sync store shards")
	}

	chain := make(durability.RawChain, 0, len(s.config.SyncReplicas)+1)
	selfID := s.config.NodeID
	chain = append(chain, &selfID)

	replicas := make([]syncstore.Replica, 0, len(s.config.SyncReplicas))
	for i := range s.config.SyncReplicas {
		r := s.config.SyncReplicas[i]
		chain = append(chain, &r.NodeID)

		clientTransport, err := newClientTransport(s.config.TransportKind)
		if err != nil {
			return nil, nil, err
		}
		if err := clientTransport.Connect(common.ClientConfig{
			Endpoints:     []string{r.Endpoint},
			TimeoutSecond: int(s.config.SyncTimeoutMillisecond / 1000),
			RetryCount:    3,
		}); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to sync replica %s: %w", r.NodeID, err)
		}

		replicas = append(replicas, syncstore.Replica{
			NodeID:   r.NodeID,
			Producer: producer.NewStreamProducer(r.NodeID, shardID, clientTransport, s.serializer),
		})
	}

	topology, err := durability.ParseTopology([]durability.RawChain{chain}, selfID)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid sync replication topology: %w", err)
	}

	syncStore := syncstore.NewSyncStore(syncstore.Options{
		SelfID:       selfID,
		Factory:      dbFactory,
		Topology:     topology,
		Replicas:     replicas,
		DefaultLevel: durability.LevelMajority,
		Timeout:      time.Duration(s.config.SyncTimeoutMillisecond) * time.Millisecond,
	})

	metrics.NewPartitionMetrics(fmt.Sprintf("%d", shardID), syncStore.Monitor())

	return syncStore, NewSyncStoreServerAdapter(syncStore.Monitor()), nil
}

// newSyncStoreReplicaShard builds the passive side of a sync store shard:
// no local store is exposed to clients, only a PassiveDurabilityMonitor
// mirroring the prepares streamed to it by the active node. If
// s.config.SyncActiveEndpoint is set, persisted-ack levels are reported
// back to the active node over a client transport dialed to it.
func (s *rpcServer) newSyncStoreReplicaShard(shardID uint64) (IRPCServerAdapter, error) {
	if s.config.NodeID == "" {
		return nil, fmt.Errorf("NodeID is required for sync store replica shards")
	}

	passive := durability.NewPassiveDurabilityMonitor()

	var reporter *producer.AckReporter
	if s.config.SyncActiveEndpoint != "" {
		clientTransport, err := newClientTransport(s.config.TransportKind)
		if err != nil {
			return nil, err
		}
		if err := clientTransport.Connect(common.ClientConfig{
			Endpoints:     []string{s.config.SyncActiveEndpoint},
			TimeoutSecond: int(s.config.SyncTimeoutMillisecond / 1000),
			RetryCount:    3,
		}); err != nil {
			return nil, fmt.Errorf("failed to connect to active node at %s: %w", s.config.SyncActiveEndpoint, err)
		}
		reporter = producer.NewAckReporter(s.config.NodeID, shardID, clientTransport, s.serializer)
	}

	return NewDurabilityServerAdapter(nil, passive, reporter), nil
}

// newClientTransport creates a fresh, unconnected client transport matching
// kind, mirroring cmd/util.GetTransport for the server's own replica dials.
func newClientTransport(kind string) (transport.IRPCClientTransport, error) {
	switch kind {
	case "http":
		return http.NewHttpClientTransport(), nil
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", kind)
	}
}

func (s *rpcServer) init() error {

	// Init logger
	common.InitLoggers(s.config)

	// Function to create a new database instance
	dbFactory := func() db.KVDB { return maple.NewMapleDB(nil) }

	// Create the Dragonboat NodeHost
	var nodeHost *dragonboat.NodeHost
	var err error
	if s.config.HasRemoteShard() {
		// Only create the NodeHost if we have remote shards
		nodeHost, err = dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
	}

	// Configure the timeout for the distributed store
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	// CREATE SHARDS

	/*
		Note: A single RPC Server can have any number of remote and or local shards.
		Each shard can be a store or a lock manager. The following loop creates all
		the shards and stores them for the RPC server.
	*/

	for _, shardConfig := range s.config.Shards {

		// Case local store
		if shardConfig.Type == common.ShardTypeLocalIStore {
			s.shards.Store(shardConfig.ShardID, serverShard{
				Store:   lstore.NewLocalStore(dbFactory),
				Adapter: NewIStoreServerAdapter(),
			})
			Logger.Infof("created local store for shard %d", shardConfig.ShardID)

			// Case local lock
		} else if shardConfig.Type == common.ShardTypeLocalILockManager {
			s.shards.Store(shardConfig.ShardID, serverShard{
				Store:   lstore.NewLocalStore(dbFactory),
				Adapter: NewLockManagerServerAdapter(),
			})
			Logger.Infof("created local lock manager for shard %d", shardConfig.ShardID)

			// Case local sync store
		} else if shardConfig.Type == common.ShardTypeLocalISyncStore {
			syncStore, adapter, err := s.newSyncStoreShard(shardConfig.ShardID, dbFactory)
			if err != nil {
				return fmt.Errorf("failed to create sync store for shard %d: %w", shardConfig.ShardID, err)
			}
			s.shards.Store(shardConfig.ShardID, serverShard{
				Store:   syncStore,
				Adapter: adapter,
			})
			Logger.Infof("created local sync store for shard %d", shardConfig.ShardID)

			// Case local sync store replica (passive mirror)
		} else if shardConfig.Type == common.ShardTypeLocalISyncStoreReplica {
			adapter, err := s.newSyncStoreReplicaShard(shardConfig.ShardID)
			if err != nil {
				return fmt.Errorf("failed to create sync store replica for shard %d: %w", shardConfig.ShardID, err)
			}
			s.shards.Store(shardConfig.ShardID, serverShard{
				Store:   nil,
				Adapter: adapter,
			})
			Logger.Infof("created local sync store replica for shard %d", shardConfig.ShardID)

			// Case remote store or remote lock
		} else {
			if nodeHost == nil {
				return fmt.Errorf("node host is nil, cannot create remote store")
			}

			// Start Raft for the shard
			if err := nodeHost.StartConcurrentReplica(s.config.ClusterMembers, false, dstore.CreateStateMaschineFactory(dbFactory), s.config.ToDragonboatConfig(shardConfig.ShardID)); err != nil {
				Logger.Errorf("failed to start shard %v: %v", shardConfig.ShardID, err)
			}

			// Choose the appropriate adapter based on the shard type
			var adapter IRPCServerAdapter
			if shardConfig.Type == common.ShardTypeRemoteILockManager { // Case remote lock manager
				adapter = NewLockManagerServerAdapter()
			} else if shardConfig.Type == common.ShardTypeRemoteIStore { // Case remote store
				adapter = NewIStoreServerAdapter()
			} else {
				return fmt.Errorf("invalid shard type: %s", shardConfig.Type)
			}

			s.shards.Store(shardConfig.ShardID, serverShard{
				Store:   dstore.NewDistributedStore(nodeHost, shardConfig.ShardID, timeout),
				Adapter: adapter,
			})
		}
	}

	Logger.Infof("dKV setup completed successfully")

	// Configure the transport layer
	s.registerTransportHandler()

	return nil
}

// Serve starts the RPC server
// This function will also initialize the server plus the shards and start the transport layer
func (s *rpcServer) Serve() error {
	err := s.init()
	if err != nil {
		return err
	}
	if s.config.DebugEndpoint != "" {
		go s.serveDebug()
	}
	return s.transport.Listen(s.config)
}

// serveDebug exposes pprof profiles (registered on the default mux by the
// blank net/http/pprof import) and this server's partition metrics on
// config.DebugEndpoint. It is best-effort: a failure here must not take
// down the RPC server.
func (s *rpcServer) serveDebug() {
	netHttp.HandleFunc("/metrics", func(w netHttp.ResponseWriter, _ *netHttp.Request) {
		vm.WritePrometheus(w, true)
	})
	Logger.Infof("Starting debug server (pprof + metrics) on %s", s.config.DebugEndpoint)
	if err := netHttp.ListenAndServe(s.config.DebugEndpoint, nil); err != nil {
		Logger.Warningf("debug server stopped: %v", err)
	}
}
