package common

import (
	"fmt"
	"github.com/lni/dragonboat/v4/config"
	"math"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// helper functions for to interface with Dragonboat (for the server util)
// --------------------------------------------------------------------------

// Dragonboat uses RTT (Round Trip Time) to determine the timing of elections and heartbeats.
// These default values are selected according to the RAFT Paper
const (
	electionRTTFactor  = 10
	heartbeatRTTFactor = 1
)

// ToDragonboatConfig converts the ServerConfig to Dragonboat Config
func (c *ServerConfig) ToDragonboatConfig(shardId uint64) config.Config {
	return config.Config{
		ReplicaID:          c.ReplicaID,
		ShardID:            shardId,
		ElectionRTT:        electionRTTFactor,  // = c.RTTMillisecond * 10
		HeartbeatRTT:       heartbeatRTTFactor, // = c.RTTMillisecond * 1
		CheckQuorum:        true,
		SnapshotEntries:    c.SnapshotEntries,
		CompactionOverhead: c.CompactionOverhead,
		MaxInMemLogSize:    0,
	}
}

// ToNodeHostConfig creates a NodeHostConfig for Dragonboat
func (c *ServerConfig) ToNodeHostConfig() config.NodeHostConfig {
	return config.NodeHostConfig{
		WALDir:         c.DataDir,
		NodeHostDir:    c.DataDir,
		RTTMillisecond: c.RTTMillisecond,
		RaftAddress:    c.ClusterMembers[c.ReplicaID],
	}
}

// --------------------------------------------------------------------------
// RPC server configuration struct
// --------------------------------------------------------------------------

type ServerShardType string

const (
	ShardTypeLocalIStore         ServerShardType = "local store"
	ShardTypeRemoteIStore                        = "remote store"
	ShardTypeLocalILockManager                   = "local lock manager"
	ShardTypeRemoteILockManager                  = "remote lock manager"
	ShardTypeLocalISyncStore                     = "local sync store"
	ShardTypeLocalISyncStoreReplica              = "local sync store replica"
)

type ServerShard struct {
	// ShardID is the ID of the shard
	ShardID uint64
	// Type is the kind of store or lock manager served for the shard
	Type ServerShardType
}

// SyncReplicaConfig is one passive replica a local sync store shard streams
// prepares to.
type SyncReplicaConfig struct {
	NodeID   string
	Endpoint string
}

// ServerConfig holds all configuration parameters for the RAFT cluster.
type ServerConfig struct {
	// Shards lists the shards served by this server and their types
	Shards []ServerShard

	// Dragenboat parameters
	RTTMillisecond     uint64
	SnapshotEntries    uint64
	CompactionOverhead uint64
	DataDir            string
	ReplicaID          uint64
	ClusterMembers     map[uint64]string

	// remote kvStore parameters
	TimeoutSecond int64

	// HTTP api settings
	Endpoint string
	// DebugEndpoint, if non-empty, serves pprof profiles and this server's
	// partition metrics (Prometheus exposition format at /metrics).
	DebugEndpoint string
	// TransportKind is the transport this server listens on ("tcp", "unix",
	// "http"); local sync store shards dial their replicas using the same
	// kind.
	TransportKind string

	// socket tuning (tcp transport only, ignored by unix/http)
	WriteBufferSize int
	ReadBufferSize  int
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int

	// NodeID is this node's id within a sync-store replication topology,
	// distinct from the numeric ReplicaID dragonboat uses.
	NodeID string

	// SyncReplicas are the passive replicas every local sync store shard on
	// this server replicates prepares to. Position 0 of the resulting chain
	// is always NodeID itself.
	SyncReplicas []SyncReplicaConfig
	// SyncActiveEndpoint is the active node's endpoint a local sync store
	// replica shard reports persisted acks back to. Empty disables
	// persisted-ack reporting; plain acks still ride the prepare's own
	// response and need no endpoint.
	SyncActiveEndpoint string
	// SyncTimeoutMillisecond bounds how long a synchronous write waits for
	// its durability level to be met before it is aborted.
	SyncTimeoutMillisecond int64

	// Logging configuration
	LogLevel string
}

// HasRemoteShard checks if the configuration contains any remote shards
func (c *ServerConfig) HasRemoteShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeRemoteIStore || shard.Type == ShardTypeRemoteILockManager {
			return true
		}
	}
	return false
}

// HasSyncShard checks if the configuration contains any local sync store
// shards, active or passive replica.
func (c *ServerConfig) HasSyncShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeLocalISyncStore || shard.Type == ShardTypeLocalISyncStoreReplica {
			return true
		}
	}
	return false
}

// HasActiveSyncShard checks if the configuration contains any active
// local sync store shards (the ones that drive SyncReplicas).
func (c *ServerConfig) HasActiveSyncShard() bool {
	for _, shard := range c.Shards {
		if shard.Type == ShardTypeLocalISyncStore {
			return true
		}
	}
	return false
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// RPC settings
	addSection("RPC Server")
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.DebugEndpoint != "" {
		addField("Debug Endpoint", c.DebugEndpoint)
	}

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	// Shards
	addSection("Shards")
	for _, shard := range c.Shards {
		addField(strconv.FormatUint(shard.ShardID, 10), string(shard.Type))
	}

	if c.HasSyncShard() {
		addSection("Sync Replication")
		addField("Node ID", c.NodeID)
		addField("Sync Timeout", fmt.Sprintf("%d ms", c.SyncTimeoutMillisecond))
		for _, r := range c.SyncReplicas {
			addField(r.NodeID, r.Endpoint)
		}
		if c.SyncActiveEndpoint != "" {
			addField("Active Node", c.SyncActiveEndpoint)
		}
	}

	if c.HasRemoteShard() {
		// Node Identity
		addSection("Node Identity")
		addField("RAFT Address", c.ClusterMembers[c.ReplicaID])
		addField("Node ID", strconv.FormatUint(c.ReplicaID, 10))

		// RAFT parameters
		addSection("RAFT Parameters")
		addField("Round Trip Time (ms)", fmt.Sprintf("%d ms", c.RTTMillisecond))
		addField("Election RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*electionRTTFactor))
		addField("Heartbeat RTT (ms)", fmt.Sprintf("%d", c.RTTMillisecond*heartbeatRTTFactor))
		addField("Check Quorum", fmt.Sprintf("%t", true))
		addField("Snapshot Entries", fmt.Sprintf("%d", c.SnapshotEntries))
		addField("Compaction Overhead", fmt.Sprintf("%d", c.CompactionOverhead))
		addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

		// Storage
		addSection("Storage")
		addField("Data Directory", c.DataDir)

		// ConfServerModeMultiNode configuration
		addSection("ConfServerModeMultiNode")
		sb.WriteString("  Initial ConfServerModeMultiNode Members:\n")

		// Sort keys for consistent output
		var keys []uint64
		for k := range c.ClusterMembers {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("    Node %d: %s\n", k, c.ClusterMembers[k]))
		}
	}
	return sb.String()
}

// --------------------------------------------------------------------------
// RPC client configuration struct
// --------------------------------------------------------------------------

type ClientConfig struct {
	Endpoints              []string
	TimeoutSecond          int
	RetryCount             int
	ConnectionsPerEndpoint int

	// socket tuning (tcp transport only, ignored by unix/http)
	WriteBufferSize int
	ReadBufferSize  int
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// General Client Settings
	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(int(math.Max(1, float64(c.ConnectionsPerEndpoint)))))

	// Endpoints
	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
