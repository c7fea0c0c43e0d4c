// Package syncstore implements store.ISyncStore by composing an
// underlying store.DBFactory-created db.KVDB (via lib/replication/hashtable)
// with a durability.ActiveDurabilityMonitor, a lib/replication/oplog.SeqnoLog
// for seqno assignment, and a lib/replication/notify.Notifier to wake
// callers blocked on a synchronous write. It is the one new store
// implementation alongside lstore/dstore, replicating prepares to a fixed
// set of passive replicas over lib/replication/producer before waiting on
// the ADM's decision.
package syncstore

import (
	"context"
	"time"

	"github.com/ValentinKolb/dKV/lib/db"
	"github.com/ValentinKolb/dKV/lib/durability"
	"github.com/ValentinKolb/dKV/lib/replication/clock"
	"github.com/ValentinKolb/dKV/lib/replication/hashtable"
	"github.com/ValentinKolb/dKV/lib/replication/notify"
	"github.com/ValentinKolb/dKV/lib/replication/oplog"
	"github.com/ValentinKolb/dKV/lib/replication/producer"
	"github.com/ValentinKolb/dKV/lib/store"
)

// Replica is one configured passive replica a syncstore replicates
// prepares to.
type Replica struct {
	NodeID   string
	Producer *producer.StreamProducer
}

// Options configures a new synchronous store.
type Options struct {
	SelfID       string
	Factory      store.DBFactory
	Topology     *durability.Topology
	Replicas     []Replica
	DefaultLevel durability.DurabilityLevel
	Timeout      time.Duration
}

// Store is the concrete synchronous store, exported so callers (the RPC
// server, metrics wiring) can reach Monitor() alongside the store.ISyncStore
// surface.
type Store struct {
	selfID       string
	table        *hashtable.Table
	monitor      *durability.ActiveDurabilityMonitor
	seqlog       *oplog.SeqnoLog
	notifier     *notify.Notifier
	replicas     []Replica
	defaultLevel durability.DurabilityLevel
	timeout      time.Duration
}

// NewSyncStore constructs a synchronous store and installs opts.Topology.
// Prepares are sent to opts.Replicas per write, by trackAndWait.
func NewSyncStore(opts Options) *Store {
	table := hashtable.NewTable(opts.Factory())
	notifier := notify.NewNotifier()
	monitor := durability.NewActiveDurabilityMonitor(opts.SelfID, clock.MonotonicClock{}, table, notifier)
	monitor.SetReplicationTopology(opts.Topology)

	return &Store{
		selfID:       opts.SelfID,
		table:        table,
		monitor:      monitor,
		seqlog:       oplog.NewSeqnoLog(0, 256),
		notifier:     notifier,
		replicas:     opts.Replicas,
		defaultLevel: opts.DefaultLevel,
		timeout:      opts.Timeout,
	}
}

// --------------------------------------------------------------------------
// store.ISyncStore
// --------------------------------------------------------------------------

func (s *Store) SetSync(key string, value []byte, expireIn, deleteIn uint64, level durability.DurabilityLevel, timeout time.Duration) (durability.Result, error) {
	if !s.table.SupportsFeature(db.FeatureSetE) {
		return durability.ResultAborted, store.NewError(store.RetCUnsupportedOperation, "SetSync operation is not supported")
	}

	seqno := s.seqlog.Assign(key, level)
	s.table.Stage(seqno, key, value, expireIn, deleteIn)

	return s.trackAndWait(key, value, seqno, level, timeout)
}

func (s *Store) DeleteSync(key string, level durability.DurabilityLevel, timeout time.Duration) (durability.Result, error) {
	if !s.table.SupportsFeature(db.FeatureDelete) {
		return durability.ResultAborted, store.NewError(store.RetCUnsupportedOperation, "DeleteSync operation is not supported")
	}

	seqno := s.seqlog.Assign(key, level)
	s.table.StageDelete(seqno, key)

	return s.trackAndWait(key, nil, seqno, level, timeout)
}

// trackAndWait registers cookie, admits the write into the monitor, fans
// the prepare out to every configured replica, then blocks for the
// result.
func (s *Store) trackAndWait(key string, value []byte, seqno durability.Seqno, level durability.DurabilityLevel, timeout time.Duration) (durability.Result, error) {
	if timeout == 0 {
		timeout = s.timeout
	}

	cookie := s.notifier.Register()
	if err := s.monitor.AddSyncWrite(cookie, true, key, seqno, level, timeout); err != nil {
		return durability.ResultAborted, err
	}

	for _, r := range s.replicas {
		go s.replicate(r, key, value, seqno, level)
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout+time.Second)
		defer cancel()
	}

	result, err := s.notifier.Wait(ctx, cookie)
	if err != nil {
		return result, err
	}
	return result, nil
}

// replicate streams one prepare to replica r and, if the replica
// acknowledged it, reports a plain ack back to the monitor. Persisted acks
// are not reported here; they arrive through NotifyReplicaAck.
func (s *Store) replicate(r Replica, key string, value []byte, seqno durability.Seqno, level durability.DurabilityLevel) {
	acked, err := r.Producer.SendPrepare(key, value, seqno, level)
	if err != nil {
		log.Errorf("syncstore: failed to stream prepare to %s: %v", r.NodeID, err)
		return
	}
	if acked {
		if err := s.monitor.SeqnoAckReceived(r.NodeID, seqno, false); err != nil {
			log.Errorf("syncstore: failed to apply plain ack from %s: %v", r.NodeID, err)
		}
	}
}

// NotifyReplicaAck applies an ack reported by a replica through the
// durability RPC adapter, for replicas whose persisted ack arrives later
// on a separate round trip than the prepare's own response.
func (s *Store) NotifyReplicaAck(nodeID string, seqno durability.Seqno, persisted bool) error {
	return s.monitor.SeqnoAckReceived(nodeID, seqno, persisted)
}

// NotifyLocalPersistence is called by the storage layer once seqno is
// flushed to disk on this (active) node.
func (s *Store) NotifyLocalPersistence(seqno durability.Seqno) {
	s.monitor.NotifyLocalPersistence(seqno)
}

// --------------------------------------------------------------------------
// store.IStore (writes block as sync writes at the default level)
// --------------------------------------------------------------------------

func (s *Store) Set(key string, value []byte) error {
	_, err := s.SetSync(key, value, 0, 0, s.defaultLevel, s.timeout)
	return err
}

func (s *Store) SetE(key string, value []byte, expireIn, deleteIn uint64) error {
	_, err := s.SetSync(key, value, expireIn, deleteIn, s.defaultLevel, s.timeout)
	return err
}

func (s *Store) SetEIfUnset(key string, value []byte, expireIn, deleteIn uint64) error {
	if has, _ := s.Has(key); has {
		return nil
	}
	return s.SetE(key, value, expireIn, deleteIn)
}

func (s *Store) Expire(key string) error {
	return store.NewError(store.RetCUnsupportedOperation, "Expire operation is not supported on a synchronous store")
}

func (s *Store) Delete(key string) error {
	_, err := s.DeleteSync(key, s.defaultLevel, s.timeout)
	return err
}

func (s *Store) Get(key string) ([]byte, bool, error) {
	value, ok := s.table.Get(key)
	return value, ok, nil
}

func (s *Store) Has(key string) (bool, error) {
	return s.table.Has(key), nil
}

func (s *Store) GetDBInfo() (db.DatabaseInfo, error) {
	return s.table.GetDBInfo(), nil
}

// --------------------------------------------------------------------------
// Introspection
// --------------------------------------------------------------------------

// Monitor returns the underlying ADM, for wiring into a durability RPC
// adapter or a metrics exporter.
func (s *Store) Monitor() *durability.ActiveDurabilityMonitor {
	return s.monitor
}
