// Package hashtable adapts the existing db.KVDB interface into the
// durability.HashTableApplier the ADM's completed queue drains into,
// tracking the pending (prepared, not yet visible) value for each
// in-flight seqno so an abort can discard it without ever having touched
// the underlying engine's visible state.
package hashtable

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/dKV/lib/db"
	"github.com/ValentinKolb/dKV/lib/durability"
)

type pendingItem struct {
	key      string
	value    []byte
	expireIn uint64
	deleteIn uint64
	isDelete bool
}

// Table is the durability.HashTableApplier backing a synchronous store.
// It delegates actual storage to an existing db.KVDB (today, always a
// maple instance), adding only the prepared/committed staging the ADM
// requires.
type Table struct {
	db db.KVDB

	mu      sync.Mutex
	pending map[durability.Seqno]pendingItem
}

// NewTable wraps db for use as a synchronous-write hash table.
func NewTable(kvdb db.KVDB) *Table {
	return &Table{db: kvdb, pending: make(map[durability.Seqno]pendingItem)}
}

// SupportsFeature passes through to the underlying db.KVDB, so syncstore
// can reject unsupported operations the same way lstore does.
func (t *Table) SupportsFeature(feature db.Feature) bool {
	return t.db.SupportsFeature(feature)
}

// Get and Has pass through to the underlying db.KVDB for read operations,
// which never go through the ADM.
func (t *Table) Get(key string) ([]byte, bool) {
	return t.db.Get(key)
}

func (t *Table) Has(key string) bool {
	return t.db.Has(key)
}

func (t *Table) GetDBInfo() db.DatabaseInfo {
	return t.db.GetInfo()
}

// Stage records the value a prepare would write if committed, keyed by
// the seqno the oplog assigned it. Called by syncstore before handing the
// write to the ADM, so ApplyCommit has something to apply once the ADM
// resolves it.
func (t *Table) Stage(seqno durability.Seqno, key string, value []byte, expireIn, deleteIn uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[seqno] = pendingItem{key: key, value: value, expireIn: expireIn, deleteIn: deleteIn}
}

// StageDelete records a pending deletion keyed by the oplog seqno, so
// ApplyCommit removes the key instead of writing a value.
func (t *Table) StageDelete(seqno durability.Seqno, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[seqno] = pendingItem{key: key, isDelete: true}
}

// ApplyCommit implements durability.HashTableApplier: it makes the staged
// value for seqno visible in the underlying db.KVDB.
func (t *Table) ApplyCommit(key string, seqno durability.Seqno) error {
	t.mu.Lock()
	item, ok := t.pending[seqno]
	delete(t.pending, seqno)
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("hashtable: no staged value for seqno %d (key %s)", seqno, key)
	}

	if item.isDelete {
		t.db.Delete(item.key, uint64(seqno))
		return nil
	}

	t.db.SetE(item.key, item.value, uint64(seqno), item.expireIn, item.deleteIn)
	return nil
}

// ApplyAbort implements durability.HashTableApplier: it discards the
// staged value for seqno, which was never made visible, so there is
// nothing to revert in the underlying db.KVDB.
func (t *Table) ApplyAbort(key string, seqno durability.Seqno) error {
	t.mu.Lock()
	delete(t.pending, seqno)
	t.mu.Unlock()
	return nil
}
