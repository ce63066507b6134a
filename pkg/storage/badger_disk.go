// badger_disk.go backs StorageModeOnDiskTransactional with BadgerDB.
//
// Uses the same badger.Options tuning and single-byte key-prefix scheme
// as a typical BadgerDB-backed engine, adapted to this package's uint64
// Gid keys and PropertyValue's deterministic binary encoding
// (propertyvalue.go) rather than string ids and JSON records.
//
// Per §1's Non-goals, the on-disk mode only needs durable single-object
// storage for now; it deliberately does not implement the delta-chain
// MVCC operations mvcc.go provides, and returns
// NotYetImplemented for anything beyond single-object get/put.
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const (
	diskPrefixVertex = byte(0x01)
	diskPrefixEdge   = byte(0x02)
)

// BadgerEngine is the on-disk backing store opened when
// Config.StorageMode is OnDiskTransactional.
type BadgerEngine struct {
	db     *badger.DB
	closed bool
}

// OpenBadgerEngine opens (creating if absent) a BadgerDB instance rooted
// at dataDir, tuned down from BadgerDB's defaults for the memory budget
// an embedded graph store runs under.
func OpenBadgerEngine(dataDir string) (*BadgerEngine, error) {
	opts := badger.DefaultOptions(dataDir).
		WithLogger(nil).
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("storage: opening badger at %s: %w", dataDir, err)
	}
	return &BadgerEngine{db: db}, nil
}

func (b *BadgerEngine) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}

func vertexKey(gid Gid) []byte {
	key := make([]byte, 9)
	key[0] = diskPrefixVertex
	binary.BigEndian.PutUint64(key[1:], uint64(gid))
	return key
}

func edgeKey(gid Gid) []byte {
	key := make([]byte, 9)
	key[0] = diskPrefixEdge
	binary.BigEndian.PutUint64(key[1:], uint64(gid))
	return key
}

// PutVertexSnapshot persists the current live fields of v, encoded with
// the same PropertyValue.Encode used by the WAL and in-memory snapshot
// formats, so recovery can share a decoder across both.
func (b *BadgerEngine) PutVertexSnapshot(v *Vertex) error {
	payload, err := encodeVertexRecord(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(vertexKey(v.Gid), payload)
	})
}

// PutEdgeSnapshot mirrors PutVertexSnapshot for an Edge.
func (b *BadgerEngine) PutEdgeSnapshot(e *Edge) error {
	payload, err := encodeEdgeRecord(e)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(edgeKey(e.Gid), payload)
	})
}

// GetVertexRecord reads back a single vertex's last persisted snapshot.
// It does not reconstruct MVCC history; callers needing a historical
// view at a given start_ts must use the in-memory engine.
func (b *BadgerEngine) GetVertexRecord(gid Gid) (vertexRecord, bool, error) {
	var rec vertexRecord
	var found bool
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(vertexKey(gid))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			decoded, err := decodeVertexRecord(val)
			if err != nil {
				return err
			}
			rec = decoded
			return nil
		})
	})
	return rec, found, err
}

// BeginMVCCTransaction is not implemented on the disk backend; §1
// scopes transactional MVCC semantics to the in-memory engine only.
func (b *BadgerEngine) BeginMVCCTransaction() error {
	return NotYetImplemented{Operation: "on-disk MVCC transaction"}
}
