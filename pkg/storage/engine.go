package storage

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Engine is the process-wide storage instance: the object store, the
// transaction manager, the indices/constraints, the identifier mapper,
// and the durability components, all wired together and handed out
// explicitly to each Accessor rather than reached through package
// globals (§9 "Global state"), using the delta-chain/skip-list design
// §2-§5 require rather than a single global mutex over plain maps.
type Engine struct {
	config Config

	gids    *GidGenerator
	mapper  *NameMapper
	store   *objectStore
	txnMgr  *TxnManager
	indices *IndexManager
	constr  *ConstraintManager

	wal *WAL // nil when config.WalEnabled is false
	gc  *GC

	logger *log.Logger

	disk *BadgerEngine // non-nil only when config.StorageMode == OnDiskTransactional

	stopSnapshots chan struct{}
	wg            sync.WaitGroup
}

// Config mirrors the seven configuration keys in §6, loaded in practice
// via pkg/config but constructible directly for tests and embedders.
type Config struct {
	PropertiesOnEdges      bool
	StorageMode            StorageMode
	IsolationLevel         IsolationLevel
	SnapshotIntervalSec    uint64
	SnapshotRetentionCount uint64
	WalEnabled             bool
	GCIntervalSec          uint64
	DataDir                string
}

// DefaultConfig returns the configuration §6 implies as
// defaults: snapshot isolation, in-memory transactional mode, WAL on.
func DefaultConfig() Config {
	return Config{
		PropertiesOnEdges:      false,
		StorageMode:            InMemoryTransactional,
		IsolationLevel:         SnapshotIsolation,
		SnapshotIntervalSec:    300,
		SnapshotRetentionCount: 3,
		WalEnabled:             true,
		GCIntervalSec:          10,
		DataDir:                "./data",
	}
}

// NewEngine constructs an Engine ready to serve Accessors. It does not
// start the background snapshot/GC loops; call Run for that (cmd/emberdb
// wires Run into its serve command).
func NewEngine(cfg Config, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "emberdb: ", log.LstdFlags)
	}
	e := &Engine{
		config:        cfg,
		gids:          NewGidGenerator(),
		mapper:        NewNameMapper(),
		store:         newObjectStore(),
		txnMgr:        NewTxnManager(),
		indices:       NewIndexManager(),
		constr:        NewConstraintManager(),
		logger:        logger,
		stopSnapshots: make(chan struct{}),
	}
	e.gc = NewGC(e)

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: creating data dir: %w", err)
		}
	}

	switch cfg.StorageMode {
	case OnDiskTransactional:
		disk, err := OpenBadgerEngine(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		e.disk = disk
	case InMemoryTransactional, InMemoryAnalytical:
	}

	if cfg.WalEnabled {
		w, err := OpenWAL(cfg.DataDir, DefaultWALConfig())
		if err != nil {
			return nil, err
		}
		e.wal = w
	}

	if err := Recover(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Run starts the engine's background GC and periodic-snapshot loops.
// Call once after NewEngine; Close stops both.
func (e *Engine) Run() {
	e.gc.Run()
	e.runSnapshotLoop()
}

func (e *Engine) runSnapshotLoop() {
	interval := time.Duration(e.config.SnapshotIntervalSec) * time.Second
	if interval <= 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := WriteSnapshot(e, e.config.DataDir); err != nil {
					e.logger.Printf("snapshot failed: %v", err)
					continue
				}
				if err := PruneSnapshots(e.config.DataDir, int(e.config.SnapshotRetentionCount)); err != nil {
					e.logger.Printf("snapshot prune failed: %v", err)
				}
				if e.wal != nil {
					if err := e.wal.Prune(e.oldestRetainedSnapshotStartTs()); err != nil {
						e.logger.Printf("wal prune failed: %v", err)
					}
				}
			case <-e.stopSnapshots:
				return
			}
		}
	}()
}

func (e *Engine) oldestRetainedSnapshotStartTs() uint64 {
	snaps, err := ListSnapshots(e.config.DataDir)
	if err != nil || len(snaps) == 0 {
		return 0
	}
	retain := int(e.config.SnapshotRetentionCount)
	if retain <= 0 || retain > len(snaps) {
		retain = len(snaps)
	}
	oldestKept := snaps[len(snaps)-retain]
	startTs, err := snapshotStartTsFromName(oldestKept)
	if err != nil {
		return 0
	}
	return startTs
}

// snapshotStartTsFromName parses the start_ts encoded in a snapshot
// filename written by WriteSnapshot ("%020d.snapshot").
func snapshotStartTsFromName(path string) (uint64, error) {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strconv.ParseUint(base, 10, 64)
}

// Begin opens a new Accessor bound to a fresh transaction, per §4.1.
func (e *Engine) Begin() *Accessor {
	return &Accessor{engine: e, txn: e.txnMgr.Begin(e.config.IsolationLevel)}
}

// Close releases the engine's durability file handles. Uncommitted
// Accessors are the caller's responsibility to abort first.
func (e *Engine) Close() error {
	select {
	case <-e.stopSnapshots:
	default:
		close(e.stopSnapshots)
	}
	e.wg.Wait()
	e.gc.Stop()
	var firstErr error
	if e.wal != nil {
		if err := e.wal.Close(); err != nil {
			firstErr = err
		}
	}
	if e.disk != nil {
		if err := e.disk.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
