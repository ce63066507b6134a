package storage

import (
	"sync"
	"time"

	"github.com/emberdb/emberdb/pkg/pool"
)

// gc.go implements the epoch-based garbage collector from §4.5. It
// recycles freed Delta structs through pkg/pool's sync.Pool-based reuse,
// and runs its own background ticker on gc_interval_sec from §6 rather
// than piggybacking on any other loop.
//
// Epoch-based reclamation: a delta unlinked from its object's chain is
// not returned to the collector's deltaPool immediately. It is placed in the
// current epoch's graveyard; only once a further GC tick has elapsed
// (one full epoch, during which any reader that snapshotted the
// pointer before the unlink has had time to finish its walk) is the
// previous epoch's graveyard actually returned to the pool for reuse.
// This is what still matters in Go despite the runtime's own GC: a
// pooled struct can be handed back out and mutated by Get while a
// reader holds a stale pointer into it, which the epoch delay prevents.
type GC struct {
	engine *Engine

	deltaPool *pool.Pool[*Delta]
	graveyard *pool.Graveyard[*Delta]

	stop chan struct{}
	wg   sync.WaitGroup
}

func resetDelta(d *Delta) {
	*d = Delta{}
}

func NewGC(e *Engine) *GC {
	deltaPool := pool.New(func() *Delta { return &Delta{} }, resetDelta)
	return &GC{
		engine:    e,
		deltaPool: deltaPool,
		graveyard: pool.NewGraveyard(deltaPool),
		stop:      make(chan struct{}),
	}
}

// newPooledDelta is used by accessor.go's mutation paths instead of a
// bare &Delta{} literal, so freed deltas are actually reused once their
// graveyard epoch elapses.
func (g *GC) newPooledDelta() *Delta {
	return g.deltaPool.Get()
}

// Run starts the background GC loop at the configured interval. Safe to
// call once per Engine; call Stop to terminate it.
func (g *GC) Run() {
	interval := time.Duration(g.engine.config.GCIntervalSec) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Tick()
			case <-g.stop:
				return
			}
		}
	}()
}

func (g *GC) Stop() {
	select {
	case <-g.stop:
	default:
		close(g.stop)
	}
	g.wg.Wait()
}

// Tick runs one collection pass: computes the watermark, unlinks and
// graveyards every delta belonging to a committed transaction below the
// watermark, sweeps stale index entries, physically removes vertices
// and edges whose latest visible version is deleted, and ages the
// graveyard by one epoch.
func (g *GC) Tick() {
	watermark := g.engine.txnMgr.Watermark()

	// collectVertex/collectEdge only report whether the object is now
	// fully collapsed and deleted; the actual removal happens after the
	// Range walk returns, since Skiplist.Range holds its read lock for
	// the whole walk and Skiplist.Delete needs the write lock (the same
	// after-the-walk pattern gcSweepLabelIndex uses in index.go).
	staleVertices := make([]Gid, 0)
	g.engine.store.vertices.Range(nil, func(gid Gid, v *Vertex) bool {
		if g.collectVertex(v, watermark) {
			staleVertices = append(staleVertices, gid)
		}
		return true
	})
	for _, gid := range staleVertices {
		g.engine.store.removeVertex(gid)
	}

	staleEdges := make([]Gid, 0)
	g.engine.store.edges.Range(nil, func(gid Gid, e *Edge) bool {
		if g.collectEdge(e, watermark) {
			staleEdges = append(staleEdges, gid)
		}
		return true
	})
	for _, gid := range staleEdges {
		g.engine.store.removeEdge(gid)
	}

	g.engine.indices.gcSweepLabelIndex(watermark)
	g.ageEpoch()
}

// collectVertex unlinks every delta on v with a committed timestamp
// below watermark down to (but not including) the newest such delta,
// since only the newest committed delta's prior state is still needed
// to answer any read at or above the watermark. Reports whether v's
// chain has now fully collapsed while v is deleted, in which case the
// caller should physically remove it (§3 invariant 5).
func (g *GC) collectVertex(v *Vertex, watermark uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	d := v.HeadDelta
	var boundary *Delta
	for d != nil {
		prev := d.prev
		if !d.IsInProgress() && d.CommitTs() < watermark {
			if boundary == nil {
				boundary = d // newest committed delta below the watermark; kept for the moment
			} else {
				unlinkFromChain(&v.HeadDelta, d)
				g.graveyard.Bury(d)
			}
		}
		d = prev
	}

	// Every future reader's start_ts is >= watermark, so a committed
	// delta strictly below the watermark is never undone by anyone
	// (shouldUndo is false at the head's first committed delta). The
	// boundary delta only stays attached as a live object's history;
	// once the object itself is deleted there is no further state left
	// for it to anchor, so it can go too and the object reclaimed.
	if v.Deleted && boundary != nil && v.HeadDelta == boundary {
		unlinkFromChain(&v.HeadDelta, boundary)
		g.graveyard.Bury(boundary)
	}

	return v.Deleted && v.HeadDelta == nil
}

func (g *GC) collectEdge(e *Edge, watermark uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	d := e.HeadDelta
	var boundary *Delta
	for d != nil {
		prev := d.prev
		if !d.IsInProgress() && d.CommitTs() < watermark {
			if boundary == nil {
				boundary = d
			} else {
				unlinkFromChain(&e.HeadDelta, d)
				g.graveyard.Bury(d)
			}
		}
		d = prev
	}

	if e.Deleted && boundary != nil && e.HeadDelta == boundary {
		unlinkFromChain(&e.HeadDelta, boundary)
		g.graveyard.Bury(boundary)
	}

	return e.Deleted && e.HeadDelta == nil
}

// ageEpoch advances the graveyard by one epoch, freeing deltas buried
// during the prior tick back to deltaPool for reuse. Deltas buried
// during this tick remain held until the next call.
func (g *GC) ageEpoch() {
	g.graveyard.Advance()
}
