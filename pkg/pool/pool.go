// Package pool provides generic object pooling used by the storage
// engine's garbage collector to recycle freed delta allocations across
// GC epochs.
//
// Epoch-based reclamation (storage's gc.go) unlinks deltas from an
// object's chain well before it is safe to let any new allocation reuse
// that memory: a reader that snapshotted the chain before the unlink
// may still be mid-walk. The garbage collector therefore holds unlinked
// deltas in a per-epoch graveyard and only calls Pool.Put once a full
// further epoch has elapsed. This package supplies the sync.Pool
// wrapper that reuse is built on; it has no opinion on epochs itself.
//
// Follows the typed sync.Pool-wrapper pattern
// common for query-result row/node/buffer pooling, generalized with Go
// generics so one implementation serves any poolable type instead of one
// function pair per concrete type.
package pool

import "sync"

// Config controls pooling behavior across every Pool created with New.
type Config struct {
	// Enabled controls whether pooling is active. When false, Get
	// always allocates fresh and Put is a no-op.
	Enabled bool

	// MaxRetained is stored by Configure but not consulted by Pool:
	// Put returns every value to the pool regardless of its size.
	MaxRetained int
}

var globalConfig = Config{Enabled: true, MaxRetained: 4096}

// Configure sets the package-wide pooling configuration. Should be
// called early during engine initialization, before any Pool is used.
func Configure(cfg Config) { globalConfig = cfg }

func IsEnabled() bool { return globalConfig.Enabled }

// Pool is a typed wrapper over sync.Pool. newFn constructs a fresh T
// when the pool is empty or pooling is disabled; resetFn clears a
// returned T's contents before it re-enters the pool so a later Get
// never observes a stale value.
type Pool[T any] struct {
	sp      sync.Pool
	resetFn func(T)
}

// New returns a Pool of T using newFn to construct fresh values and
// resetFn to clear a value before it is pooled.
func New[T any](newFn func() T, resetFn func(T)) *Pool[T] {
	return &Pool[T]{
		sp:      sync.Pool{New: func() any { return newFn() }},
		resetFn: resetFn,
	}
}

// Get returns a pooled value, or a freshly constructed one if the pool
// is empty or pooling is disabled.
func (p *Pool[T]) Get() T {
	if !globalConfig.Enabled {
		return p.sp.New().(T)
	}
	return p.sp.Get().(T)
}

// Put returns v to the pool after resetting it. No-op when pooling is
// disabled.
func (p *Pool[T]) Put(v T) {
	if !globalConfig.Enabled {
		return
	}
	if p.resetFn != nil {
		p.resetFn(v)
	}
	p.sp.Put(v)
}

// Graveyard is a two-generation holding area for values that must not
// be reused until a full additional epoch has elapsed, matching §4.5's
// "deltas are first moved to a per-epoch graveyard and freed one epoch
// later" rule. It is the piece that makes Pool safe to use for
// concurrently-read objects instead of only allocation-hot, never-shared
// scratch buffers.
type Graveyard[T any] struct {
	mu      sync.Mutex
	gen     [2][]T
	current int
	backing *Pool[T]
}

// NewGraveyard wraps backing with epoch-delayed returns.
func NewGraveyard[T any](backing *Pool[T]) *Graveyard[T] {
	return &Graveyard[T]{backing: backing}
}

// Bury adds v to the current epoch's graveyard. It will not be eligible
// for reuse until Advance has been called at least once more.
func (g *Graveyard[T]) Bury(v T) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen[g.current] = append(g.gen[g.current], v)
}

// Advance frees the older generation back to the backing pool and
// rotates the current generation, implementing the one-epoch delay.
func (g *Graveyard[T]) Advance() {
	g.mu.Lock()
	older := g.current ^ 1
	toFree := g.gen[older]
	g.gen[older] = nil
	g.current = older
	g.mu.Unlock()

	for _, v := range toFree {
		g.backing.Put(v)
	}
}
