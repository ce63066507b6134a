package storage

import (
	"sort"
	"sync"
)

// TxnManager owns the process-wide state §9 calls out explicitly: the
// timestamp generator, the transaction-id counter, and the active-set
// used both by the visibility algorithm's write-write check and by the
// garbage collector's watermark computation. One instance is shared by
// an engine and passed explicitly to every Accessor, never reached
// through a global.
type TxnManager struct {
	mu       sync.Mutex
	clock    uint64 // shared monotonic source for both start_ts and commit_ts
	nextTxId uint64
	active   map[uint64]*Transaction // keyed by start_ts
}

// NewTxnManager returns a manager whose clock starts at 1 (0 is reserved
// as "no timestamp").
func NewTxnManager() *TxnManager {
	return &TxnManager{clock: 1, nextTxId: 1, active: make(map[uint64]*Transaction)}
}

// Begin starts a new transaction with a freshly issued start_ts,
// registers it in the active set, and returns it. Corresponds to the
// "asks C5 for a new transaction with a start timestamp" step in §2.
func (m *TxnManager) Begin(isolation IsolationLevel) *Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	startTs := m.clock
	m.clock++
	txId := m.nextTxId
	m.nextTxId++
	t := &Transaction{
		txId:      txId,
		startTs:   startTs,
		isolation: isolation,
		mgr:       m,
	}
	m.active[startTs] = t
	return t
}

// commitTimestamp assigns a commit_ts strictly greater than start_ts, as
// required by §3. If desired is non-zero it is honored when it would
// still satisfy that invariant and does not collide with an already
// issued timestamp, mirroring the Accessor.commit(desired_commit_ts?)
// parameter in §4.1.
func (m *TxnManager) commitTimestamp(t *Transaction, desired uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts := m.clock
	m.clock++
	if desired > t.startTs && desired >= ts {
		ts = desired
		m.clock = ts + 1
	}
	return ts
}

// finish removes a transaction from the active set once it has either
// committed or aborted, making its start_ts eligible to raise the GC
// watermark.
func (m *TxnManager) finish(t *Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, t.startTs)
}

// Watermark computes min(start_ts of active transactions, next_commit_ts)
// per §4.5. With no active transactions, the watermark is simply the
// next timestamp that will be issued.
func (m *TxnManager) Watermark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	wm := m.clock
	for ts := range m.active {
		if ts < wm {
			wm = ts
		}
	}
	return wm
}

// ActiveStartTimestamps returns a sorted snapshot of every active
// transaction's start_ts, used by tests and diagnostics.
func (m *TxnManager) ActiveStartTimestamps() []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, 0, len(m.active))
	for ts := range m.active {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// deltaRecord pairs an installed delta with the live object it mutates,
// so abort and commit can revisit exactly the objects this transaction
// touched without re-deriving them from the delta's payload.
type deltaRecord struct {
	delta  *Delta
	vertex *Vertex // nil if edge
	edge   *Edge   // nil if vertex
}

// Transaction tracks one in-flight unit of work: its timestamps, its
// local command counter, and the ordered list of deltas it has
// installed, per §3's Transaction lifecycle.
type Transaction struct {
	txId      uint64
	startTs   uint64
	commitTs  uint64
	commandId uint64
	isolation IsolationLevel
	mgr       *TxnManager

	deltas    []deltaRecord
	committed bool
	aborted   bool

	reservedUnique []uniqueReservation

	metadata map[string]string
}

// StartTs returns the transaction's start timestamp.
func (t *Transaction) StartTs() uint64 { return t.startTs }

// TxId returns the transaction's id, used to tag in-progress deltas.
func (t *Transaction) TxId() uint64 { return t.txId }

// CommandId returns the transaction's current command counter, the
// boundary used by OLD-view reads of this transaction's own writes.
func (t *Transaction) CommandId() uint64 { return t.commandId }

// AdvanceCommand bumps the command counter, the Go analogue of Bolt's
// implicit per-statement command boundary within one transaction.
func (t *Transaction) AdvanceCommand() { t.commandId++ }

func (t *Transaction) inProgressMarker() uint64 { return markInProgress(t.txId) }

func (t *Transaction) recordDelta(d *Delta, v *Vertex, e *Edge) {
	t.deltas = append(t.deltas, deltaRecord{delta: d, vertex: v, edge: e})
}

// SetMetadata stores a small free-form key/value pair alongside the
// transaction.
func (t *Transaction) SetMetadata(key, value string) {
	if t.metadata == nil {
		t.metadata = make(map[string]string)
	}
	t.metadata[key] = value
}

func (t *Transaction) GetMetadata(key string) (string, bool) {
	v, ok := t.metadata[key]
	return v, ok
}
