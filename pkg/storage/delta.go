package storage

import "math"

// inProgressBit marks a delta's TimestampOrTxId as belonging to a live
// transaction rather than carrying a commit timestamp, per §3's HIGH_BIT
// convention. It is the sole source of truth for "is this committed?".
const inProgressBit uint64 = 1 << 63

// DeltaKind discriminates the undo-record variants from §3. Replacing
// Memgraph's class hierarchy of delta kinds (delta_container.hpp walks a
// polymorphic Delta*) with a tagged struct is the idiomatic Go rendition
// called out in §9.
type DeltaKind uint8

const (
	DeltaRecreateObject DeltaKind = iota
	DeltaDeleteObject
	DeltaSetProperty
	DeltaAddLabel
	DeltaRemoveLabel
	DeltaAddInEdge
	DeltaAddOutEdge
	DeltaRemoveInEdge
	DeltaRemoveOutEdge
)

// edgeDeltaPayload holds the (edge_type, other_vertex, edge_ref) tuple
// carried by the four adjacency delta kinds.
type edgeDeltaPayload struct {
	edgeType   EdgeTypeId
	otherVertex *Vertex
	edgeRef    EdgeRef
}

// Delta is the engine's core datum: an undo record describing how to
// recover the prior state of one object, threaded into that object's
// chain and into its owning transaction's local list.
type Delta struct {
	Kind DeltaKind

	// TimestampOrTxId is either commit_ts (once committed) or
	// txn_id|inProgressBit while the owning transaction is still live.
	TimestampOrTxId uint64

	// CommandId is the owning transaction's local command counter at
	// the moment this delta was created; used by the OLD-view command
	// boundary in the visibility algorithm (§4.1).
	CommandId uint64

	// next points toward the head of the chain (later in time); prev
	// points toward the tail (earlier), terminating at the owning
	// object via prevIsObject.
	next *Delta
	prev *Delta

	prevVertex   *Vertex
	prevEdge     *Edge
	prevIsObject bool

	// Payloads; only the field matching Kind is meaningful.
	propKey   PropertyId
	propValue PropertyValue // previous value, for SetProperty undo
	label     LabelId
	edge      edgeDeltaPayload
}

// IsInProgress reports whether this delta still carries a transaction id
// rather than a commit timestamp.
func (d *Delta) IsInProgress() bool {
	return d.TimestampOrTxId&inProgressBit != 0
}

// TxId extracts the transaction id from an in-progress marker. Callers
// must check IsInProgress first.
func (d *Delta) TxId() uint64 {
	return d.TimestampOrTxId &^ inProgressBit
}

// CommitTs extracts the commit timestamp from a committed marker.
// Callers must check !IsInProgress first.
func (d *Delta) CommitTs() uint64 {
	return d.TimestampOrTxId
}

func markInProgress(txId uint64) uint64 {
	if txId&inProgressBit != 0 {
		panic("storage: transaction id overflowed into HIGH_BIT")
	}
	return txId | inProgressBit
}

// maxCommitTs is the largest value a commit timestamp may take; kept
// distinct from math.MaxUint64 so HIGH_BIT is never ambiguous.
const maxCommitTs = uint64(math.MaxInt64)

// linkAtHead installs d as the new head of chain, which previously
// pointed at *head (possibly nil for a brand-new object). Must be called
// with the owning object's spinlock held; this is the sole CAS-like
// critical section described in §4.2 (Go's goroutine scheduler makes a
// plain mutex the idiomatic substitute for the source's lock-free CAS).
func linkAtHead(head **Delta, d *Delta) {
	d.next = nil
	d.prev = *head
	if *head != nil {
		(*head).next = d
	}
	*head = d
}

// unlinkFromChain removes d from the chain it lives in, relinking its
// neighbors. Used both by abort (§4.2 step 3) and by GC (§4.5). The
// owning object's spinlock must be held.
func unlinkFromChain(head **Delta, d *Delta) {
	if d.next != nil {
		d.next.prev = d.prev
	} else {
		*head = d.prev
	}
	if d.prev != nil {
		d.prev.next = d.next
	}
	d.next = nil
	d.prev = nil
}
