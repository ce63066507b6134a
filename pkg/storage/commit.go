package storage

import "fmt"

// commit.go implements the §4.2 commit and abort algorithms, plus the
// §4.3 constraint validation commit performs before publishing.

// Commit validates constraints, assigns a commit timestamp, stamps
// every delta this transaction installed, appends the WAL record, and
// publishes the transaction. On WAL failure it aborts instead, per §4.2.
func (a *Accessor) Commit(desiredCommitTs uint64) error {
	if a.done {
		return fmt.Errorf("storage: accessor already finalized")
	}
	defer func() { a.done = true; a.engine.txnMgr.finish(a.txn) }()

	touchedVertices := a.touchedVertices()
	for _, v := range touchedVertices {
		snap := reconstructVertex(v, a.txn.startTs, a.txn.txId, a.txn.CommandId(), ViewNew)
		if err := validateExistence(a.engine.constr, a.engine.mapper, v.Gid, snap); err != nil {
			a.Abort()
			return err
		}
		for label := range snap.labels {
			for _, c := range a.engine.constr.uniqueConstraintsFor(label) {
				reservation, reserved, err := a.engine.constr.checkAndReserveUnique(c, v.Gid, snap)
				if err != nil {
					a.Abort()
					return err
				}
				if reserved {
					a.txn.reservedUnique = append(a.txn.reservedUnique, reservation)
				}
			}
		}
	}

	commitTs := a.engine.txnMgr.commitTimestamp(a.txn, desiredCommitTs)

	if a.engine.wal != nil {
		records := a.buildWALRecords(commitTs)
		if err := a.engine.wal.AppendRecords(records); err != nil {
			a.Abort()
			return fmt.Errorf("storage: wal append failed, transaction aborted: %w", err)
		}
	}

	for _, rec := range a.txn.deltas {
		rec.delta.TimestampOrTxId = commitTs
	}
	a.txn.commitTs = commitTs
	a.txn.committed = true
	return nil
}

func (a *Accessor) touchedVertices() []*Vertex {
	seen := make(map[Gid]*Vertex)
	for _, rec := range a.txn.deltas {
		if rec.vertex != nil {
			seen[rec.vertex.Gid] = rec.vertex
		}
	}
	out := make([]*Vertex, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	return out
}

// Abort walks this transaction's deltas newest-to-oldest, applying the
// inverse of each to its owning object's live state and unlinking it
// from the object's chain, per §4.2. Also releases any unique-constraint
// value tuples this transaction reserved during a failed Commit, since
// this transaction will never publish the vertex that justified them.
func (a *Accessor) Abort() {
	if a.done {
		return
	}
	for i := len(a.txn.deltas) - 1; i >= 0; i-- {
		rec := a.txn.deltas[i]
		if rec.vertex != nil {
			v := rec.vertex
			v.mu.Lock()
			applyAbortToVertex(v, rec.delta)
			unlinkFromChain(&v.HeadDelta, rec.delta)
			v.mu.Unlock()
		} else {
			e := rec.edge
			e.mu.Lock()
			applyAbortToEdge(e, rec.delta)
			unlinkFromChain(&e.HeadDelta, rec.delta)
			e.mu.Unlock()
		}
	}
	a.engine.constr.releaseUniqueReservations(a.txn.reservedUnique)
	a.txn.reservedUnique = nil
	a.txn.aborted = true
	a.done = true
	a.engine.txnMgr.finish(a.txn)
}

func (a *Accessor) buildWALRecords(commitTs uint64) []WALLogicalRecord {
	out := make([]WALLogicalRecord, 0, len(a.txn.deltas))
	for _, rec := range a.txn.deltas {
		if logical, ok := logicalRecordFor(rec, commitTs); ok {
			out = append(out, logical)
		}
	}
	return out
}
