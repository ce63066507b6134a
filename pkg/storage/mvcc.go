package storage

// mvcc.go implements the visibility algorithm and the abort/commit
// delta-application rules from §4.1-§4.2: every mutation applies
// immediately and records an undo delta, rather than buffering
// operations for replay at commit time.
//
// Implementation note (deviates from the lock-free description in §5):
// Go's garbage collector already keeps any delta a reader holds a
// pointer to alive, so the memory-safety half of epoch reclamation is
// free. What epoch reclamation still buys here is safe *reuse* of freed
// Delta structs via pkg/pool's graveyard (gc.go) — reusing a struct a
// concurrent reader might still be dereferencing would corrupt that
// reader's walk even though the Go runtime would never free it
// outright. Readers therefore snapshot an object's live fields and
// HeadDelta pointer under its mutex rather than racing a lock-free CAS;
// the critical section stays O(1), just covering a struct copy instead
// of a single pointer swap.

// shouldUndo decides, for one delta on the walk from head toward tail,
// whether it postdates what the reader is entitled to see and must
// therefore be undone to step the reconstruction one mutation further
// into the past. Resolves Open Question (ii) (§9): within the
// reader's own transaction, OLD view treats the current command as the
// visibility boundary — deltas from the present command or later are
// undone, deltas from strictly earlier commands remain visible.
func shouldUndo(d *Delta, startTs uint64, txId uint64, cmd uint64, view View) bool {
	if d.IsInProgress() {
		if d.TxId() != txId {
			return true // another transaction's uncommitted write is never visible
		}
		if view == ViewNew {
			return false
		}
		return d.CommandId >= cmd
	}
	return d.CommitTs() > startTs
}

// vertexSnapshot is the materialized state of a Vertex as seen by one
// reader at one point in time; it never aliases the live object's maps.
type vertexSnapshot struct {
	exists     bool
	labels     map[LabelId]struct{}
	properties map[PropertyId]PropertyValue
	inEdges    []adjacencyEntry
	outEdges   []adjacencyEntry
}

// reconstructVertex implements the §4.1 visibility algorithm for a
// single vertex.
func reconstructVertex(v *Vertex, startTs, txId, cmd uint64, view View) vertexSnapshot {
	v.mu.Lock()
	snap := vertexSnapshot{
		exists:     !v.Deleted,
		labels:     cloneLabelSet(v.Labels),
		properties: clonePropertySet(v.Properties),
		inEdges:    append([]adjacencyEntry(nil), v.InEdges...),
		outEdges:   append([]adjacencyEntry(nil), v.OutEdges...),
	}
	head := v.HeadDelta
	v.mu.Unlock()

	for d := head; d != nil; d = d.prev {
		if !shouldUndo(d, startTs, txId, cmd, view) {
			break
		}
		if undoFixesExistence(d) {
			applyVertexUndo(&snap, d)
			break
		}
		applyVertexUndo(&snap, d)
	}
	return snap
}

func undoFixesExistence(d *Delta) bool {
	return d.Kind == DeltaRecreateObject || d.Kind == DeltaDeleteObject
}

// applyVertexUndo mutates snap in place to reverse one delta's effect,
// per the variant descriptions in §3.
func applyVertexUndo(snap *vertexSnapshot, d *Delta) {
	switch d.Kind {
	case DeltaRecreateObject:
		snap.exists = true
	case DeltaDeleteObject:
		snap.exists = false
	case DeltaSetProperty:
		if d.propValue.IsNull() {
			delete(snap.properties, d.propKey)
		} else {
			snap.properties[d.propKey] = d.propValue
		}
	case DeltaAddLabel:
		snap.labels[d.label] = struct{}{}
	case DeltaRemoveLabel:
		delete(snap.labels, d.label)
	case DeltaAddOutEdge:
		snap.outEdges = removeAdjacency(snap.outEdges, d.edge)
	case DeltaRemoveOutEdge:
		snap.outEdges = append(snap.outEdges, adjacencyEntry{edgeType: d.edge.edgeType, other: d.edge.otherVertex, ref: d.edge.edgeRef})
	case DeltaAddInEdge:
		snap.inEdges = removeAdjacency(snap.inEdges, d.edge)
	case DeltaRemoveInEdge:
		snap.inEdges = append(snap.inEdges, adjacencyEntry{edgeType: d.edge.edgeType, other: d.edge.otherVertex, ref: d.edge.edgeRef})
	}
}

func removeAdjacency(list []adjacencyEntry, p edgeDeltaPayload) []adjacencyEntry {
	for i, e := range list {
		if e.edgeType == p.edgeType && e.other == p.otherVertex && e.ref.Gid == p.edgeRef.Gid {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func cloneLabelSet(m map[LabelId]struct{}) map[LabelId]struct{} {
	out := make(map[LabelId]struct{}, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

func clonePropertySet(m map[PropertyId]PropertyValue) map[PropertyId]PropertyValue {
	out := make(map[PropertyId]PropertyValue, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// edgeSnapshot mirrors vertexSnapshot for Edge objects (only meaningful
// when properties-on-edges is enabled).
type edgeSnapshot struct {
	exists     bool
	properties map[PropertyId]PropertyValue
}

func reconstructEdge(e *Edge, startTs, txId, cmd uint64, view View) edgeSnapshot {
	e.mu.Lock()
	snap := edgeSnapshot{exists: !e.Deleted, properties: clonePropertySet(e.Properties)}
	head := e.HeadDelta
	e.mu.Unlock()

	for d := head; d != nil; d = d.prev {
		if !shouldUndo(d, startTs, txId, cmd, view) {
			break
		}
		switch d.Kind {
		case DeltaRecreateObject:
			snap.exists = true
		case DeltaDeleteObject:
			snap.exists = false
		case DeltaSetProperty:
			if d.propValue.IsNull() {
				delete(snap.properties, d.propKey)
			} else {
				snap.properties[d.propKey] = d.propValue
			}
		}
		if undoFixesExistence(d) {
			break
		}
	}
	return snap
}

// applyAbortToVertex reverses d's effect directly on the live object,
// per the §4.2 abort algorithm. Caller must hold v.mu.
func applyAbortToVertex(v *Vertex, d *Delta) {
	switch d.Kind {
	case DeltaRecreateObject:
		v.Deleted = false
	case DeltaDeleteObject:
		v.Deleted = true
	case DeltaSetProperty:
		if d.propValue.IsNull() {
			delete(v.Properties, d.propKey)
		} else {
			v.Properties[d.propKey] = d.propValue
		}
	case DeltaAddLabel:
		v.Labels[d.label] = struct{}{}
	case DeltaRemoveLabel:
		delete(v.Labels, d.label)
	case DeltaAddOutEdge:
		v.OutEdges = removeAdjacency(v.OutEdges, d.edge)
	case DeltaRemoveOutEdge:
		v.OutEdges = append(v.OutEdges, adjacencyEntry{edgeType: d.edge.edgeType, other: d.edge.otherVertex, ref: d.edge.edgeRef})
	case DeltaAddInEdge:
		v.InEdges = removeAdjacency(v.InEdges, d.edge)
	case DeltaRemoveInEdge:
		v.InEdges = append(v.InEdges, adjacencyEntry{edgeType: d.edge.edgeType, other: d.edge.otherVertex, ref: d.edge.edgeRef})
	}
}

// applyAbortToEdge mirrors applyAbortToVertex for Edge objects. Caller
// must hold e.mu.
func applyAbortToEdge(e *Edge, d *Delta) {
	switch d.Kind {
	case DeltaRecreateObject:
		e.Deleted = false
	case DeltaDeleteObject:
		e.Deleted = true
	case DeltaSetProperty:
		if d.propValue.IsNull() {
			delete(e.Properties, d.propKey)
		} else {
			e.Properties[d.propKey] = d.propValue
		}
	}
}
