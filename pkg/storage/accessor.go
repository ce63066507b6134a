package storage

import "iter"

// Accessor is the per-transaction facade from §4.1. One Accessor per
// transaction; never shared across goroutines. Every mutation applies
// immediately against the live object and records an undo delta,
// matching §2's control-flow description.
type Accessor struct {
	engine *Engine
	txn    *Transaction
	done   bool // true once Commit or Abort has returned
}

// newDelta draws a Delta from the GC's epoch-reclamation pool instead of
// allocating a fresh one, so deltas a prior GC pass buried become
// available for reuse (gc.go).
func (a *Accessor) newDelta(kind DeltaKind) *Delta {
	d := a.engine.gc.newPooledDelta()
	d.Kind = kind
	d.TimestampOrTxId = a.txn.inProgressMarker()
	d.CommandId = a.txn.CommandId()
	return d
}

// CreateVertex allocates a Gid, inserts a tombstoned object, and
// immediately un-deletes it via the normal mutation path, per §4.1.
func (a *Accessor) CreateVertex() (*Vertex, error) {
	gid := a.engine.gids.Next()
	v := newVertex(gid)
	a.engine.store.insertVertex(v)

	d := a.newDelta(DeltaDeleteObject)
	v.mu.Lock()
	linkAtHead(&v.HeadDelta, d)
	v.Deleted = false
	v.mu.Unlock()

	a.txn.recordDelta(d, v, nil)
	a.txn.AdvanceCommand()
	return v, nil
}

// FindVertex returns the vertex for gid if it is visible under view,
// per §4.1.
func (a *Accessor) FindVertex(gid Gid, view View) (*Vertex, bool) {
	v, ok := a.engine.store.findVertex(gid)
	if !ok {
		return nil, false
	}
	snap := a.snapshotVertex(v, view)
	if !snap.exists {
		return nil, false
	}
	return v, true
}

func (a *Accessor) snapshotVertex(v *Vertex, view View) vertexSnapshot {
	return reconstructVertex(v, a.txn.startTs, a.txn.txId, a.txn.CommandId(), view)
}

func (a *Accessor) snapshotEdge(e *Edge, view View) edgeSnapshot {
	return reconstructEdge(e, a.txn.startTs, a.txn.txId, a.txn.CommandId(), view)
}

// VertexLabels returns the label set visible under view.
func (a *Accessor) VertexLabels(v *Vertex, view View) map[LabelId]struct{} {
	return a.snapshotVertex(v, view).labels
}

// VertexProperty returns one property's value visible under view.
func (a *Accessor) VertexProperty(v *Vertex, key PropertyId, view View) (PropertyValue, bool) {
	val, ok := a.snapshotVertex(v, view).properties[key]
	return val, ok
}

// VertexProperties returns every property visible under view.
func (a *Accessor) VertexProperties(v *Vertex, view View) map[PropertyId]PropertyValue {
	return a.snapshotVertex(v, view).properties
}

// Vertices returns every vertex visible under view, per the
// vertices(view) overload in §4.1. Grounded on §9's "cooperative
// iteration" note: a finite, single-pass, non-restartable native Go
// iterator.
func (a *Accessor) Vertices(view View) iter.Seq[*Vertex] {
	return func(yield func(*Vertex) bool) {
		a.engine.store.vertices.Range(nil, func(_ Gid, v *Vertex) bool {
			snap := a.snapshotVertex(v, view)
			if !snap.exists {
				return true
			}
			return yield(v)
		})
	}
}

// VerticesByLabel implements vertices(label, view).
func (a *Accessor) VerticesByLabel(label LabelId, view View) iter.Seq[*Vertex] {
	return a.engine.indices.VerticesByLabel(label, a.txn.startTs, a.txn.txId, a.txn.CommandId(), view)
}

// VerticesByLabelProperty implements vertices(label, property, value, view).
func (a *Accessor) VerticesByLabelProperty(label LabelId, prop PropertyId, value PropertyValue, view View) iter.Seq[*Vertex] {
	return a.engine.indices.VerticesByLabelProperty(label, prop, value, a.txn.startTs, a.txn.txId, a.txn.CommandId(), view)
}

// VerticesByLabelPropertyRange implements vertices(label, property, lower, upper, view).
func (a *Accessor) VerticesByLabelPropertyRange(label LabelId, prop PropertyId, lower, upper PropertyValue, hasLower, hasUpper bool, view View) iter.Seq[*Vertex] {
	return a.engine.indices.VerticesByLabelPropertyRange(label, prop, lower, upper, hasLower, hasUpper, a.txn.startTs, a.txn.txId, a.txn.CommandId(), view)
}

// checkVertexConflict (and checkEdgeConflict below, for edges)
// implements the §4.2 write-write conflict rule: fail with
// SerializationError, no waiting, first-committer-wins, if the object's
// head delta belongs to an overlapping writer. Two cases per §8's
// "overlapping lifetimes that both write to o" scenario: the head delta
// is still in-progress under a different transaction, or it already
// committed at a timestamp this transaction's snapshot predates (a
// concurrent writer won the race and published before this transaction
// got a chance to write).
func (a *Accessor) checkVertexConflict(v *Vertex) error {
	d := v.HeadDelta
	if d == nil {
		return nil
	}
	if d.IsInProgress() {
		if d.TxId() != a.txn.txId {
			return SerializationError{}
		}
		return nil
	}
	if d.CommitTs() > a.txn.startTs {
		return SerializationError{}
	}
	return nil
}

func (a *Accessor) checkEdgeConflict(e *Edge) error {
	d := e.HeadDelta
	if d == nil {
		return nil
	}
	if d.IsInProgress() {
		if d.TxId() != a.txn.txId {
			return SerializationError{}
		}
		return nil
	}
	if d.CommitTs() > a.txn.startTs {
		return SerializationError{}
	}
	return nil
}

// SetProperty writes a delta capturing the prior value, per §4.1.
func (a *Accessor) SetProperty(v *Vertex, key PropertyId, value PropertyValue) error {
	v.mu.Lock()
	if err := a.checkVertexConflict(v); err != nil {
		v.mu.Unlock()
		return err
	}
	prior, had := v.Properties[key]
	if !had {
		prior = NullValue()
	}
	d := a.newDelta(DeltaSetProperty)
	d.propKey = key
	d.propValue = prior
	if value.IsNull() {
		delete(v.Properties, key)
	} else {
		v.Properties[key] = value
	}
	linkAtHead(&v.HeadDelta, d)
	labels := cloneLabelSet(v.Labels)
	v.mu.Unlock()

	a.txn.recordDelta(d, v, nil)
	a.txn.AdvanceCommand()
	for label := range labels {
		a.engine.indices.onSetProperty(label, key, value, v)
	}
	return nil
}

// SetEdgeProperty mirrors SetProperty for an Edge object. Only valid
// when properties-on-edges is enabled (§3); callers must check ref.Edge
// != nil first.
func (a *Accessor) SetEdgeProperty(e *Edge, key PropertyId, value PropertyValue) error {
	e.mu.Lock()
	if err := a.checkEdgeConflict(e); err != nil {
		e.mu.Unlock()
		return err
	}
	prior, had := e.Properties[key]
	if !had {
		prior = NullValue()
	}
	d := a.newDelta(DeltaSetProperty)
	d.propKey = key
	d.propValue = prior
	if value.IsNull() {
		delete(e.Properties, key)
	} else {
		e.Properties[key] = value
	}
	linkAtHead(&e.HeadDelta, d)
	e.mu.Unlock()

	a.txn.recordDelta(d, nil, e)
	a.txn.AdvanceCommand()
	return nil
}

// AddLabel writes an undo-action delta that would remove label.
func (a *Accessor) AddLabel(v *Vertex, label LabelId) error {
	v.mu.Lock()
	if err := a.checkVertexConflict(v); err != nil {
		v.mu.Unlock()
		return err
	}
	d := a.newDelta(DeltaRemoveLabel)
	d.label = label
	v.Labels[label] = struct{}{}
	linkAtHead(&v.HeadDelta, d)
	v.mu.Unlock()

	a.txn.recordDelta(d, v, nil)
	a.txn.AdvanceCommand()
	a.engine.indices.onAddLabel(label, v)
	return nil
}

// RemoveLabel writes an undo-action delta that would re-add label.
func (a *Accessor) RemoveLabel(v *Vertex, label LabelId) error {
	v.mu.Lock()
	if err := a.checkVertexConflict(v); err != nil {
		v.mu.Unlock()
		return err
	}
	d := a.newDelta(DeltaAddLabel)
	d.label = label
	delete(v.Labels, label)
	linkAtHead(&v.HeadDelta, d)
	v.mu.Unlock()

	a.txn.recordDelta(d, v, nil)
	a.txn.AdvanceCommand()
	return nil
}

// DeleteVertex marks v deleted, failing if it still has adjacent edges
// and detach was not requested (use DetachDeleteVertex for that), per
// §4.1.
func (a *Accessor) DeleteVertex(v *Vertex) error {
	snap := a.snapshotVertex(v, ViewNew)
	if len(snap.inEdges) > 0 || len(snap.outEdges) > 0 {
		return IndexDefinitionError{Reason: "vertex has edges; use DetachDeleteVertex"}
	}
	return a.deleteVertexObject(v)
}

func (a *Accessor) deleteVertexObject(v *Vertex) error {
	v.mu.Lock()
	if err := a.checkVertexConflict(v); err != nil {
		v.mu.Unlock()
		return err
	}
	d := a.newDelta(DeltaRecreateObject)
	v.Deleted = true
	linkAtHead(&v.HeadDelta, d)
	v.mu.Unlock()

	a.txn.recordDelta(d, v, nil)
	a.txn.AdvanceCommand()
	return nil
}

// DetachDeleteVertex deletes v and every adjacent edge, returning the
// count of edges removed, per §4.1.
func (a *Accessor) DetachDeleteVertex(v *Vertex) (int, error) {
	snap := a.snapshotVertex(v, ViewNew)
	removed := 0
	for _, entry := range snap.outEdges {
		if err := a.removeAdjacencyPair(v, entry.other, entry.edgeType, entry.ref, true); err != nil {
			return removed, err
		}
		removed++
	}
	for _, entry := range snap.inEdges {
		if err := a.removeAdjacencyPair(entry.other, v, entry.edgeType, entry.ref, true); err != nil {
			return removed, err
		}
		removed++
	}
	if err := a.deleteVertexObject(v); err != nil {
		return removed, err
	}
	return removed, nil
}

// CreateEdge links from->to with the given type, allocating an Edge
// object only when properties-on-edges is enabled, per §3.
func (a *Accessor) CreateEdge(from, to *Vertex, edgeType EdgeTypeId) (EdgeRef, error) {
	gid := a.engine.gids.Next()
	var ref EdgeRef
	if a.engine.config.PropertiesOnEdges {
		e := newEdge(gid, from, to, edgeType)
		a.engine.store.insertEdge(e)
		d := a.newDelta(DeltaDeleteObject)
		e.mu.Lock()
		linkAtHead(&e.HeadDelta, d)
		e.Deleted = false
		e.mu.Unlock()
		a.txn.recordDelta(d, nil, e)
		ref = directRef(gid, e)
	} else {
		ref = gidRef(gid)
	}

	if err := a.addAdjacency(from, adjacencyEntry{edgeType: edgeType, other: to, ref: ref}, true); err != nil {
		return EdgeRef{}, err
	}
	if err := a.addAdjacency(to, adjacencyEntry{edgeType: edgeType, other: from, ref: ref}, false); err != nil {
		return EdgeRef{}, err
	}
	a.txn.AdvanceCommand()
	return ref, nil
}

func (a *Accessor) addAdjacency(v *Vertex, entry adjacencyEntry, out bool) error {
	v.mu.Lock()
	if err := a.checkVertexConflict(v); err != nil {
		v.mu.Unlock()
		return err
	}
	kind := DeltaAddInEdge
	if out {
		kind = DeltaAddOutEdge
	}
	d := a.newDelta(kind)
	d.edge = edgeDeltaPayload{edgeType: entry.edgeType, otherVertex: entry.other, edgeRef: entry.ref}
	if out {
		v.OutEdges = append(v.OutEdges, entry)
	} else {
		v.InEdges = append(v.InEdges, entry)
	}
	linkAtHead(&v.HeadDelta, d)
	v.mu.Unlock()
	a.txn.recordDelta(d, v, nil)
	return nil
}

func (a *Accessor) removeAdjacencyPair(from, to *Vertex, edgeType EdgeTypeId, ref EdgeRef, _ bool) error {
	if err := a.removeAdjacency(from, edgeDeltaPayload{edgeType: edgeType, otherVertex: to, edgeRef: ref}, true); err != nil {
		return err
	}
	return a.removeAdjacency(to, edgeDeltaPayload{edgeType: edgeType, otherVertex: from, edgeRef: ref}, false)
}

func (a *Accessor) removeAdjacency(v *Vertex, p edgeDeltaPayload, out bool) error {
	v.mu.Lock()
	if err := a.checkVertexConflict(v); err != nil {
		v.mu.Unlock()
		return err
	}
	kind := DeltaRemoveInEdge
	if out {
		kind = DeltaRemoveOutEdge
		v.OutEdges = removeAdjacency(v.OutEdges, p)
	} else {
		v.InEdges = removeAdjacency(v.InEdges, p)
	}
	d := a.newDelta(kind)
	d.edge = p
	linkAtHead(&v.HeadDelta, d)
	v.mu.Unlock()
	a.txn.recordDelta(d, v, nil)
	return nil
}

// DeleteEdge removes ref from both endpoints' adjacency lists and, if it
// carries its own object, marks that object deleted.
func (a *Accessor) DeleteEdge(from, to *Vertex, edgeType EdgeTypeId, ref EdgeRef) error {
	if err := a.removeAdjacencyPair(from, to, edgeType, ref, false); err != nil {
		return err
	}
	if ref.Edge != nil {
		ref.Edge.mu.Lock()
		if err := a.checkEdgeConflict(ref.Edge); err != nil {
			ref.Edge.mu.Unlock()
			return err
		}
		d := a.newDelta(DeltaRecreateObject)
		ref.Edge.Deleted = true
		linkAtHead(&ref.Edge.HeadDelta, d)
		ref.Edge.mu.Unlock()
		a.txn.recordDelta(d, nil, ref.Edge)
	}
	a.txn.AdvanceCommand()
	return nil
}

// ApproximateVertexCount reports an index-derived estimate, per §4.1.
func (a *Accessor) ApproximateVertexCount(label LabelId) int {
	return a.engine.indices.ApproximateVertexCount(label)
}
