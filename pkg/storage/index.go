package storage

import (
	"iter"
	"sync"
)

// index.go implements the label and label+property secondary indices
// from §4.3, with both maps of index definitions guarded by one
// sync.RWMutex — adapted from Neo4j-style eager, exact-membership
// indices into a transactional, lazily-cleaned design: entries
// are inserted speculatively as soon as a label or indexed property is
// written (even by an uncommitted transaction). Label-index entries are
// only ever removed by the garbage collector once it has confirmed,
// under the current watermark, that the vertex is no longer reachable
// under that label; label+property entries are never removed. Iteration
// therefore always re-checks MVCC visibility of the underlying vertex
// rather than trusting index membership alone.

type labelPropKey struct {
	value PropertyValue
	gid   Gid
}

func cmpLabelPropKey(a, b labelPropKey) int {
	if c := a.value.Compare(b.value); c != 0 {
		return c
	}
	return cmpGid(a.gid, b.gid)
}

// IndexManager owns every label index and label+property index defined
// on the store.
type IndexManager struct {
	mu            sync.RWMutex
	labelIndex    map[LabelId]*Skiplist[Gid, *Vertex]
	propertyIndex map[LabelId]map[PropertyId]*Skiplist[labelPropKey, *Vertex]
}

func NewIndexManager() *IndexManager {
	return &IndexManager{
		labelIndex:    make(map[LabelId]*Skiplist[Gid, *Vertex]),
		propertyIndex: make(map[LabelId]map[PropertyId]*Skiplist[labelPropKey, *Vertex]),
	}
}

// CreateLabelIndex registers a label index, failing with
// IndexDefinitionError if one already exists for label.
func (m *IndexManager) CreateLabelIndex(label LabelId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.labelIndex[label]; ok {
		return IndexDefinitionError{Reason: "label index already exists"}
	}
	m.labelIndex[label] = NewSkiplist[Gid, *Vertex](cmpGid)
	return nil
}

// DropLabelIndex removes a label index, failing if it does not exist.
func (m *IndexManager) DropLabelIndex(label LabelId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.labelIndex[label]; !ok {
		return IndexDefinitionError{Reason: "label index does not exist"}
	}
	delete(m.labelIndex, label)
	return nil
}

// CreateLabelPropertyIndex registers a label+property index.
func (m *IndexManager) CreateLabelPropertyIndex(label LabelId, prop PropertyId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byProp, ok := m.propertyIndex[label]
	if !ok {
		byProp = make(map[PropertyId]*Skiplist[labelPropKey, *Vertex])
		m.propertyIndex[label] = byProp
	}
	if _, ok := byProp[prop]; ok {
		return IndexDefinitionError{Reason: "label+property index already exists"}
	}
	byProp[prop] = NewSkiplist[labelPropKey, *Vertex](cmpLabelPropKey)
	return nil
}

// DropLabelPropertyIndex removes a label+property index.
func (m *IndexManager) DropLabelPropertyIndex(label LabelId, prop PropertyId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byProp, ok := m.propertyIndex[label]
	if !ok {
		return IndexDefinitionError{Reason: "label+property index does not exist"}
	}
	if _, ok := byProp[prop]; !ok {
		return IndexDefinitionError{Reason: "label+property index does not exist"}
	}
	delete(byProp, prop)
	return nil
}

// onAddLabel records a speculative (label, vertex) entry, per §4.3.
func (m *IndexManager) onAddLabel(label LabelId, v *Vertex) {
	m.mu.RLock()
	idx, ok := m.labelIndex[label]
	m.mu.RUnlock()
	if ok {
		idx.Insert(v.Gid, v)
	}
}

// onSetProperty records a speculative (label, property, value, gid)
// entry for every label+property index defined on label, if v's current
// live property value is indexable (not null, not NaN per §4.3).
func (m *IndexManager) onSetProperty(label LabelId, prop PropertyId, value PropertyValue, v *Vertex) {
	if value.IsNull() || value.IsNaN() {
		return
	}
	m.mu.RLock()
	byProp, ok := m.propertyIndex[label]
	var idx *Skiplist[labelPropKey, *Vertex]
	if ok {
		idx, ok = byProp[prop]
	}
	m.mu.RUnlock()
	if !ok {
		return
	}
	idx.Insert(labelPropKey{value: value, gid: v.Gid}, v)
}

// VerticesByLabel returns a lazy, single-pass sequence of vertices that
// are visible under view at the reader's timestamps and currently carry
// label, per the §4.1 vertices(label, view) contract. Grounded on §9's
// instruction to express this with Go's native iterator abstraction.
func (m *IndexManager) VerticesByLabel(label LabelId, startTs, txId, cmd uint64, view View) iter.Seq[*Vertex] {
	m.mu.RLock()
	idx, ok := m.labelIndex[label]
	m.mu.RUnlock()
	if !ok {
		return func(func(*Vertex) bool) {}
	}
	return func(yield func(*Vertex) bool) {
		idx.Range(nil, func(_ Gid, v *Vertex) bool {
			snap := reconstructVertex(v, startTs, txId, cmd, view)
			if !snap.exists {
				return true
			}
			if _, has := snap.labels[label]; !has {
				return true
			}
			return yield(v)
		})
	}
}

// VerticesByLabelProperty returns vertices visible to the reader that
// carry label and whose current value at prop equals value exactly.
func (m *IndexManager) VerticesByLabelProperty(label LabelId, prop PropertyId, value PropertyValue, startTs, txId, cmd uint64, view View) iter.Seq[*Vertex] {
	m.mu.RLock()
	byProp, ok := m.propertyIndex[label]
	var idx *Skiplist[labelPropKey, *Vertex]
	if ok {
		idx, ok = byProp[prop]
	}
	m.mu.RUnlock()
	if !ok {
		return func(func(*Vertex) bool) {}
	}
	lower := labelPropKey{value: value, gid: 0}
	return func(yield func(*Vertex) bool) {
		idx.Range(&lower, func(k labelPropKey, v *Vertex) bool {
			if k.value.Compare(value) != 0 {
				return false // past the equal-value run; stop (ascending order)
			}
			snap := reconstructVertex(v, startTs, txId, cmd, view)
			if !snap.exists {
				return true
			}
			if _, has := snap.labels[label]; !has {
				return true
			}
			if cur, ok := snap.properties[prop]; !ok || !cur.Equal(value) {
				return true
			}
			return yield(v)
		})
	}
}

// VerticesByLabelPropertyRange returns vertices visible to the reader
// with label and a value at prop within [lower, upper) per §4.3's range
// scan access mode. hasLower and hasUpper select whether each bound
// applies; a side whose flag is false is unbounded.
func (m *IndexManager) VerticesByLabelPropertyRange(label LabelId, prop PropertyId, lower, upper PropertyValue, hasLower, hasUpper bool, startTs, txId, cmd uint64, view View) iter.Seq[*Vertex] {
	m.mu.RLock()
	byProp, ok := m.propertyIndex[label]
	var idx *Skiplist[labelPropKey, *Vertex]
	if ok {
		idx, ok = byProp[prop]
	}
	m.mu.RUnlock()
	if !ok {
		return func(func(*Vertex) bool) {}
	}
	var rangeLower *labelPropKey
	if hasLower {
		k := labelPropKey{value: lower, gid: 0}
		rangeLower = &k
	}
	return func(yield func(*Vertex) bool) {
		idx.Range(rangeLower, func(k labelPropKey, v *Vertex) bool {
			if hasUpper && k.value.Compare(upper) >= 0 {
				return false
			}
			snap := reconstructVertex(v, startTs, txId, cmd, view)
			if !snap.exists {
				return true
			}
			if _, has := snap.labels[label]; !has {
				return true
			}
			if cur, ok := snap.properties[prop]; !ok || !cur.Equal(k.value) {
				return true // stale entry: the visible value is not this key's
			}
			return yield(v)
		})
	}
}

// ApproximateVertexCount reports a label index's element count without
// any visibility filtering, per §4.1's "no exact count" contract.
func (m *IndexManager) ApproximateVertexCount(label LabelId) int {
	m.mu.RLock()
	idx, ok := m.labelIndex[label]
	m.mu.RUnlock()
	if !ok {
		return 0
	}
	return idx.Len()
}

// DefinedLabelIndices lists every label currently indexed, used by the
// snapshot writer's indices-metadata section.
func (m *IndexManager) DefinedLabelIndices() []LabelId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LabelId, 0, len(m.labelIndex))
	for label := range m.labelIndex {
		out = append(out, label)
	}
	return out
}

// LabelPropertyPair names one defined label+property index.
type LabelPropertyPair struct {
	Label    LabelId
	Property PropertyId
}

// DefinedPropertyIndices lists every (label, property) pair currently
// indexed, used by the snapshot writer's indices-metadata section.
func (m *IndexManager) DefinedPropertyIndices() []LabelPropertyPair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]LabelPropertyPair, 0)
	for label, byProp := range m.propertyIndex {
		for prop := range byProp {
			out = append(out, LabelPropertyPair{Label: label, Property: prop})
		}
	}
	return out
}

// gcSweepLabelIndex removes (label, vertex) entries whose vertex is not
// visible under label at any timestamp >= watermark, called by gc.go.
func (m *IndexManager) gcSweepLabelIndex(watermark uint64) {
	m.mu.RLock()
	snapshot := make(map[LabelId]*Skiplist[Gid, *Vertex], len(m.labelIndex))
	for label, idx := range m.labelIndex {
		snapshot[label] = idx
	}
	m.mu.RUnlock()

	for label, idx := range snapshot {
		stale := make([]Gid, 0)
		idx.Range(nil, func(gid Gid, v *Vertex) bool {
			v.mu.Lock()
			head := v.HeadDelta
			v.mu.Unlock()
			if head != nil && (head.IsInProgress() || head.CommitTs() > watermark) {
				return true // changed after the watermark; keep the entry
			}
			snap := reconstructVertex(v, watermark, 0, 0, ViewOld)
			if !snap.exists {
				stale = append(stale, gid)
				return true
			}
			if _, has := snap.labels[label]; !has {
				stale = append(stale, gid)
			}
			return true
		})
		for _, gid := range stale {
			idx.Delete(gid)
		}
	}
}
