// recovery.go ties together snapshot.go and wal.go into the §4.4
// "recovery replays snapshot then WAL tail" startup sequence: load the
// newest snapshot if one exists, then apply every WAL record with a
// commit timestamp greater than the snapshot's start_ts.
//
// Recovery applies each logical record directly to object-store state
// rather than through the Accessor/MVCC path: every record already
// represents a committed, historical mutation, so there is no need to
// allocate undo deltas for it, only to reach the same end state the
// live engine had when it last flushed.
package storage

import (
	"bytes"
	"fmt"
)

// byteCursor is a minimal sequential reader over a WAL payload, used so
// applyWALRecord's per-op decoders read the same binary shapes
// logicalRecordForVertex/logicalRecordForEdge wrote.
type byteCursor struct {
	r *bytes.Reader
}

func newByteCursor(payload []byte) *byteCursor {
	return &byteCursor{r: bytes.NewReader(payload)}
}

func (c *byteCursor) u64() (uint64, error) { return readU64(c.r) }
func (c *byteCursor) u32() (uint32, error) { return readU32(c.r) }
func (c *byteCursor) propertyValue() (PropertyValue, error) { return DecodePropertyValue(c.r) }

func (c *byteCursor) gid() (Gid, error) {
	v, err := readU64(c.r)
	return Gid(v), err
}

// Recover loads the most recent snapshot under dataDir (if any) and
// replays the engine's WAL tail on top of it. Call after NewEngine and
// before serving any Accessor.
func Recover(e *Engine) error {
	snapshots, err := ListSnapshots(e.config.DataDir)
	if err != nil {
		return err
	}

	var sinceTs uint64
	if len(snapshots) > 0 {
		latest := snapshots[len(snapshots)-1]
		startTs, err := LoadSnapshot(e, latest)
		if err != nil {
			return fmt.Errorf("storage: loading snapshot %s: %w", latest, err)
		}
		sinceTs = startTs
	}

	if e.wal == nil {
		return nil
	}
	records, err := e.wal.ReplayFrom(sinceTs)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := applyWALRecord(e, rec); err != nil {
			return fmt.Errorf("storage: replaying wal record: %w", err)
		}
	}
	return nil
}

func applyWALRecord(e *Engine, rec WALLogicalRecord) error {
	r := newByteCursor(rec.Payload)
	switch rec.Op {
	case WALOpCreateVertex:
		gid, err := r.gid()
		if err != nil {
			return err
		}
		v, ok := e.store.findVertex(gid)
		if !ok {
			v = newVertex(gid)
			e.store.insertVertex(v)
		}
		v.Deleted = false
		e.gids.Observe(gid)
		return nil

	case WALOpDeleteVertex:
		gid, err := r.gid()
		if err != nil {
			return err
		}
		if v, ok := e.store.findVertex(gid); ok {
			v.Deleted = true
		}
		return nil

	case WALOpSetVertexProperty:
		gid, err := r.gid()
		if err != nil {
			return err
		}
		key, err := r.u32()
		if err != nil {
			return err
		}
		val, err := r.propertyValue()
		if err != nil {
			return err
		}
		v, ok := e.store.findVertex(gid)
		if !ok {
			return nil
		}
		if val.IsNull() {
			delete(v.Properties, PropertyId(key))
		} else {
			v.Properties[PropertyId(key)] = val
		}
		return nil

	case WALOpAddLabel:
		gid, err := r.gid()
		if err != nil {
			return err
		}
		label, err := r.u32()
		if err != nil {
			return err
		}
		if v, ok := e.store.findVertex(gid); ok {
			v.Labels[LabelId(label)] = struct{}{}
		}
		return nil

	case WALOpRemoveLabel:
		gid, err := r.gid()
		if err != nil {
			return err
		}
		label, err := r.u32()
		if err != nil {
			return err
		}
		if v, ok := e.store.findVertex(gid); ok {
			delete(v.Labels, LabelId(label))
		}
		return nil

	case WALOpCreateEdge:
		gid, err := r.gid()
		if err != nil {
			return err
		}
		fromGid, err := r.gid()
		if err != nil {
			return err
		}
		toGid, err := r.gid()
		if err != nil {
			return err
		}
		edgeType, err := r.u32()
		if err != nil {
			return err
		}
		from, _ := e.store.findVertex(fromGid)
		to, _ := e.store.findVertex(toGid)
		if from == nil || to == nil {
			return nil
		}
		var ref EdgeRef
		if e.config.PropertiesOnEdges {
			edge, ok := e.store.findEdge(gid)
			if !ok {
				edge = newEdge(gid, from, to, EdgeTypeId(edgeType))
				e.store.insertEdge(edge)
			}
			edge.Deleted = false
			ref = directRef(gid, edge)
		} else {
			ref = gidRef(gid)
		}
		// A replayed segment may be applied on top of a store that
		// already has this edge (snapshot already captured it, or the
		// segment is being replayed a second time): only add the
		// adjacency entries the first time this gid is seen on each
		// side, so replay stays idempotent per §8.
		if !adjacencyHasRef(from.OutEdges, gid) {
			from.OutEdges = append(from.OutEdges, adjacencyEntry{edgeType: EdgeTypeId(edgeType), other: to, ref: ref})
		}
		if !adjacencyHasRef(to.InEdges, gid) {
			to.InEdges = append(to.InEdges, adjacencyEntry{edgeType: EdgeTypeId(edgeType), other: from, ref: ref})
		}
		e.gids.Observe(gid)
		return nil

	case WALOpDeleteEdge:
		gid, err := r.gid()
		if err != nil {
			return err
		}
		if e.config.PropertiesOnEdges {
			if edge, ok := e.store.findEdge(gid); ok {
				edge.Deleted = true
				if edge.From != nil {
					edge.From.OutEdges = filterAdjacencyByRef(edge.From.OutEdges, gid)
				}
				if edge.To != nil {
					edge.To.InEdges = filterAdjacencyByRef(edge.To.InEdges, gid)
				}
			}
			return nil
		}
		fromGid, err := r.gid()
		if err != nil {
			return err
		}
		toGid, err := r.gid()
		if err != nil {
			return err
		}
		if from, ok := e.store.findVertex(fromGid); ok {
			from.OutEdges = filterAdjacencyByRef(from.OutEdges, gid)
		}
		if to, ok := e.store.findVertex(toGid); ok {
			to.InEdges = filterAdjacencyByRef(to.InEdges, gid)
		}
		return nil

	case WALOpSetEdgeProperty:
		gid, err := r.gid()
		if err != nil {
			return err
		}
		key, err := r.u32()
		if err != nil {
			return err
		}
		val, err := r.propertyValue()
		if err != nil {
			return err
		}
		edge, ok := e.store.findEdge(gid)
		if !ok {
			return nil
		}
		if val.IsNull() {
			delete(edge.Properties, PropertyId(key))
		} else {
			edge.Properties[PropertyId(key)] = val
		}
		return nil

	case WALOpDefineIndex, WALOpDropIndex, WALOpDefineConstraint, WALOpDropConstraint:
		// DDL is redefined from the snapshot's indices/constraints
		// metadata section on every recovery rather than replayed, since
		// the snapshot always captures the latest schema state.
		return nil

	default:
		return NotYetImplemented{Operation: fmt.Sprintf("wal replay for op %d", rec.Op)}
	}
}

func adjacencyHasRef(entries []adjacencyEntry, gid Gid) bool {
	for _, entry := range entries {
		if entry.ref.Gid == gid {
			return true
		}
	}
	return false
}

func filterAdjacencyByRef(entries []adjacencyEntry, gid Gid) []adjacencyEntry {
	out := entries[:0]
	for _, entry := range entries {
		if entry.ref.Gid != gid {
			out = append(out, entry)
		}
	}
	return out
}
