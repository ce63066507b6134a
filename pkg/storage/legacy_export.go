// legacy_export.go implements a Neo4j-export-shaped JSON dump/load pair
// for ad-hoc inspection and test fixtures. It is a debugging aid, not an
// alternative to the binary snapshot format in snapshot.go: it loses the
// delta chain, every index/constraint definition, and epoch history, and
// always reads/writes the OLD view at the moment of export.
//
// Grounded on Memgraph's own self-describing snapshot format, adapted to
// a string-keyed Node/Edge JSON shape rather than a binary one: it
// exports the current Vertex/Edge model through the same
// label/property-name resolution LoadSnapshot's metadata sections use.
package storage

import (
	"encoding/json"
	"fmt"
)

// LegacyVertex is one vertex in the JSON export, property/label names
// resolved from ids via the engine's NameMapper.
type LegacyVertex struct {
	Gid        uint64         `json:"gid"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// LegacyEdge is one edge in the JSON export.
type LegacyEdge struct {
	Gid        uint64         `json:"gid"`
	From       uint64         `json:"from"`
	To         uint64         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// LegacyExport is the top-level document ExportLegacyJSON produces.
type LegacyExport struct {
	Vertices []LegacyVertex `json:"vertices"`
	Edges    []LegacyEdge   `json:"edges"`
}

// ExportLegacyJSON walks the object store's current OLD view and
// produces a self-contained JSON document naming every label, property,
// and edge type by its resolved string rather than its interned id.
func ExportLegacyJSON(e *Engine) ([]byte, error) {
	acc := e.Begin()
	defer acc.Abort()

	doc := LegacyExport{}

	e.store.vertices.Range(nil, func(gid Gid, v *Vertex) bool {
		snap := reconstructVertex(v, acc.txn.startTs, acc.txn.txId, acc.txn.CommandId(), ViewOld)
		if !snap.exists {
			return true
		}
		lv := LegacyVertex{
			Gid:        uint64(gid),
			Labels:     make([]string, 0, len(snap.labels)),
			Properties: make(map[string]any, len(snap.properties)),
		}
		for label := range snap.labels {
			if name, ok := e.mapper.LabelName(label); ok {
				lv.Labels = append(lv.Labels, name)
			}
		}
		for key, val := range snap.properties {
			if name, ok := e.mapper.PropertyName(key); ok {
				lv.Properties[name] = val.toNative()
			}
		}
		doc.Vertices = append(doc.Vertices, lv)
		return true
	})

	if e.config.PropertiesOnEdges {
		e.store.edges.Range(nil, func(gid Gid, edge *Edge) bool {
			snap := reconstructEdge(edge, acc.txn.startTs, acc.txn.txId, acc.txn.CommandId(), ViewOld)
			if !snap.exists {
				return true
			}
			typeName, _ := e.mapper.EdgeTypeName(edge.Type)
			le := LegacyEdge{
				Gid:        uint64(gid),
				From:       uint64(edge.From.Gid),
				To:         uint64(edge.To.Gid),
				Type:       typeName,
				Properties: make(map[string]any, len(snap.properties)),
			}
			for key, val := range snap.properties {
				if name, ok := e.mapper.PropertyName(key); ok {
					le.Properties[name] = val.toNative()
				}
			}
			doc.Edges = append(doc.Edges, le)
			return true
		})
	} else {
		// No Edge objects exist in this mode; an edge's only record is
		// the adjacency entry on each of its two endpoints.
		e.store.vertices.Range(nil, func(gid Gid, v *Vertex) bool {
			snap := reconstructVertex(v, acc.txn.startTs, acc.txn.txId, acc.txn.CommandId(), ViewOld)
			if !snap.exists {
				return true
			}
			for _, entry := range snap.outEdges {
				typeName, _ := e.mapper.EdgeTypeName(entry.edgeType)
				doc.Edges = append(doc.Edges, LegacyEdge{
					Gid:        uint64(entry.ref.Gid),
					From:       uint64(gid),
					To:         uint64(entry.other.Gid),
					Type:       typeName,
					Properties: map[string]any{},
				})
			}
			return true
		})
	}

	return json.MarshalIndent(doc, "", "  ")
}

// ImportLegacyJSON replays a LegacyExport document into e as a single
// transaction, interning labels/properties/edge types by name via a
// fresh Accessor committed at the end. Vertices are assigned new gids;
// the document's own gids are only used to resolve its edges' endpoints
// within the document itself.
func ImportLegacyJSON(e *Engine, data []byte) error {
	var doc LegacyExport
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("storage: parsing legacy export: %w", err)
	}

	acc := e.Begin()

	vertexByGid := make(map[uint64]*Vertex, len(doc.Vertices))
	for _, lv := range doc.Vertices {
		v, err := acc.CreateVertex()
		if err != nil {
			acc.Abort()
			return err
		}
		for _, label := range lv.Labels {
			if err := acc.AddLabel(v, e.mapper.LabelId(label)); err != nil {
				acc.Abort()
				return err
			}
		}
		for name, raw := range lv.Properties {
			if err := acc.SetProperty(v, e.mapper.PropertyId(name), propertyValueFromNative(raw)); err != nil {
				acc.Abort()
				return err
			}
		}
		vertexByGid[lv.Gid] = v
	}

	for _, le := range doc.Edges {
		from, ok := vertexByGid[le.From]
		if !ok {
			acc.Abort()
			return fmt.Errorf("storage: legacy import: edge %d references unknown vertex %d", le.Gid, le.From)
		}
		to, ok := vertexByGid[le.To]
		if !ok {
			acc.Abort()
			return fmt.Errorf("storage: legacy import: edge %d references unknown vertex %d", le.Gid, le.To)
		}
		ref, err := acc.CreateEdge(from, to, e.mapper.EdgeTypeId(le.Type))
		if err != nil {
			acc.Abort()
			return err
		}
		if ref.Edge == nil {
			continue // properties-on-edges disabled: no object to attach properties to
		}
		for name, raw := range le.Properties {
			if err := acc.SetEdgeProperty(ref.Edge, e.mapper.PropertyId(name), propertyValueFromNative(raw)); err != nil {
				acc.Abort()
				return err
			}
		}
	}

	return acc.Commit(0)
}

// toNative converts a PropertyValue into a plain Go value JSON can
// marshal directly: bool, int64, float64, string, []any, map[string]any.
func (v PropertyValue) toNative() any {
	switch v.Tag {
	case TagNull:
		return nil
	case TagBool:
		return v.Bool()
	case TagInt64:
		return v.Int()
	case TagDouble:
		return v.Double()
	case TagString:
		return v.Str()
	case TagList:
		out := make([]any, len(v.List()))
		for i, e := range v.List() {
			out[i] = e.toNative()
		}
		return out
	case TagMap:
		out := make(map[string]any, len(v.Map()))
		for k, e := range v.Map() {
			out[k] = e.toNative()
		}
		return out
	case TagDate, TagLocalTime, TagLocalDateTime, TagDuration:
		return v.AsTemporal().Nanos()
	default:
		return nil
	}
}

// propertyValueFromNative converts a json.Unmarshal-produced value (or
// a toNative result) back into a PropertyValue. Numbers always come back
// as Double: encoding/json decodes them as float64, and an int64 from
// toNative is widened the same way; this loses the Int64/Double distinction the binary
// snapshot format preserves exactly, which is why this pair is a
// debugging aid rather than a durability mechanism.
func propertyValueFromNative(raw any) PropertyValue {
	switch val := raw.(type) {
	case nil:
		return NullValue()
	case bool:
		return BoolValue(val)
	case float64:
		return DoubleValue(val)
	case int64:
		return DoubleValue(float64(val))
	case string:
		return StringValue(val)
	case []any:
		out := make([]PropertyValue, len(val))
		for i, e := range val {
			out[i] = propertyValueFromNative(e)
		}
		return ListValue(out)
	case map[string]any:
		out := make(map[string]PropertyValue, len(val))
		for k, e := range val {
			out[k] = propertyValueFromNative(e)
		}
		return MapValue(out)
	default:
		return NullValue()
	}
}
