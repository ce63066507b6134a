package storage

import (
	"bytes"
)

// vertexRecord and edgeRecord are the flattened, MVCC-free forms of
// Vertex/Edge persisted by badger_disk.go: current live state only, no
// delta chain. The encoding reuses PropertyValue.Encode so the same
// decoder logic snapshot.go uses for the in-memory snapshot format
// works here too.
type vertexRecord struct {
	Gid        Gid
	Labels     []LabelId
	Properties map[PropertyId]PropertyValue
}

type edgeRecord struct {
	Gid        Gid
	From, To   Gid
	Type       EdgeTypeId
	Properties map[PropertyId]PropertyValue
}

func encodeVertexRecord(v *Vertex) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	var buf bytes.Buffer
	writeU64(&buf, uint64(v.Gid))
	writeU32(&buf, uint32(len(v.Labels)))
	for label := range v.Labels {
		writeU32(&buf, uint32(label))
	}
	writeU32(&buf, uint32(len(v.Properties)))
	for key, val := range v.Properties {
		writeU32(&buf, uint32(key))
		if err := val.Encode(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeVertexRecord(data []byte) (vertexRecord, error) {
	r := bytes.NewReader(data)
	gid, err := readU64(r)
	if err != nil {
		return vertexRecord{}, err
	}
	labelCount, err := readU32(r)
	if err != nil {
		return vertexRecord{}, err
	}
	labels := make([]LabelId, 0, labelCount)
	for i := uint32(0); i < labelCount; i++ {
		id, err := readU32(r)
		if err != nil {
			return vertexRecord{}, err
		}
		labels = append(labels, LabelId(id))
	}
	propCount, err := readU32(r)
	if err != nil {
		return vertexRecord{}, err
	}
	props := make(map[PropertyId]PropertyValue, propCount)
	for i := uint32(0); i < propCount; i++ {
		keyId, err := readU32(r)
		if err != nil {
			return vertexRecord{}, err
		}
		val, err := DecodePropertyValue(r)
		if err != nil {
			return vertexRecord{}, err
		}
		props[PropertyId(keyId)] = val
	}
	return vertexRecord{Gid: Gid(gid), Labels: labels, Properties: props}, nil
}

func encodeEdgeRecord(e *Edge) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var buf bytes.Buffer
	writeU64(&buf, uint64(e.Gid))
	writeU64(&buf, uint64(e.From.Gid))
	writeU64(&buf, uint64(e.To.Gid))
	writeU32(&buf, uint32(e.Type))
	writeU32(&buf, uint32(len(e.Properties)))
	for key, val := range e.Properties {
		writeU32(&buf, uint32(key))
		if err := val.Encode(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeEdgeRecord(data []byte) (edgeRecord, error) {
	r := bytes.NewReader(data)
	gid, err := readU64(r)
	if err != nil {
		return edgeRecord{}, err
	}
	from, err := readU64(r)
	if err != nil {
		return edgeRecord{}, err
	}
	to, err := readU64(r)
	if err != nil {
		return edgeRecord{}, err
	}
	typ, err := readU32(r)
	if err != nil {
		return edgeRecord{}, err
	}
	propCount, err := readU32(r)
	if err != nil {
		return edgeRecord{}, err
	}
	props := make(map[PropertyId]PropertyValue, propCount)
	for i := uint32(0); i < propCount; i++ {
		keyId, err := readU32(r)
		if err != nil {
			return edgeRecord{}, err
		}
		val, err := DecodePropertyValue(r)
		if err != nil {
			return edgeRecord{}, err
		}
		props[PropertyId(keyId)] = val
	}
	return edgeRecord{Gid: Gid(gid), From: Gid(from), To: Gid(to), Type: EdgeTypeId(typ), Properties: props}, nil
}
