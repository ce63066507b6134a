package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoveryReplaysWALAfterRestart(t *testing.T) {
	dataDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.DataDir = dataDir
	cfg.WalEnabled = true

	e1, err := NewEngine(cfg, nil)
	require.NoError(t, err)

	acc := e1.Begin()
	v, err := acc.CreateVertex()
	require.NoError(t, err)
	person := e1.mapper.LabelId("Person")
	name := e1.mapper.PropertyId("name")
	require.NoError(t, acc.AddLabel(v, person))
	require.NoError(t, acc.SetProperty(v, name, StringValue("Ada")))
	require.NoError(t, acc.Commit(0))
	gid := v.Gid

	require.NoError(t, e1.Close())

	e2, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	defer e2.Close()

	reader := e2.Begin()
	defer reader.Abort()

	rv, ok := reader.FindVertex(gid, ViewOld)
	require.True(t, ok, "vertex must survive a restart via WAL replay")

	labels := reader.VertexLabels(rv, ViewOld)
	_, hasLabel := labels[e2.mapper.LabelId("Person")]
	assert.True(t, hasLabel)

	val, ok := reader.VertexProperty(rv, name, ViewOld)
	require.True(t, ok)
	assert.Equal(t, "Ada", val.Str())
}

func TestRecoveryIsIdempotentAcrossDoubleReplay(t *testing.T) {
	dataDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = dataDir
	cfg.WalEnabled = true

	e1, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	acc := e1.Begin()
	v, err := acc.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, acc.Commit(0))
	gid := v.Gid
	require.NoError(t, e1.Close())

	// Recover twice in a row from the same WAL/snapshot state; the
	// second open must see the same state as the first, not a
	// double-application of the same logical records.
	e2, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, e2.Close())

	e3, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	defer e3.Close()

	reader := e3.Begin()
	defer reader.Abort()
	_, ok := reader.FindVertex(gid, ViewOld)
	assert.True(t, ok)
}

// TestRecoveryEdgeReplayAdjacencyIsIdempotent covers the case
// TestRecoveryIsIdempotentAcrossDoubleReplay doesn't: replaying the
// same WALOpCreateEdge record twice onto a store that already has that
// edge must not duplicate the adjacency entries on either endpoint.
func TestRecoveryEdgeReplayAdjacencyIsIdempotent(t *testing.T) {
	e := newTestEngine(t)

	acc := e.Begin()
	a, err := acc.CreateVertex()
	require.NoError(t, err)
	b, err := acc.CreateVertex()
	require.NoError(t, err)
	require.NoError(t, acc.Commit(0))

	knows := e.mapper.EdgeTypeId("KNOWS")
	edgeGid := e.gids.Next()

	var buf bytes.Buffer
	writeU64(&buf, uint64(edgeGid))
	writeU64(&buf, uint64(a.Gid))
	writeU64(&buf, uint64(b.Gid))
	writeU32(&buf, uint32(knows))
	rec := WALLogicalRecord{CommitTs: 1, Op: WALOpCreateEdge, Payload: buf.Bytes()}

	require.NoError(t, applyWALRecord(e, rec))
	require.NoError(t, applyWALRecord(e, rec))

	av, ok := e.store.findVertex(a.Gid)
	require.True(t, ok)
	bv, ok := e.store.findVertex(b.Gid)
	require.True(t, ok)
	assert.Len(t, av.OutEdges, 1, "replaying the same create-edge record twice must not duplicate adjacency")
	assert.Len(t, bv.InEdges, 1)
}

func TestSnapshotWriteAndLoadRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	acc := e.Begin()
	a, err := acc.CreateVertex()
	require.NoError(t, err)
	b, err := acc.CreateVertex()
	require.NoError(t, err)
	knows := e.mapper.EdgeTypeId("KNOWS")
	_, err = acc.CreateEdge(a, b, knows)
	require.NoError(t, err)
	require.NoError(t, acc.Commit(0))

	path, err := WriteSnapshot(e, e.config.DataDir)
	require.NoError(t, err)

	startTs, err := LoadSnapshot(e, path)
	require.NoError(t, err)
	assert.Greater(t, startTs, uint64(0))

	reader := e.Begin()
	defer reader.Abort()
	ra, ok := reader.FindVertex(a.Gid, ViewOld)
	require.True(t, ok)
	out := reader.VertexLabels(ra, ViewOld)
	_ = out // labels unused here, existence check is the point
}
