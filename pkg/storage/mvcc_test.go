package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldUndoAnotherTransactionInProgressAlwaysUndone(t *testing.T) {
	d := &Delta{TimestampOrTxId: markInProgress(99)}
	assert.True(t, shouldUndo(d, 10, 1, 0, ViewOld))
	assert.True(t, shouldUndo(d, 10, 1, 0, ViewNew))
}

func TestShouldUndoOwnTransactionOldViewBoundedByCommand(t *testing.T) {
	d := &Delta{TimestampOrTxId: markInProgress(5), CommandId: 3}

	assert.True(t, shouldUndo(d, 10, 5, 3, ViewOld), "a delta from the current command must be undone under OLD view")
	assert.False(t, shouldUndo(d, 10, 5, 4, ViewOld), "a delta from a strictly earlier command stays visible under OLD view")
}

func TestShouldUndoOwnTransactionNewViewNeverUndone(t *testing.T) {
	d := &Delta{TimestampOrTxId: markInProgress(5), CommandId: 3}
	assert.False(t, shouldUndo(d, 10, 5, 3, ViewNew))
}

func TestShouldUndoCommittedDeltaComparedAgainstStartTs(t *testing.T) {
	d := &Delta{TimestampOrTxId: 20}
	assert.True(t, shouldUndo(d, 10, 1, 0, ViewOld), "a delta committed after the reader's start must be undone")
	assert.False(t, shouldUndo(d, 30, 1, 0, ViewOld), "a delta committed before the reader's start stays visible")
}

func TestReconstructVertexAppliesPropertyAndLabelDeltasInOrder(t *testing.T) {
	e := newTestEngine(t)

	acc := e.Begin()
	v, err := acc.CreateVertex()
	require.NoError(t, err)
	name := e.mapper.PropertyId("name")
	person := e.mapper.LabelId("Person")
	require.NoError(t, acc.SetProperty(v, name, StringValue("first")))
	require.NoError(t, acc.AddLabel(v, person))
	require.NoError(t, acc.SetProperty(v, name, StringValue("second")))
	require.NoError(t, acc.Commit(0))

	reader := e.Begin()
	defer reader.Abort()
	snap := reconstructVertex(v, reader.txn.startTs, reader.txn.txId, reader.txn.CommandId(), ViewOld)
	assert.True(t, snap.exists)
	assert.Equal(t, "second", snap.properties[name].Str())
	_, hasLabel := snap.labels[person]
	assert.True(t, hasLabel)
}

func TestReconstructVertexDeletedObjectStopsAtRecreateBoundary(t *testing.T) {
	e := newTestEngine(t)

	acc := e.Begin()
	v, err := acc.CreateVertex()
	require.NoError(t, err)
	name := e.mapper.PropertyId("name")
	require.NoError(t, acc.SetProperty(v, name, StringValue("alive")))
	require.NoError(t, acc.Commit(0))

	del := e.Begin()
	dv, _ := del.FindVertex(v.Gid, ViewNew)
	require.NoError(t, del.DeleteVertex(dv))
	require.NoError(t, del.Commit(0))

	reader := e.Begin()
	defer reader.Abort()
	snap := reconstructVertex(v, reader.txn.startTs, reader.txn.txId, reader.txn.CommandId(), ViewOld)
	assert.False(t, snap.exists)
}
