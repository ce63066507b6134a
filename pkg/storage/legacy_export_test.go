package storage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyExportImportRoundTripWithEdgeObjects(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.WalEnabled = false
	cfg.PropertiesOnEdges = true
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	defer e.Close()

	acc := e.Begin()
	a, err := acc.CreateVertex()
	require.NoError(t, err)
	b, err := acc.CreateVertex()
	require.NoError(t, err)
	person := e.mapper.LabelId("Person")
	name := e.mapper.PropertyId("name")
	knows := e.mapper.EdgeTypeId("KNOWS")
	since := e.mapper.PropertyId("since")

	require.NoError(t, acc.AddLabel(a, person))
	require.NoError(t, acc.SetProperty(a, name, StringValue("Ada")))
	require.NoError(t, acc.AddLabel(b, person))
	require.NoError(t, acc.SetProperty(b, name, StringValue("Grace")))

	ref, err := acc.CreateEdge(a, b, knows)
	require.NoError(t, err)
	require.NoError(t, acc.SetEdgeProperty(ref.Edge, since, IntValue(1950)))
	require.NoError(t, acc.Commit(0))

	data, err := ExportLegacyJSON(e)
	require.NoError(t, err)

	cfg2 := DefaultConfig()
	cfg2.DataDir = t.TempDir()
	cfg2.WalEnabled = false
	cfg2.PropertiesOnEdges = true
	e2, err := NewEngine(cfg2, nil)
	require.NoError(t, err)
	defer e2.Close()

	require.NoError(t, ImportLegacyJSON(e2, data))

	reader := e2.Begin()
	defer reader.Abort()

	var found int
	for v := range reader.Vertices(ViewOld) {
		labels := reader.VertexLabels(v, ViewOld)
		if _, ok := labels[e2.mapper.LabelId("Person")]; ok {
			found++
		}
	}
	assert.Equal(t, 2, found)
}

func TestLegacyExportDerivesEdgesFromAdjacencyWhenPropertiesOnEdgesDisabled(t *testing.T) {
	e := newTestEngine(t)
	require.False(t, e.config.PropertiesOnEdges)

	acc := e.Begin()
	a, err := acc.CreateVertex()
	require.NoError(t, err)
	b, err := acc.CreateVertex()
	require.NoError(t, err)
	knows := e.mapper.EdgeTypeId("KNOWS")
	_, err = acc.CreateEdge(a, b, knows)
	require.NoError(t, err)
	require.NoError(t, acc.Commit(0))

	data, err := ExportLegacyJSON(e)
	require.NoError(t, err)

	var doc LegacyExport
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Edges, 1)
	assert.Equal(t, "KNOWS", doc.Edges[0].Type)
	assert.Equal(t, uint64(a.Gid), doc.Edges[0].From)
	assert.Equal(t, uint64(b.Gid), doc.Edges[0].To)
}

func TestPropertyValueNativeConversionRoundTrip(t *testing.T) {
	cases := []PropertyValue{
		NullValue(),
		BoolValue(true),
		StringValue("hi"),
		ListValue([]PropertyValue{IntValue(1), IntValue(2)}),
		MapValue(map[string]PropertyValue{"k": StringValue("v")}),
	}
	for _, c := range cases {
		native := c.toNative()
		back := propertyValueFromNative(native)
		if c.Tag == TagInt64 {
			// json numbers always decode as float64; documented lossy path.
			assert.Equal(t, TagDouble, back.Tag)
			continue
		}
		assert.True(t, c.Equal(back), "native round trip changed %+v into %+v", c, back)
	}
}
