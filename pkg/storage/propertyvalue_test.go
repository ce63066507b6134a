package storage

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v PropertyValue) PropertyValue {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, v.Encode(&buf))
	got, err := DecodePropertyValue(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	return got
}

func TestPropertyValueEncodeDecodeRoundTrip(t *testing.T) {
	cases := []PropertyValue{
		NullValue(),
		BoolValue(true),
		BoolValue(false),
		IntValue(-42),
		DoubleValue(3.14159),
		StringValue("hello, graph"),
		ListValue([]PropertyValue{IntValue(1), StringValue("two"), BoolValue(true)}),
		MapValue(map[string]PropertyValue{"a": IntValue(1), "b": StringValue("two")}),
	}
	for _, c := range cases {
		got := roundTrip(t, c)
		assert.True(t, c.Equal(got), "round trip changed value: %+v != %+v", c, got)
	}
}

func TestPropertyValueEncodeDecodeNestedCollections(t *testing.T) {
	v := ListValue([]PropertyValue{
		MapValue(map[string]PropertyValue{
			"nested": ListValue([]PropertyValue{IntValue(1), IntValue(2)}),
		}),
	})
	got := roundTrip(t, v)
	assert.True(t, v.Equal(got))
}

func TestPropertyValueTotalOrderAcrossClasses(t *testing.T) {
	ordered := []PropertyValue{
		NullValue(),
		BoolValue(false),
		BoolValue(true),
		IntValue(1),
		DoubleValue(1.5),
		IntValue(2),
		StringValue("a"),
		StringValue("b"),
		ListValue([]PropertyValue{IntValue(1)}),
		MapValue(map[string]PropertyValue{"a": IntValue(1)}),
	}
	for i := 0; i < len(ordered)-1; i++ {
		assert.Equal(t, -1, ordered[i].Compare(ordered[i+1]),
			"expected %+v < %+v", ordered[i], ordered[i+1])
	}
}

func TestPropertyValueNumericCrossComparison(t *testing.T) {
	assert.Equal(t, 0, IntValue(2).Compare(DoubleValue(2.0)), "int and double must compare equal when numerically equal")
	assert.Equal(t, -1, IntValue(1).Compare(DoubleValue(1.5)))
	assert.Equal(t, 1, DoubleValue(2.5).Compare(IntValue(2)))
}

func TestPropertyValueIsNaNExcludesFromIndexOrder(t *testing.T) {
	nan := DoubleValue(nanFloat())
	assert.True(t, nan.IsNaN())
	assert.False(t, IntValue(1).IsNaN())
}

func nanFloat() float64 {
	var zero float64
	return zero / zero
}

func TestFromGoCoercesSupportedTypes(t *testing.T) {
	v, err := FromGo(int(7))
	require.NoError(t, err)
	assert.Equal(t, TagInt64, v.Tag)

	v, err = FromGo(nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	v, err = FromGo("x")
	require.NoError(t, err)
	assert.Equal(t, "x", v.Str())

	_, err = FromGo(struct{ X int }{X: 1})
	assert.Error(t, err)
}

func TestFromGoCoercesRawSlicesToListValue(t *testing.T) {
	v, err := FromGo([]string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, TagList, v.Tag)
	list := v.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Str())
	assert.Equal(t, "b", list[1].Str())

	v, err = FromGo([]float32{1.5, 2.5})
	require.NoError(t, err)
	list = v.List()
	require.Len(t, list, 2)
	assert.Equal(t, 1.5, list[0].Double())
	assert.Equal(t, 2.5, list[1].Double())

	v, err = FromGo([]interface{}{1, 2.5, int64(3)})
	require.NoError(t, err)
	list = v.List()
	require.Len(t, list, 3)
	assert.Equal(t, 1.0, list[0].Double())
	assert.Equal(t, 2.5, list[1].Double())
	assert.Equal(t, 3.0, list[2].Double())

	v, err = FromGo([]interface{}{"x", 1, true})
	require.NoError(t, err)
	list = v.List()
	require.Len(t, list, 3)
	assert.Equal(t, "x", list[0].Str())
	assert.Equal(t, int64(1), list[1].Int())
	assert.True(t, list[2].Bool())
}
