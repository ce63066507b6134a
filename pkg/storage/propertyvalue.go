package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/emberdb/emberdb/pkg/convert"
)

// ValueTag discriminates the PropertyValue variant. The ordering of the
// constants matches the total order defined in §3 (Null < Bool <
// numeric-as-one-class < String < List < Map); temporal values sort
// after Map, grounded on original_source's TemporalData tag living last
// in Memgraph's own PropertyValueType enum.
type ValueTag uint8

const (
	TagNull ValueTag = iota
	TagBool
	TagInt64
	TagDouble
	TagString
	TagList
	TagMap
	TagDate
	TagLocalTime
	TagLocalDateTime
	TagDuration
)

// PropertyValue is the fixed tagged variant every vertex/edge property
// and every index key value is drawn from. Exactly one of the typed
// fields is meaningful, selected by Tag.
type PropertyValue struct {
	Tag      ValueTag
	boolVal  bool
	intVal   int64
	dblVal   float64
	strVal   string
	listVal  []PropertyValue
	mapVal   map[string]PropertyValue
	temporal Temporal
}

func NullValue() PropertyValue               { return PropertyValue{Tag: TagNull} }
func BoolValue(b bool) PropertyValue         { return PropertyValue{Tag: TagBool, boolVal: b} }
func IntValue(i int64) PropertyValue         { return PropertyValue{Tag: TagInt64, intVal: i} }
func DoubleValue(f float64) PropertyValue    { return PropertyValue{Tag: TagDouble, dblVal: f} }
func StringValue(s string) PropertyValue     { return PropertyValue{Tag: TagString, strVal: s} }
func ListValue(v []PropertyValue) PropertyValue {
	return PropertyValue{Tag: TagList, listVal: v}
}
func MapValue(v map[string]PropertyValue) PropertyValue {
	return PropertyValue{Tag: TagMap, mapVal: v}
}

// TemporalValue wraps one of the four temporal kinds behind the wire tag
// matching its Temporal.Kind, per §3's encoding note.
func TemporalValue(t Temporal) PropertyValue {
	switch t.Kind {
	case TemporalDate:
		return PropertyValue{Tag: TagDate, temporal: t}
	case TemporalLocalTime:
		return PropertyValue{Tag: TagLocalTime, temporal: t}
	case TemporalLocalDateTime:
		return PropertyValue{Tag: TagLocalDateTime, temporal: t}
	case TemporalDuration:
		return PropertyValue{Tag: TagDuration, temporal: t}
	default:
		panic(fmt.Sprintf("propertyvalue: unknown temporal kind %d", t.Kind))
	}
}

func (v PropertyValue) IsNull() bool { return v.Tag == TagNull }
func (v PropertyValue) Bool() bool   { return v.boolVal }
func (v PropertyValue) Int() int64   { return v.intVal }
func (v PropertyValue) Double() float64 { return v.dblVal }
func (v PropertyValue) Str() string  { return v.strVal }
func (v PropertyValue) List() []PropertyValue { return v.listVal }
func (v PropertyValue) Map() map[string]PropertyValue { return v.mapVal }
func (v PropertyValue) AsTemporal() Temporal { return v.temporal }

// isNumeric reports whether the tag belongs to the "numeric-as-one-class"
// total-order bucket, grounded on original_source/property_value.hpp's
// AreComparableTypes rule that Int and Double cross-compare.
func (t ValueTag) isNumeric() bool { return t == TagInt64 || t == TagDouble }

func (t ValueTag) orderClass() int {
	switch {
	case t == TagNull:
		return 0
	case t == TagBool:
		return 1
	case t.isNumeric():
		return 2
	case t == TagString:
		return 3
	case t == TagList:
		return 4
	case t == TagMap:
		return 5
	default: // the four temporal tags
		return 6
	}
}

// Compare implements the total order from §3. Returns -1, 0 or 1.
// NaN doubles are excluded from index total order per §4.3 ("null and
// NaN are excluded from indices"); callers that need a defined order
// anyway (e.g. to sort raw property maps) treat NaN as greater than
// every other double.
func (v PropertyValue) Compare(o PropertyValue) int {
	ca, cb := v.Tag.orderClass(), o.Tag.orderClass()
	if ca != cb {
		if ca < cb {
			return -1
		}
		return 1
	}
	switch ca {
	case 0:
		return 0
	case 1:
		return cmpBool(v.boolVal, o.boolVal)
	case 2:
		return cmpNumeric(v, o)
	case 3:
		return cmpString(v.strVal, o.strVal)
	case 4:
		return cmpList(v.listVal, o.listVal)
	case 5:
		return cmpMap(v.mapVal, o.mapVal)
	default:
		return cmpTemporal(v.temporal, o.temporal)
	}
}

func (v PropertyValue) Equal(o PropertyValue) bool { return v.Compare(o) == 0 }

func cmpBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

func cmpNumeric(a, b PropertyValue) int {
	af, bf := valueAsFloat(a), valueAsFloat(b)
	aNaN, bNaN := math.IsNaN(af), math.IsNaN(bf)
	switch {
	case aNaN || bNaN:
		return cmpBool(aNaN, bNaN) // NaN sorts above every other number
	case af < bf:
		return -1
	case af > bf:
		return 1
	default:
		return 0
	}
}

func valueAsFloat(v PropertyValue) float64 {
	if v.Tag == TagInt64 {
		return float64(v.intVal)
	}
	return v.dblVal
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpList(a, b []PropertyValue) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := a[i].Compare(b[i]); c != 0 {
			return c
		}
	}
	return cmpInt(len(a), len(b))
}

func cmpMap(a, b map[string]PropertyValue) int {
	ak, bk := sortedKeys(a), sortedKeys(b)
	for i := 0; i < len(ak) && i < len(bk); i++ {
		if c := cmpString(ak[i], bk[i]); c != 0 {
			return c
		}
		if c := a[ak[i]].Compare(b[bk[i]]); c != 0 {
			return c
		}
	}
	return cmpInt(len(ak), len(bk))
}

func cmpTemporal(a, b Temporal) int {
	if a.Kind != b.Kind {
		return cmpInt(int(a.Kind), int(b.Kind))
	}
	return cmpInt64(a.nanos, b.nanos)
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func sortedKeys(m map[string]PropertyValue) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsNaN reports whether a double PropertyValue carries a NaN payload,
// used by index maintenance to exclude it per §4.3.
func (v PropertyValue) IsNaN() bool {
	return v.Tag == TagDouble && math.IsNaN(v.dblVal)
}

// FromGo converts a plain Go value (as produced by pkg/convert coercions
// or accepted at the Accessor boundary) into a PropertyValue, grounded on
// pkg/convert's numeric-coercion helpers for the int/float branches.
func FromGo(val any) (PropertyValue, error) {
	switch x := val.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(x), nil
	case string:
		return StringValue(x), nil
	case PropertyValue:
		return x, nil
	case Temporal:
		return TemporalValue(x), nil
	case []PropertyValue:
		return ListValue(x), nil
	case map[string]PropertyValue:
		return MapValue(x), nil
	case []string:
		return stringsToListValue(x), nil
	case []float64, []float32:
		if fs, ok := convert.ToFloat64Slice(x); ok {
			return floatsToListValue(fs), nil
		}
	case []interface{}:
		if ss := convert.ToStringSlice(x); ss != nil {
			return stringsToListValue(ss), nil
		}
		if fs, ok := convert.ToFloat64Slice(x); ok {
			return floatsToListValue(fs), nil
		}
		out := make([]PropertyValue, len(x))
		for i, elem := range x {
			pv, err := FromGo(elem)
			if err != nil {
				return PropertyValue{}, err
			}
			out[i] = pv
		}
		return ListValue(out), nil
	}
	if i, ok := convert.ToInt64(val); ok {
		return IntValue(i), nil
	}
	if f, ok := convert.ToFloat64(val); ok {
		return DoubleValue(f), nil
	}
	return PropertyValue{}, fmt.Errorf("propertyvalue: unsupported Go type %T", val)
}

// stringsToListValue and floatsToListValue box a coerced Go slice into
// the PropertyValue list shape FromGo's other branches return, used by
// the []string/[]float64/[]float32/[]interface{} cases above.
func stringsToListValue(ss []string) PropertyValue {
	out := make([]PropertyValue, len(ss))
	for i, s := range ss {
		out[i] = StringValue(s)
	}
	return ListValue(out)
}

func floatsToListValue(fs []float64) PropertyValue {
	out := make([]PropertyValue, len(fs))
	for i, f := range fs {
		out[i] = DoubleValue(f)
	}
	return ListValue(out)
}

// Encode writes the deterministic binary encoding used by the snapshot
// and WAL formats (§6): one tag byte followed by a tag-specific payload,
// little-endian fixed-width integers.
func (v PropertyValue) Encode(buf *bytes.Buffer) error {
	buf.WriteByte(byte(v.Tag))
	switch v.Tag {
	case TagNull:
	case TagBool:
		if v.boolVal {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case TagInt64:
		writeU64(buf, uint64(v.intVal))
	case TagDouble:
		writeU64(buf, math.Float64bits(v.dblVal))
	case TagString:
		writeLenPrefixed(buf, []byte(v.strVal))
	case TagList:
		writeU32(buf, uint32(len(v.listVal)))
		for _, e := range v.listVal {
			if err := e.Encode(buf); err != nil {
				return err
			}
		}
	case TagMap:
		keys := sortedKeys(v.mapVal)
		writeU32(buf, uint32(len(keys)))
		for _, k := range keys {
			writeLenPrefixed(buf, []byte(k))
			if err := v.mapVal[k].Encode(buf); err != nil {
				return err
			}
		}
	case TagDate, TagLocalTime, TagLocalDateTime, TagDuration:
		writeU64(buf, uint64(v.temporal.nanos))
	default:
		return fmt.Errorf("propertyvalue: encode unknown tag %d", v.Tag)
	}
	return nil
}

// Decode reads a PropertyValue previously written by Encode.
func DecodePropertyValue(r *bytes.Reader) (PropertyValue, error) {
	tagByte, err := r.ReadByte()
	if err != nil {
		return PropertyValue{}, err
	}
	tag := ValueTag(tagByte)
	switch tag {
	case TagNull:
		return NullValue(), nil
	case TagBool:
		b, err := r.ReadByte()
		if err != nil {
			return PropertyValue{}, err
		}
		return BoolValue(b != 0), nil
	case TagInt64:
		u, err := readU64(r)
		if err != nil {
			return PropertyValue{}, err
		}
		return IntValue(int64(u)), nil
	case TagDouble:
		u, err := readU64(r)
		if err != nil {
			return PropertyValue{}, err
		}
		return DoubleValue(math.Float64frombits(u)), nil
	case TagString:
		s, err := readLenPrefixed(r)
		if err != nil {
			return PropertyValue{}, err
		}
		return StringValue(string(s)), nil
	case TagList:
		n, err := readU32(r)
		if err != nil {
			return PropertyValue{}, err
		}
		out := make([]PropertyValue, n)
		for i := range out {
			out[i], err = DecodePropertyValue(r)
			if err != nil {
				return PropertyValue{}, err
			}
		}
		return ListValue(out), nil
	case TagMap:
		n, err := readU32(r)
		if err != nil {
			return PropertyValue{}, err
		}
		out := make(map[string]PropertyValue, n)
		for i := uint32(0); i < n; i++ {
			k, err := readLenPrefixed(r)
			if err != nil {
				return PropertyValue{}, err
			}
			v, err := DecodePropertyValue(r)
			if err != nil {
				return PropertyValue{}, err
			}
			out[string(k)] = v
		}
		return MapValue(out), nil
	case TagDate, TagLocalTime, TagLocalDateTime, TagDuration:
		u, err := readU64(r)
		if err != nil {
			return PropertyValue{}, err
		}
		kind := temporalKindForTag(tag)
		return TemporalValue(Temporal{Kind: kind, nanos: int64(u)}), nil
	default:
		return PropertyValue{}, fmt.Errorf("propertyvalue: decode unknown tag %d", tag)
	}
}

func temporalKindForTag(t ValueTag) TemporalKind {
	switch t {
	case TagDate:
		return TemporalDate
	case TagLocalTime:
		return TemporalLocalTime
	case TagLocalDateTime:
		return TemporalLocalDateTime
	default:
		return TemporalDuration
	}
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	writeU32(buf, uint32(len(b)))
	buf.Write(b)
}

// readU64/readU32/readLenPrefixed use io.ReadFull rather than Reader.Read
// directly: bytes.Reader.Read can return fewer bytes than requested
// without an error when fewer remain, which would silently decode a
// truncated field near the tail of a crash-cut snapshot or WAL segment
// instead of surfacing it as a read error.
func readU64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func readU32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
