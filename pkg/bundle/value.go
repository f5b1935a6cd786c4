package bundle

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a property value: null, string, number, boolean, list of strings
// or a nested map. The zero Value is null. Values are immutable; accessors
// return copies of lists and maps.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []string
	m    map[string]Value
}

// Null returns the null value. A null in a patch removes the key it is set on.
func Null() Value { return Value{} }

func StringValue(s string) Value { return Value{kind: KindString, str: s} }

func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }

func IntValue(n int64) Value { return Value{kind: KindNumber, num: float64(n)} }

func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// ListValue holds a copy of items. An empty list stays a list and never
// becomes null.
func ListValue(items ...string) Value {
	return Value{kind: KindList, list: append([]string{}, items...)}
}

func MapValue(m map[string]Value) Value {
	out := make(map[string]Value, len(m))
	maps.Copy(out, m)
	return Value{kind: KindMap, m: out}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) mismatch(want Kind) error {
	return &TypeMismatchError{Want: want, Got: v.kind}
}

// AsString returns the string held by v or a TypeMismatchError.
func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", v.mismatch(KindString)
	}
	return v.str, nil
}

func (v Value) AsNumber() (float64, error) {
	if v.kind != KindNumber {
		return 0, v.mismatch(KindNumber)
	}
	return v.num, nil
}

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.mismatch(KindBool)
	}
	return v.b, nil
}

func (v Value) AsList() ([]string, error) {
	if v.kind != KindList {
		return nil, v.mismatch(KindList)
	}
	return slices.Clone(v.list), nil
}

func (v Value) AsMap() (map[string]Value, error) {
	if v.kind != KindMap {
		return nil, v.mismatch(KindMap)
	}
	return maps.Clone(v.m), nil
}

// Equal reports whether v and o hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindList:
		return slices.Equal(v.list, o.list)
	case KindMap:
		return maps.EqualFunc(v.m, o.m, Value.Equal)
	}
	return false
}

// Interface converts v into plain Go values: nil, string, float64, bool,
// []string or map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		return append([]string{}, v.list...)
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, mv := range v.m {
			out[k] = mv.Interface()
		}
		return out
	}
	return nil
}

// FromInterface converts a plain Go value into a Value. Slices must contain
// only strings.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return StringValue(t), nil
	case bool:
		return BoolValue(t), nil
	case float64:
		return NumberValue(t), nil
	case float32:
		return NumberValue(float64(t)), nil
	case int:
		return IntValue(int64(t)), nil
	case int32:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint:
		return NumberValue(float64(t)), nil
	case uint32:
		return NumberValue(float64(t)), nil
	case uint64:
		return NumberValue(float64(t)), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return NumberValue(n), nil
	case []string:
		return ListValue(t...), nil
	case []any:
		items := make([]string, 0, len(t))
		for i, item := range t {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("list element %d is %T, only strings are allowed", i, item)
			}
			items = append(items, s)
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]Value:
		return MapValue(t), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			mv, err := FromInterface(item)
			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}
			m[k] = mv
		}
		return Value{kind: KindMap, m: m}, nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

// String renders v as plain text. Lists are comma separated and maps are
// rendered as JSON.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return formatNumber(v.num)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		return strings.Join(v.list, ",")
	case KindMap:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v.Interface())
		}
		return string(data)
	}
	return ""
}

func formatNumber(n float64) string {
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindMap {
		// map[string]Value marshals with sorted keys
		return json.Marshal(v.m)
	}
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return serializationErr(err, "invalid property value")
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return serializationErr(err, "invalid property value")
	}
	*v = parsed
	return nil
}

// writeCanonical appends a kind-tagged, key-sorted encoding of v used for
// digests.
func (v Value) writeCanonical(w *strings.Builder) {
	w.WriteByte(byte('0' + v.kind))
	switch v.kind {
	case KindString:
		writeLenPrefixed(w, v.str)
	case KindNumber:
		w.WriteString(strconv.FormatFloat(v.num, 'g', -1, 64))
		w.WriteByte(';')
	case KindBool:
		w.WriteString(strconv.FormatBool(v.b))
		w.WriteByte(';')
	case KindList:
		w.WriteString(strconv.Itoa(len(v.list)))
		w.WriteByte('[')
		for _, s := range v.list {
			writeLenPrefixed(w, s)
		}
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.WriteString(strconv.Itoa(len(keys)))
		w.WriteByte('{')
		for _, k := range keys {
			writeLenPrefixed(w, k)
			v.m[k].writeCanonical(w)
		}
	}
}

func writeLenPrefixed(w *strings.Builder, s string) {
	w.WriteString(strconv.Itoa(len(s)))
	w.WriteByte(':')
	w.WriteString(s)
}
