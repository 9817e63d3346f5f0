package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "null"
	}
}

// Value is a loosely typed payload field. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	m    Map
	l    []Value
}

// Map is a string-keyed payload object.
type Map map[string]Value

// Null returns the null value.
func Null() Value { return Value{} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a floating-point number.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Object wraps a map.
func Object(m Map) Value {
	if m == nil {
		m = Map{}
	}
	return Value{kind: KindMap, m: m}
}

// List wraps a list.
func List(items ...Value) Value { return Value{kind: KindList, l: items} }

// Kind reports the variant.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null or absent.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsNumber reports whether the value is an int or a float.
func (v Value) IsNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

// FloatOK coerces to float64. Numeric strings are parsed, booleans are not numbers.
func (v Value) FloatOK() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsFloat coerces to float64, returning def on mismatch.
func (v Value) AsFloat(def float64) float64 {
	if f, ok := v.FloatOK(); ok {
		return f
	}
	return def
}

// AsInt coerces to int64, truncating floats, returning def on mismatch.
func (v Value) AsInt(def int64) int64 {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return int64(v.f)
	case KindString:
		if i, err := strconv.ParseInt(strings.TrimSpace(v.s), 10, 64); err == nil {
			return i
		}
		if f, ok := v.FloatOK(); ok {
			return int64(f)
		}
	}
	return def
}

// AsString renders scalars as strings, returning def for null, maps and lists.
func (v Value) AsString(def string) string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return def
	}
}

// AsBool coerces to bool. Strings "true"/"false" are accepted.
func (v Value) AsBool(def bool) bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindString:
		if b, err := strconv.ParseBool(strings.TrimSpace(v.s)); err == nil {
			return b
		}
	}
	return def
}

// IsTrue reports whether the value is the boolean true. Truthy strings or numbers do not count.
func (v Value) IsTrue() bool { return v.kind == KindBool && v.b }

// AsMap returns the wrapped map, or nil when the value is not a map.
func (v Value) AsMap() Map {
	if v.kind != KindMap {
		return nil
	}
	return v.m
}

// AsList returns the wrapped list, or nil when the value is not a list.
func (v Value) AsList() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.l
}

// Interface converts the value to plain Go types.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindMap:
		return v.m.Interface()
	case KindList:
		out := make([]any, len(v.l))
		for i, item := range v.l {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindMap:
		return Object(v.m.Clone())
	case KindList:
		items := make([]Value, len(v.l))
		for i, item := range v.l {
			items[i] = item.Clone()
		}
		return Value{kind: KindList, l: items}
	default:
		return v
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
	case KindMap:
		return json.Marshal(v.m)
	case KindList:
		if v.l == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.l)
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler. Numbers without a fraction or
// exponent decode as ints.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts decoded JSON or plain Go values into a Value.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case Map:
		return Object(t)
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case json.Number:
		return fromNumber(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint32:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case map[string]any:
		m := make(Map, len(t))
		for k, item := range t {
			m[k] = FromAny(item)
		}
		return Object(m)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Value{kind: KindList, l: items}
	default:
		return String(fmt.Sprint(t))
	}
}

func fromNumber(n json.Number) Value {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return Int(i)
		}
	}
	f, err := n.Float64()
	if err != nil {
		return String(s)
	}
	return Float(f)
}

// ErrNotObject is returned when a payload is valid JSON but not an object.
var ErrNotObject = errors.New("telemetry: payload is not a json object")

// DecodeMap decodes a JSON object preserving the int/float distinction.
func DecodeMap(data []byte) (Map, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	if v.kind != KindMap {
		return nil, ErrNotObject
	}
	return v.m, nil
}

// Get returns the value for key, or null.
func (m Map) Get(key string) Value {
	if m == nil {
		return Null()
	}
	return m[key]
}

// Has reports whether key is present and not null.
func (m Map) Has(key string) bool {
	if m == nil {
		return false
	}
	v, ok := m[key]
	return ok && !v.IsNull()
}

// First returns the first present, non-null value among keys.
func (m Map) First(keys ...string) (Value, bool) {
	for _, key := range keys {
		if m.Has(key) {
			return m[key], true
		}
	}
	return Null(), false
}

// Float coerces the value for key.
func (m Map) Float(key string, def float64) float64 { return m.Get(key).AsFloat(def) }

// Int coerces the value for key.
func (m Map) Int(key string, def int64) int64 { return m.Get(key).AsInt(def) }

// String coerces the value for key.
func (m Map) String(key string, def string) string { return m.Get(key).AsString(def) }

// Map returns the nested map for key, or nil.
func (m Map) Map(key string) Map { return m.Get(key).AsMap() }

// Clone returns a deep copy. A nil map clones to an empty map.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Keys returns the keys in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Interface converts to map[string]any.
func (m Map) Interface() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Interface()
	}
	return out
}

// Merge copies entries from src into m, overwriting on collision.
func (m Map) Merge(src Map) {
	for k, v := range src {
		m[k] = v
	}
}
