// Package value defines the typed intermediate representation produced by
// message decoders, plus the schema IR that describes its shape. Decoders
// emit Value trees; the columnar engine consumes them together with the
// matching []Field schema.
package value

import (
	"fmt"
	"math"
)

// Kind tags a Value or Type node.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindI8
	KindI16
	KindI32
	KindI64
	KindU8
	KindU16
	KindU32
	KindU64
	KindF32
	KindF64
	KindString
	KindBytes
	KindTimestamp
	KindStruct
	KindList
	KindArray
	KindMap
)

var kindNames = [...]string{
	KindNull:      "null",
	KindBool:      "bool",
	KindI8:        "i8",
	KindI16:       "i16",
	KindI32:       "i32",
	KindI64:       "i64",
	KindU8:        "u8",
	KindU16:       "u16",
	KindU32:       "u32",
	KindU64:       "u64",
	KindF32:       "f32",
	KindF64:       "f64",
	KindString:    "string",
	KindBytes:     "bytes",
	KindTimestamp: "timestamp",
	KindStruct:    "struct",
	KindList:      "list",
	KindArray:     "array",
	KindMap:       "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Pair is one key/value entry of a map Value.
type Pair struct {
	Key Value
	Val Value
}

// Value is a closed tagged union. Struct fields are positional; field names
// live in the schema ([]Field), not in the value tree. All numeric types are
// explicit, no lossy conversions happen anywhere in the model.
type Value struct {
	kind  Kind
	num   uint64
	str   string
	raw   []byte
	elems []Value
	pairs []Pair
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Null returns the null value. The zero Value is also null.
func Null() Value { return Value{} }

func Bool(b bool) Value {
	var n uint64
	if b {
		n = 1
	}
	return Value{kind: KindBool, num: n}
}

func I8(v int8) Value   { return Value{kind: KindI8, num: uint64(v)} }
func I16(v int16) Value { return Value{kind: KindI16, num: uint64(v)} }
func I32(v int32) Value { return Value{kind: KindI32, num: uint64(v)} }
func I64(v int64) Value { return Value{kind: KindI64, num: uint64(v)} }
func U8(v uint8) Value  { return Value{kind: KindU8, num: uint64(v)} }
func U16(v uint16) Value {
	return Value{kind: KindU16, num: uint64(v)}
}
func U32(v uint32) Value { return Value{kind: KindU32, num: uint64(v)} }
func U64(v uint64) Value { return Value{kind: KindU64, num: v} }
func F32(v float32) Value {
	return Value{kind: KindF32, num: uint64(math.Float32bits(v))}
}
func F64(v float64) Value {
	return Value{kind: KindF64, num: math.Float64bits(v)}
}
func Str(s string) Value    { return Value{kind: KindString, str: s} }
func Bytes(b []byte) Value  { return Value{kind: KindBytes, raw: b} }
func Timestamp(ns int64) Value {
	return Value{kind: KindTimestamp, num: uint64(ns)}
}

// Struct builds a struct value from its fields in schema order.
func Struct(fields []Value) Value { return Value{kind: KindStruct, elems: fields} }

// List builds a variable-length sequence value.
func List(elems []Value) Value { return Value{kind: KindList, elems: elems} }

// Array builds a fixed-size array value. The length is fixed by the schema,
// not by the data; callers must supply exactly the schema-declared count.
func Array(elems []Value) Value { return Value{kind: KindArray, elems: elems} }

// Map builds a key/value mapping from ordered entries.
func Map(entries []Pair) Value { return Value{kind: KindMap, pairs: entries} }

func (v Value) expect(k Kind) bool {
	return v.kind == k
}

// AsBool returns the boolean payload. ok is false for null and for any
// other kind; callers that need to distinguish the two check Kind first.
func (v Value) AsBool() (bool, bool) {
	if !v.expect(KindBool) {
		return false, false
	}
	return v.num != 0, true
}

func (v Value) AsI8() (int8, bool) {
	if !v.expect(KindI8) {
		return 0, false
	}
	return int8(v.num), true
}

func (v Value) AsI16() (int16, bool) {
	if !v.expect(KindI16) {
		return 0, false
	}
	return int16(v.num), true
}

func (v Value) AsI32() (int32, bool) {
	if !v.expect(KindI32) {
		return 0, false
	}
	return int32(v.num), true
}

func (v Value) AsI64() (int64, bool) {
	if !v.expect(KindI64) {
		return 0, false
	}
	return int64(v.num), true
}

func (v Value) AsU8() (uint8, bool) {
	if !v.expect(KindU8) {
		return 0, false
	}
	return uint8(v.num), true
}

func (v Value) AsU16() (uint16, bool) {
	if !v.expect(KindU16) {
		return 0, false
	}
	return uint16(v.num), true
}

func (v Value) AsU32() (uint32, bool) {
	if !v.expect(KindU32) {
		return 0, false
	}
	return uint32(v.num), true
}

func (v Value) AsU64() (uint64, bool) {
	if !v.expect(KindU64) {
		return 0, false
	}
	return v.num, true
}

func (v Value) AsF32() (float32, bool) {
	if !v.expect(KindF32) {
		return 0, false
	}
	return math.Float32frombits(uint32(v.num)), true
}

func (v Value) AsF64() (float64, bool) {
	if !v.expect(KindF64) {
		return 0, false
	}
	return math.Float64frombits(v.num), true
}

func (v Value) AsStr() (string, bool) {
	if !v.expect(KindString) {
		return "", false
	}
	return v.str, true
}

func (v Value) AsBytes() ([]byte, bool) {
	if !v.expect(KindBytes) {
		return nil, false
	}
	return v.raw, true
}

func (v Value) AsTimestamp() (int64, bool) {
	if !v.expect(KindTimestamp) {
		return 0, false
	}
	return int64(v.num), true
}

// Fields returns the positional fields of a struct value.
func (v Value) Fields() ([]Value, bool) {
	if !v.expect(KindStruct) {
		return nil, false
	}
	return v.elems, true
}

// Elems returns the elements of a list or fixed-size array value.
func (v Value) Elems() ([]Value, bool) {
	switch v.kind {
	case KindList, KindArray:
		return v.elems, true
	default:
		return nil, false
	}
}

// Entries returns the ordered key/value pairs of a map value.
func (v Value) Entries() ([]Pair, bool) {
	if !v.expect(KindMap) {
		return nil, false
	}
	return v.pairs, true
}
