package cdr

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/transmcap/transmcap/pkg/value"
)

// enc builds little-endian CDR payloads for tests, applying the same
// alignment rules the decoder expects.
type enc struct {
	buf []byte
}

func newEnc() *enc {
	// representation CDR_LE + options
	return &enc{buf: []byte{0x00, 0x01, 0x00, 0x00}}
}

func (e *enc) align(n int) *enc {
	for (len(e.buf)-encapSize)%n != 0 {
		e.buf = append(e.buf, 0)
	}
	return e
}

func (e *enc) u8(v uint8) *enc { e.buf = append(e.buf, v); return e }

func (e *enc) u16(v uint16) *enc {
	e.align(2)
	e.buf = binary.LittleEndian.AppendUint16(e.buf, v)
	return e
}

func (e *enc) u32(v uint32) *enc {
	e.align(4)
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
	return e
}

func (e *enc) u64(v uint64) *enc {
	e.align(8)
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
	return e
}

func (e *enc) f64(v float64) *enc { return e.u64(math.Float64bits(v)) }

func (e *enc) str(s string) *enc {
	e.u32(uint32(len(s) + 1))
	e.buf = append(e.buf, s...)
	e.buf = append(e.buf, 0)
	return e
}

func prim(k value.Kind) TypeSpec { return TypeSpec{Kind: ElemPrimitive, Prim: k} }

func mustResolve(t *testing.T, root string, structs []*StructDef, enums []*EnumDef) *Schema {
	t.Helper()
	s, err := Resolve(root, structs, enums)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return s
}

func TestDecodeAlignmentPadding(t *testing.T) {
	// A 1-byte field followed by a 4-byte field: the decoder must skip
	// exactly 3 padding bytes before reading the u32.
	s := mustResolve(t, "pkg/msg/M", []*StructDef{{
		Name: "pkg/msg/M",
		Fields: []FieldDef{
			{Name: "flag", Type: prim(value.KindU8)},
			{Name: "count", Type: prim(value.KindU32)},
		},
	}}, nil)

	payload := newEnc().u8(7).u32(0xDEADBEEF).buf
	if len(payload) != encapSize+8 {
		t.Fatalf("test encoder produced %d bytes, want %d", len(payload), encapSize+8)
	}

	v, err := NewDecoder(s).Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fields, _ := v.Fields()
	if got, _ := fields[0].AsU8(); got != 7 {
		t.Errorf("flag = %d, want 7", got)
	}
	if got, _ := fields[1].AsU32(); got != 0xDEADBEEF {
		t.Errorf("count = %#x, want 0xDEADBEEF", got)
	}
}

func TestDecodeScalarsAndString(t *testing.T) {
	s := mustResolve(t, "pkg/msg/M", []*StructDef{{
		Name: "pkg/msg/M",
		Fields: []FieldDef{
			{Name: "ok", Type: prim(value.KindBool)},
			{Name: "temp", Type: prim(value.KindF64)},
			{Name: "name", Type: TypeSpec{Kind: ElemString}},
		},
	}}, nil)

	payload := newEnc().u8(1).f64(-2.5).str("lidar").buf
	v, err := NewDecoder(s).Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fields, _ := v.Fields()
	if got, _ := fields[0].AsBool(); !got {
		t.Error("ok = false, want true")
	}
	if got, _ := fields[1].AsF64(); got != -2.5 {
		t.Errorf("temp = %f, want -2.5", got)
	}
	if got, _ := fields[2].AsStr(); got != "lidar" {
		t.Errorf("name = %q, want lidar", got)
	}
}

func TestDecodeSequenceAndFixedArray(t *testing.T) {
	s := mustResolve(t, "pkg/msg/M", []*StructDef{{
		Name: "pkg/msg/M",
		Fields: []FieldDef{
			{Name: "seq", Type: TypeSpec{Kind: ElemPrimitive, Prim: value.KindI16, Coll: CollSeq}},
			{Name: "arr", Type: TypeSpec{Kind: ElemPrimitive, Prim: value.KindU8, Coll: CollFixed, CollSize: 3}},
		},
	}}, nil)

	payload := newEnc().u32(2).u16(10).u16(20).u8(1).u8(2).u8(3).buf
	v, err := NewDecoder(s).Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fields, _ := v.Fields()

	seq, _ := fields[0].Elems()
	if len(seq) != 2 {
		t.Fatalf("seq length = %d, want 2", len(seq))
	}
	if got, _ := seq[1].AsI16(); got != 20 {
		t.Errorf("seq[1] = %d, want 20", got)
	}
	if fields[1].Kind() != value.KindArray {
		t.Fatalf("arr kind = %s, want array", fields[1].Kind())
	}
	arr, _ := fields[1].Elems()
	if len(arr) != 3 {
		t.Fatalf("arr length = %d, want 3", len(arr))
	}
	if got, _ := arr[2].AsU8(); got != 3 {
		t.Errorf("arr[2] = %d, want 3", got)
	}
}

func TestDecodeBoundedSequenceOverflow(t *testing.T) {
	s := mustResolve(t, "pkg/msg/M", []*StructDef{{
		Name: "pkg/msg/M",
		Fields: []FieldDef{
			{Name: "vals", Type: TypeSpec{Kind: ElemPrimitive, Prim: value.KindU8, Coll: CollBounded, CollSize: 2}},
		},
	}}, nil)

	payload := newEnc().u32(3).u8(1).u8(2).u8(3).buf
	_, err := NewDecoder(s).Decode(payload)
	if err == nil || !strings.Contains(err.Error(), "exceeds bound") {
		t.Fatalf("err = %v, want bound overflow", err)
	}
}

func TestDecodeBoundedStringOverflow(t *testing.T) {
	s := mustResolve(t, "pkg/msg/M", []*StructDef{{
		Name: "pkg/msg/M",
		Fields: []FieldDef{
			{Name: "id", Type: TypeSpec{Kind: ElemString, StrBound: 3}},
		},
	}}, nil)

	payload := newEnc().str("toolong").buf
	_, err := NewDecoder(s).Decode(payload)
	if err == nil || !strings.Contains(err.Error(), "exceeds bound") {
		t.Fatalf("err = %v, want bound overflow", err)
	}
}

func TestDecodeNestedStruct(t *testing.T) {
	s := mustResolve(t, "pkg/msg/Outer", []*StructDef{
		{
			Name: "pkg/msg/Outer",
			Fields: []FieldDef{
				{Name: "inner", Type: TypeSpec{Kind: ElemNamed, Name: "Inner"}},
				{Name: "tail", Type: prim(value.KindU8)},
			},
		},
		{
			Name: "pkg/msg/Inner",
			Fields: []FieldDef{
				{Name: "x", Type: prim(value.KindI32)},
			},
		},
	}, nil)

	payload := newEnc().u32(41).u8(9).buf
	v, err := NewDecoder(s).Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fields, _ := v.Fields()
	inner, _ := fields[0].Fields()
	if got, _ := inner[0].AsI32(); got != 41 {
		t.Errorf("inner.x = %d, want 41", got)
	}
	if got, _ := fields[1].AsU8(); got != 9 {
		t.Errorf("tail = %d, want 9", got)
	}
}

func TestDecodeEnum(t *testing.T) {
	s := mustResolve(t, "pkg/msg/M", []*StructDef{{
		Name: "pkg/msg/M",
		Fields: []FieldDef{
			{Name: "mode", Type: TypeSpec{Kind: ElemNamed, Name: "pkg/msg/Mode"}},
			{Name: "weird", Type: TypeSpec{Kind: ElemNamed, Name: "pkg/msg/Mode"}},
		},
	}}, []*EnumDef{{Name: "pkg/msg/Mode", Variants: []string{"IDLE", "ACTIVE"}}})

	payload := newEnc().u32(1).u32(7).buf
	v, err := NewDecoder(s).Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	fields, _ := v.Fields()
	if got, _ := fields[0].AsStr(); got != "ACTIVE" {
		t.Errorf("mode = %q, want ACTIVE", got)
	}
	if got, _ := fields[1].AsStr(); got != "7" {
		t.Errorf("weird = %q, want decimal fallback \"7\"", got)
	}
}

func TestDecodeBigEndianRejected(t *testing.T) {
	payload := []byte{0x00, 0x00, 0x00, 0x00, 0x01}
	s := mustResolve(t, "pkg/msg/M", []*StructDef{{
		Name:   "pkg/msg/M",
		Fields: []FieldDef{{Name: "x", Type: prim(value.KindU8)}},
	}}, nil)
	_, err := NewDecoder(s).Decode(payload)
	if err == nil || !strings.Contains(err.Error(), "big-endian") {
		t.Fatalf("err = %v, want big-endian rejection", err)
	}
}

func TestDecodeTruncatedPayloadNamesField(t *testing.T) {
	s := mustResolve(t, "pkg/msg/M", []*StructDef{{
		Name: "pkg/msg/M",
		Fields: []FieldDef{
			{Name: "a", Type: prim(value.KindU8)},
			{Name: "b", Type: prim(value.KindU64)},
		},
	}}, nil)

	payload := newEnc().u8(1).buf
	_, err := NewDecoder(s).Decode(payload)
	if err == nil || !strings.Contains(err.Error(), `"b"`) {
		t.Fatalf("err = %v, want truncation naming field b", err)
	}
}

func TestDecodeInvalidUTF8String(t *testing.T) {
	s := mustResolve(t, "pkg/msg/M", []*StructDef{{
		Name:   "pkg/msg/M",
		Fields: []FieldDef{{Name: "s", Type: TypeSpec{Kind: ElemString}}},
	}}, nil)

	e := newEnc().u32(2)
	e.buf = append(e.buf, 0xFF, 0x00)
	_, err := NewDecoder(s).Decode(e.buf)
	if err == nil || !strings.Contains(err.Error(), "UTF-8") {
		t.Fatalf("err = %v, want UTF-8 error", err)
	}
}
