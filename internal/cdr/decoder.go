package cdr

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"

	"github.com/transmcap/transmcap/pkg/value"
)

// encapsulation header: representation id (2 bytes) + options (2 bytes).
// Alignment is computed relative to the end of this header.
const encapSize = 4

// Decoder decodes CDR payloads against one resolved schema. It is safe for
// concurrent use; all mutable state lives in the per-call reader.
type Decoder struct {
	schema *Schema
}

func NewDecoder(s *Schema) *Decoder {
	return &Decoder{schema: s}
}

// Decode parses one serialized message into a value tree shaped like the
// schema's root struct. Errors name the field path being decoded.
func (d *Decoder) Decode(payload []byte) (value.Value, error) {
	if len(payload) < encapSize {
		return value.Null(), fmt.Errorf("payload too short for encapsulation header: %d bytes", len(payload))
	}
	// byte 1 carries the representation: 0x00/0x02 big-endian, 0x01/0x03
	// little-endian. Only little-endian payloads appear in practice.
	if payload[1]&0x01 != 0x01 {
		return value.Null(), fmt.Errorf("big-endian CDR payloads are unsupported (representation 0x%02x%02x)", payload[0], payload[1])
	}
	r := &reader{buf: payload, pos: encapSize, base: encapSize}
	v, err := d.decodeStruct(r, d.schema.Root, "")
	if err != nil {
		return value.Null(), err
	}
	return v, nil
}

func (d *Decoder) decodeStruct(r *reader, name, path string) (value.Value, error) {
	st := d.schema.Structs[name]
	fields := make([]value.Value, len(st.Fields))
	for i, f := range st.Fields {
		v, err := d.decodeField(r, f.Type, fieldPath(path, f.Name))
		if err != nil {
			return value.Null(), err
		}
		fields[i] = v
	}
	return value.Struct(fields), nil
}

func (d *Decoder) decodeField(r *reader, ts TypeSpec, path string) (value.Value, error) {
	switch ts.Coll {
	case CollNone:
		return d.decodeElem(r, ts, path)
	case CollSeq, CollBounded:
		n, err := r.u32(path)
		if err != nil {
			return value.Null(), err
		}
		if ts.Coll == CollBounded && int(n) > ts.CollSize {
			return value.Null(), fmt.Errorf("field %q: sequence length %d exceeds bound %d", path, n, ts.CollSize)
		}
		return d.decodeElems(r, ts, int(n), path, value.List)
	case CollFixed:
		return d.decodeElems(r, ts, ts.CollSize, path, value.Array)
	default:
		return value.Null(), fmt.Errorf("field %q: unknown collection kind %d", path, ts.Coll)
	}
}

func (d *Decoder) decodeElems(r *reader, ts TypeSpec, n int, path string, wrap func([]value.Value) value.Value) (value.Value, error) {
	elems := make([]value.Value, n)
	for i := 0; i < n; i++ {
		v, err := d.decodeElem(r, ts, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return value.Null(), err
		}
		elems[i] = v
	}
	return wrap(elems), nil
}

func (d *Decoder) decodeElem(r *reader, ts TypeSpec, path string) (value.Value, error) {
	switch ts.Kind {
	case ElemPrimitive:
		return r.primitive(ts.Prim, path)
	case ElemString:
		s, err := r.str(path)
		if err != nil {
			return value.Null(), err
		}
		if ts.StrBound > 0 && len(s) > ts.StrBound {
			return value.Null(), fmt.Errorf("field %q: string length %d exceeds bound %d", path, len(s), ts.StrBound)
		}
		return value.Str(s), nil
	case ElemWString:
		return value.Null(), fmt.Errorf("field %q: wstring fields are unsupported", path)
	case ElemNamed:
		if en, ok := d.schema.Enums[ts.Name]; ok {
			idx, err := r.u32(path)
			if err != nil {
				return value.Null(), err
			}
			if int(idx) < len(en.Variants) {
				return value.Str(en.Variants[idx]), nil
			}
			// Out-of-range discriminants keep their numeric spelling.
			return value.Str(strconv.FormatUint(uint64(idx), 10)), nil
		}
		return d.decodeStruct(r, ts.Name, path)
	default:
		return value.Null(), fmt.Errorf("field %q: unknown element kind %d", path, ts.Kind)
	}
}

func fieldPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

// reader walks a CDR buffer. Alignment for an n-byte primitive is n bytes
// relative to base, the position just past the encapsulation header.
type reader struct {
	buf  []byte
	pos  int
	base int
}

func (r *reader) align(n int, path string) error {
	pad := (n - (r.pos-r.base)%n) % n
	if r.pos+pad > len(r.buf) {
		return fmt.Errorf("field %q: truncated payload at offset %d", path, r.pos)
	}
	r.pos += pad
	return nil
}

func (r *reader) take(n int, path string) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("field %q: truncated payload: need %d bytes at offset %d, have %d", path, n, r.pos, len(r.buf)-r.pos)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) fixed(n int, path string) ([]byte, error) {
	if err := r.align(n, path); err != nil {
		return nil, err
	}
	return r.take(n, path)
}

func (r *reader) u32(path string) (uint32, error) {
	b, err := r.fixed(4, path)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) str(path string) (string, error) {
	n, err := r.u32(path)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("field %q: string missing NUL terminator", path)
	}
	b, err := r.take(int(n), path)
	if err != nil {
		return "", err
	}
	if b[n-1] != 0 {
		return "", fmt.Errorf("field %q: string missing NUL terminator", path)
	}
	s := b[:n-1]
	if !utf8.Valid(s) {
		return "", fmt.Errorf("field %q: string is not valid UTF-8", path)
	}
	return string(s), nil
}

func (r *reader) primitive(k value.Kind, path string) (value.Value, error) {
	switch k {
	case value.KindBool:
		b, err := r.take(1, path)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(b[0] != 0), nil
	case value.KindI8:
		b, err := r.take(1, path)
		if err != nil {
			return value.Null(), err
		}
		return value.I8(int8(b[0])), nil
	case value.KindU8:
		b, err := r.take(1, path)
		if err != nil {
			return value.Null(), err
		}
		return value.U8(b[0]), nil
	case value.KindI16:
		b, err := r.fixed(2, path)
		if err != nil {
			return value.Null(), err
		}
		return value.I16(int16(binary.LittleEndian.Uint16(b))), nil
	case value.KindU16:
		b, err := r.fixed(2, path)
		if err != nil {
			return value.Null(), err
		}
		return value.U16(binary.LittleEndian.Uint16(b)), nil
	case value.KindI32:
		b, err := r.fixed(4, path)
		if err != nil {
			return value.Null(), err
		}
		return value.I32(int32(binary.LittleEndian.Uint32(b))), nil
	case value.KindU32:
		b, err := r.fixed(4, path)
		if err != nil {
			return value.Null(), err
		}
		return value.U32(binary.LittleEndian.Uint32(b)), nil
	case value.KindI64:
		b, err := r.fixed(8, path)
		if err != nil {
			return value.Null(), err
		}
		return value.I64(int64(binary.LittleEndian.Uint64(b))), nil
	case value.KindU64:
		b, err := r.fixed(8, path)
		if err != nil {
			return value.Null(), err
		}
		return value.U64(binary.LittleEndian.Uint64(b)), nil
	case value.KindF32:
		b, err := r.fixed(4, path)
		if err != nil {
			return value.Null(), err
		}
		return value.F32(math.Float32frombits(binary.LittleEndian.Uint32(b))), nil
	case value.KindF64:
		b, err := r.fixed(8, path)
		if err != nil {
			return value.Null(), err
		}
		return value.F64(math.Float64frombits(binary.LittleEndian.Uint64(b))), nil
	default:
		return value.Null(), fmt.Errorf("field %q: unsupported primitive kind %s", path, k)
	}
}
