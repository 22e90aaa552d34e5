// Package protodec decodes protobuf-encoded channels. The container's
// schema record carries a serialized FileDescriptorSet; messages decode
// through dynamicpb without generated code.
package protodec

import (
	"fmt"
	"sort"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/transmcap/transmcap/pkg/value"
)

// MessageDecoder decodes payloads of one fully-qualified message type.
type MessageDecoder struct {
	md     protoreflect.MessageDescriptor
	fields []value.Field
}

// NewMessageDecoder resolves fqName (e.g. "pkg.Sensor") inside the
// serialized FileDescriptorSet and derives the column schema up front,
// so schema problems surface before the first message.
func NewMessageDecoder(fqName string, descriptorSet []byte) (*MessageDecoder, error) {
	var fds descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(descriptorSet, &fds); err != nil {
		return nil, fmt.Errorf("parsing file descriptor set: %w", err)
	}
	files, err := protodesc.NewFiles(&fds)
	if err != nil {
		return nil, fmt.Errorf("linking file descriptor set: %w", err)
	}
	desc, err := files.FindDescriptorByName(protoreflect.FullName(fqName))
	if err != nil {
		return nil, fmt.Errorf("message type %q not found in descriptor set: %w", fqName, err)
	}
	md, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return nil, fmt.Errorf("%q names a %T, not a message", fqName, desc)
	}
	fields, err := messageFields(md, map[protoreflect.FullName]bool{})
	if err != nil {
		return nil, err
	}
	return &MessageDecoder{md: md, fields: fields}, nil
}

// Fields reports the derived column schema. Fields that support presence
// tracking (proto2 optional, proto3 optional, message-typed fields) are
// nullable; unset ones decode to null.
func (d *MessageDecoder) Fields() []value.Field {
	return d.fields
}

// Decode unmarshals one payload into a value tree shaped like Fields.
func (d *MessageDecoder) Decode(payload []byte) (value.Value, error) {
	msg := dynamicpb.NewMessage(d.md)
	if err := proto.Unmarshal(payload, msg); err != nil {
		return value.Null(), fmt.Errorf("unmarshaling %s: %w", d.md.FullName(), err)
	}
	return messageValue(msg)
}

func messageFields(md protoreflect.MessageDescriptor, visiting map[protoreflect.FullName]bool) ([]value.Field, error) {
	if visiting[md.FullName()] {
		return nil, fmt.Errorf("recursive message type %s", md.FullName())
	}
	visiting[md.FullName()] = true
	defer delete(visiting, md.FullName())

	fds := md.Fields()
	fields := make([]value.Field, fds.Len())
	for i := 0; i < fds.Len(); i++ {
		fd := fds.Get(i)
		t, err := fieldType(fd, visiting)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", fd.FullName(), err)
		}
		fields[i] = value.Field{
			Name:     string(fd.Name()),
			Type:     t,
			Nullable: fd.HasPresence(),
		}
	}
	return fields, nil
}

func fieldType(fd protoreflect.FieldDescriptor, visiting map[protoreflect.FullName]bool) (value.Type, error) {
	if fd.IsMap() {
		key, err := scalarType(fd.MapKey(), visiting)
		if err != nil {
			return value.Type{}, err
		}
		val, err := scalarType(fd.MapValue(), visiting)
		if err != nil {
			return value.Type{}, err
		}
		return value.MapType(value.Element{Type: key}, value.Element{Type: val}), nil
	}
	elem, err := scalarType(fd, visiting)
	if err != nil {
		return value.Type{}, err
	}
	if fd.IsList() {
		return value.ListType(value.Element{Type: elem}), nil
	}
	return elem, nil
}

func scalarType(fd protoreflect.FieldDescriptor, visiting map[protoreflect.FullName]bool) (value.Type, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return value.ScalarType(value.KindBool), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return value.ScalarType(value.KindI32), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return value.ScalarType(value.KindI64), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return value.ScalarType(value.KindU32), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return value.ScalarType(value.KindU64), nil
	case protoreflect.FloatKind:
		return value.ScalarType(value.KindF32), nil
	case protoreflect.DoubleKind:
		return value.ScalarType(value.KindF64), nil
	case protoreflect.StringKind:
		return value.ScalarType(value.KindString), nil
	case protoreflect.BytesKind:
		return value.ScalarType(value.KindBytes), nil
	case protoreflect.EnumKind:
		return value.ScalarType(value.KindString), nil
	case protoreflect.MessageKind:
		fields, err := messageFields(fd.Message(), visiting)
		if err != nil {
			return value.Type{}, err
		}
		return value.StructType(fields), nil
	case protoreflect.GroupKind:
		return value.Type{}, fmt.Errorf("group fields are unsupported")
	default:
		return value.Type{}, fmt.Errorf("unsupported field kind %s", fd.Kind())
	}
}

func messageValue(m protoreflect.Message) (value.Value, error) {
	md := m.Descriptor()
	fds := md.Fields()
	out := make([]value.Value, fds.Len())
	for i := 0; i < fds.Len(); i++ {
		fd := fds.Get(i)
		if fd.HasPresence() && !m.Has(fd) {
			out[i] = value.Null()
			continue
		}
		v, err := fieldValue(fd, m.Get(fd))
		if err != nil {
			return value.Null(), err
		}
		out[i] = v
	}
	return value.Struct(out), nil
}

func fieldValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) (value.Value, error) {
	switch {
	case fd.IsMap():
		return mapValue(fd, v.Map())
	case fd.IsList():
		l := v.List()
		elems := make([]value.Value, l.Len())
		for i := 0; i < l.Len(); i++ {
			e, err := scalarValue(fd, l.Get(i))
			if err != nil {
				return value.Null(), err
			}
			elems[i] = e
		}
		return value.List(elems), nil
	default:
		return scalarValue(fd, v)
	}
}

// mapValue converts a protobuf map to ordered pairs. Map iteration order
// is unspecified, so entries sort by key for reproducible output.
func mapValue(fd protoreflect.FieldDescriptor, m protoreflect.Map) (value.Value, error) {
	keys := make([]protoreflect.MapKey, 0, m.Len())
	m.Range(func(k protoreflect.MapKey, _ protoreflect.Value) bool {
		keys = append(keys, k)
		return true
	})
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	pairs := make([]value.Pair, len(keys))
	for i, k := range keys {
		kv, err := scalarValue(fd.MapKey(), k.Value())
		if err != nil {
			return value.Null(), err
		}
		vv, err := scalarValue(fd.MapValue(), m.Get(k))
		if err != nil {
			return value.Null(), err
		}
		pairs[i] = value.Pair{Key: kv, Val: vv}
	}
	return value.Map(pairs), nil
}

func scalarValue(fd protoreflect.FieldDescriptor, v protoreflect.Value) (value.Value, error) {
	switch fd.Kind() {
	case protoreflect.BoolKind:
		return value.Bool(v.Bool()), nil
	case protoreflect.Int32Kind, protoreflect.Sint32Kind, protoreflect.Sfixed32Kind:
		return value.I32(int32(v.Int())), nil
	case protoreflect.Int64Kind, protoreflect.Sint64Kind, protoreflect.Sfixed64Kind:
		return value.I64(v.Int()), nil
	case protoreflect.Uint32Kind, protoreflect.Fixed32Kind:
		return value.U32(uint32(v.Uint())), nil
	case protoreflect.Uint64Kind, protoreflect.Fixed64Kind:
		return value.U64(v.Uint()), nil
	case protoreflect.FloatKind:
		return value.F32(float32(v.Float())), nil
	case protoreflect.DoubleKind:
		return value.F64(v.Float()), nil
	case protoreflect.StringKind:
		return value.Str(v.String()), nil
	case protoreflect.BytesKind:
		return value.Bytes(v.Bytes()), nil
	case protoreflect.EnumKind:
		n := v.Enum()
		if vd := fd.Enum().Values().ByNumber(n); vd != nil {
			return value.Str(string(vd.Name())), nil
		}
		return value.Str(strconv.FormatInt(int64(n), 10)), nil
	case protoreflect.MessageKind:
		return messageValue(v.Message())
	default:
		return value.Null(), fmt.Errorf("unsupported field kind %s", fd.Kind())
	}
}
