// Package cdr decodes ROS 2 CDR (Common Data Representation) payloads into
// value trees, driven by a resolved schema produced from one of the text
// schema dialects (ros2msg or ros2idl).
package cdr

import (
	"fmt"
	"strings"

	"github.com/transmcap/transmcap/pkg/value"
)

// ElemKind classifies the element type of a field before any collection
// wrapper is applied.
type ElemKind uint8

const (
	ElemPrimitive ElemKind = iota // numeric or bool, see TypeSpec.Prim
	ElemString
	ElemWString
	ElemNamed // struct or enum reference, see TypeSpec.Name
)

// CollKind classifies the collection wrapper around an element type.
type CollKind uint8

const (
	CollNone    CollKind = iota
	CollSeq              // unbounded sequence, u32 count prefix
	CollBounded          // bounded sequence, count must not exceed CollSize
	CollFixed            // fixed array of CollSize elements, no prefix
)

// TypeSpec is the type of a single message field. Parsers emit these with
// unresolved Name references; Resolve rewrites Name to a canonical schema key.
type TypeSpec struct {
	Kind     ElemKind
	Prim     value.Kind // valid when Kind == ElemPrimitive
	StrBound int        // >0 for bounded strings
	Name     string     // valid when Kind == ElemNamed

	Coll     CollKind
	CollSize int // bound or fixed size
}

// FieldDef is one named field of a struct definition.
type FieldDef struct {
	Name string
	Type TypeSpec
}

// StructDef is a message struct parsed from a schema text. Name is the
// full canonical form, e.g. "geometry_msgs/msg/Point".
type StructDef struct {
	Name   string
	Fields []FieldDef
}

// EnumDef is an IDL enumeration. Variant order matters: the wire value is
// the zero-based index into Variants.
type EnumDef struct {
	Name     string
	Variants []string
}

// Schema is a fully resolved type table rooted at one struct. Every Named
// reference inside Structs points at a key of Structs or Enums.
type Schema struct {
	Root    string
	Structs map[string]*StructDef
	Enums   map[string]*EnumDef
}

// Resolve links the raw definitions into a Schema. Reference lookup tries,
// in order: an exact match, the referrer's module prefix applied to a bare
// name, and finally a unique suffix match across all definitions. An
// ambiguous suffix is an error naming every candidate.
//
// The builtin_interfaces Time and Duration structs are injected when the
// bundle does not define them, since .msg schema dumps routinely omit them.
func Resolve(root string, structs []*StructDef, enums []*EnumDef) (*Schema, error) {
	s := &Schema{
		Root:    root,
		Structs: make(map[string]*StructDef, len(structs)+2),
		Enums:   make(map[string]*EnumDef, len(enums)),
	}
	for _, st := range structs {
		if _, dup := s.Structs[st.Name]; dup {
			return nil, fmt.Errorf("duplicate type definition %q", st.Name)
		}
		s.Structs[st.Name] = st
	}
	for _, en := range enums {
		if _, dup := s.Enums[en.Name]; dup {
			return nil, fmt.Errorf("duplicate enum definition %q", en.Name)
		}
		s.Enums[en.Name] = en
	}
	injectBuiltins(s)

	if _, ok := s.Structs[root]; !ok {
		return nil, fmt.Errorf("root type %q not defined in schema", root)
	}
	for _, st := range s.Structs {
		for i := range st.Fields {
			f := &st.Fields[i]
			if f.Type.Kind != ElemNamed {
				continue
			}
			resolved, err := s.lookup(f.Type.Name, st.Name)
			if err != nil {
				return nil, fmt.Errorf("field %s.%s: %w", st.Name, f.Name, err)
			}
			f.Type.Name = resolved
		}
	}
	return s, nil
}

func injectBuiltins(s *Schema) {
	stamp := []FieldDef{
		{Name: "sec", Type: TypeSpec{Kind: ElemPrimitive, Prim: value.KindI32}},
		{Name: "nanosec", Type: TypeSpec{Kind: ElemPrimitive, Prim: value.KindU32}},
	}
	for _, name := range []string{"builtin_interfaces/msg/Time", "builtin_interfaces/msg/Duration"} {
		if _, ok := s.Structs[name]; !ok {
			s.Structs[name] = &StructDef{Name: name, Fields: stamp}
		}
	}
}

func (s *Schema) defined(name string) bool {
	if _, ok := s.Structs[name]; ok {
		return true
	}
	_, ok := s.Enums[name]
	return ok
}

// lookup resolves ref seen inside the definition of referrer.
func (s *Schema) lookup(ref, referrer string) (string, error) {
	if s.defined(ref) {
		return ref, nil
	}
	// A bare name refers to a sibling type in the referrer's module.
	if !strings.Contains(ref, "/") {
		if i := strings.LastIndex(referrer, "/"); i >= 0 {
			qualified := referrer[:i+1] + ref
			if s.defined(qualified) {
				return qualified, nil
			}
		}
	}
	// "pkg/Type" is shorthand for "pkg/msg/Type" in .msg references.
	if parts := strings.Split(ref, "/"); len(parts) == 2 {
		qualified := parts[0] + "/msg/" + parts[1]
		if s.defined(qualified) {
			return qualified, nil
		}
	}
	suffix := "/" + ref
	var matches []string
	for name := range s.Structs {
		if strings.HasSuffix(name, suffix) {
			matches = append(matches, name)
		}
	}
	for name := range s.Enums {
		if strings.HasSuffix(name, suffix) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("unresolved type reference %q", ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("ambiguous type reference %q: matches %s", ref, strings.Join(matches, ", "))
	}
}

// Fields derives the column schema of the root struct. The derivation fails
// on wstring fields and on recursive type references, neither of which CDR
// message definitions can legally encode.
func (s *Schema) Fields() ([]value.Field, error) {
	visiting := map[string]bool{}
	return s.structFields(s.Root, visiting)
}

func (s *Schema) structFields(name string, visiting map[string]bool) ([]value.Field, error) {
	if visiting[name] {
		return nil, fmt.Errorf("recursive type %q", name)
	}
	visiting[name] = true
	defer delete(visiting, name)

	st := s.Structs[name]
	fields := make([]value.Field, len(st.Fields))
	for i, f := range st.Fields {
		t, err := s.fieldType(f.Type, visiting)
		if err != nil {
			return nil, fmt.Errorf("field %s.%s: %w", name, f.Name, err)
		}
		fields[i] = value.Field{Name: f.Name, Type: t}
	}
	return fields, nil
}

func (s *Schema) fieldType(ts TypeSpec, visiting map[string]bool) (value.Type, error) {
	elem, err := s.elemType(ts, visiting)
	if err != nil {
		return value.Type{}, err
	}
	switch ts.Coll {
	case CollNone:
		return elem, nil
	case CollSeq, CollBounded:
		return value.ListType(value.Element{Type: elem}), nil
	case CollFixed:
		return value.ArrayType(value.Element{Type: elem}, ts.CollSize), nil
	default:
		return value.Type{}, fmt.Errorf("unknown collection kind %d", ts.Coll)
	}
}

func (s *Schema) elemType(ts TypeSpec, visiting map[string]bool) (value.Type, error) {
	switch ts.Kind {
	case ElemPrimitive:
		return value.ScalarType(ts.Prim), nil
	case ElemString:
		return value.ScalarType(value.KindString), nil
	case ElemWString:
		return value.Type{}, fmt.Errorf("wstring fields are unsupported")
	case ElemNamed:
		if _, ok := s.Enums[ts.Name]; ok {
			return value.ScalarType(value.KindString), nil
		}
		fields, err := s.structFields(ts.Name, visiting)
		if err != nil {
			return value.Type{}, err
		}
		return value.StructType(fields), nil
	default:
		return value.Type{}, fmt.Errorf("unknown element kind %d", ts.Kind)
	}
}
