package value

// Type is the schema-side mirror of Value: the same closed set of kinds, but
// describing shape rather than carrying data. For KindStruct the Fields slice
// is populated, for KindList/KindArray the Elem pointer (plus Size for
// arrays), and for KindMap the Key/Val pointers. Scalar kinds use none.
type Type struct {
	Kind   Kind
	Fields []Field
	Elem   *Element
	Size   int
	Key    *Element
	Val    *Element
}

// Element is a nested type position inside a compound type.
type Element struct {
	Type     Type
	Nullable bool
}

// Field is one named member of a struct or of a schema root.
type Field struct {
	Name     string
	Type     Type
	Nullable bool
}

// Scalar constructors for the common cases keep decoder code readable.
func ScalarType(k Kind) Type { return Type{Kind: k} }

func StructType(fields []Field) Type { return Type{Kind: KindStruct, Fields: fields} }

func ListType(elem Element) Type { return Type{Kind: KindList, Elem: &elem} }

func ArrayType(elem Element, size int) Type {
	return Type{Kind: KindArray, Elem: &elem, Size: size}
}

func MapType(key, val Element) Type {
	return Type{Kind: KindMap, Key: &key, Val: &val}
}

// Primitive reports whether t carries no nested types.
func (t Type) Primitive() bool {
	switch t.Kind {
	case KindStruct, KindList, KindArray, KindMap:
		return false
	}
	return true
}

// Equal reports deep structural equality, including field names and order.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.Size != o.Size {
		return false
	}
	if !FieldsEqual(t.Fields, o.Fields) {
		return false
	}
	return elementEqual(t.Elem, o.Elem) &&
		elementEqual(t.Key, o.Key) &&
		elementEqual(t.Val, o.Val)
}

func elementEqual(a, b *Element) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Nullable == b.Nullable && a.Type.Equal(b.Type)
}

// FieldsEqual reports deep equality of two field lists, order included.
func FieldsEqual(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || a[i].Nullable != b[i].Nullable || !a[i].Type.Equal(b[i].Type) {
			return false
		}
	}
	return true
}
