package value

import "fmt"

// Infer derives a Type from the shape of a single value. Struct fields get
// positional names (f0, f1, …) since value trees are positional; decoders
// that know real field names supply their own schema instead. Empty lists
// and maps infer null element types, which Check treats as compatible with
// any later element kind.
func Infer(v Value) Type {
	switch v.Kind() {
	case KindStruct:
		children, _ := v.Fields()
		fields := make([]Field, len(children))
		for i, c := range children {
			fields[i] = Field{Name: fmt.Sprintf("f%d", i), Type: Infer(c), Nullable: c.IsNull()}
		}
		return StructType(fields)
	case KindList:
		elems, _ := v.Elems()
		return ListType(Element{Type: inferElems(elems)})
	case KindArray:
		elems, _ := v.Elems()
		return ArrayType(Element{Type: inferElems(elems)}, len(elems))
	case KindMap:
		entries, _ := v.Entries()
		key, val := Type{}, Type{}
		if len(entries) > 0 {
			key = Infer(entries[0].Key)
			val = Infer(entries[0].Val)
		}
		return MapType(Element{Type: key}, Element{Type: val})
	default:
		return ScalarType(v.Kind())
	}
}

func inferElems(elems []Value) Type {
	if len(elems) == 0 {
		return Type{}
	}
	return Infer(elems[0])
}

// Check validates that v matches the shape t. All messages on one channel
// must decode to structurally identical shapes; a mismatch is schema drift
// and fatal. The returned error names the offending field path.
func Check(v Value, t Type, path string) error {
	if v.IsNull() {
		return nil
	}
	switch t.Kind {
	case KindStruct:
		children, ok := v.Fields()
		if !ok || v.Kind() != KindStruct {
			return driftErr(path, t.Kind, v.Kind())
		}
		if len(children) != len(t.Fields) {
			return fmt.Errorf("schema drift unsupported: field %q has %d members, schema has %d",
				path, len(children), len(t.Fields))
		}
		for i, c := range children {
			if err := Check(c, t.Fields[i].Type, joinPath(path, t.Fields[i].Name)); err != nil {
				return err
			}
		}
		return nil
	case KindList:
		if v.Kind() != KindList {
			return driftErr(path, t.Kind, v.Kind())
		}
		elems, _ := v.Elems()
		return checkElems(elems, t.Elem.Type, path)
	case KindArray:
		if v.Kind() != KindArray {
			return driftErr(path, t.Kind, v.Kind())
		}
		elems, _ := v.Elems()
		if len(elems) != t.Size {
			return fmt.Errorf("schema drift unsupported: field %q array length %d, schema size %d",
				path, len(elems), t.Size)
		}
		return checkElems(elems, t.Elem.Type, path)
	case KindMap:
		entries, ok := v.Entries()
		if !ok || v.Kind() != KindMap {
			return driftErr(path, t.Kind, v.Kind())
		}
		for i, e := range entries {
			p := fmt.Sprintf("%s[%d]", path, i)
			if err := Check(e.Key, t.Key.Type, p+".key"); err != nil {
				return err
			}
			if err := Check(e.Val, t.Val.Type, p+".value"); err != nil {
				return err
			}
		}
		return nil
	case KindNull:
		// Inferred from an empty list/map element; accept anything.
		return nil
	default:
		if v.Kind() != t.Kind {
			return driftErr(path, t.Kind, v.Kind())
		}
		return nil
	}
}

func checkElems(elems []Value, t Type, path string) error {
	for i, e := range elems {
		if err := Check(e, t, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func driftErr(path string, want, got Kind) error {
	return fmt.Errorf("schema drift unsupported: field %q expected %s, got %s", path, want, got)
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}
