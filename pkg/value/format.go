package value

import (
	"fmt"
	"strings"
)

// Format renders a field schema in a readable indented style: primitive
// fields on one line, compound fields expanded across lines. Used by the
// `schema` subcommand.
func Format(fields []Field) string {
	var b strings.Builder
	for i := range fields {
		formatLabeled(&b, fields[i].Name, fields[i].Type, fields[i].Nullable, 0)
	}
	return b.String()
}

func formatLabeled(b *strings.Builder, label string, t Type, nullable bool, indent int) {
	pad := strings.Repeat(" ", indent)
	if t.Primitive() {
		fmt.Fprintf(b, "%s%s: { type: %s, nullable: %v }\n", pad, label, t.Kind, nullable)
		return
	}
	fmt.Fprintf(b, "%s%s:\n", pad, label)
	formatType(b, t, nullable, indent+4)
}

func formatType(b *strings.Builder, t Type, nullable bool, indent int) {
	pad := strings.Repeat(" ", indent)
	fmt.Fprintf(b, "%stype: %s\n", pad, t.Kind)
	fmt.Fprintf(b, "%snullable: %v\n", pad, nullable)

	switch t.Kind {
	case KindStruct:
		fmt.Fprintf(b, "%sfields:\n", pad)
		for i := range t.Fields {
			formatLabeled(b, t.Fields[i].Name, t.Fields[i].Type, t.Fields[i].Nullable, indent+4)
		}
	case KindList:
		formatLabeled(b, "item", t.Elem.Type, t.Elem.Nullable, indent)
	case KindArray:
		formatLabeled(b, "item", t.Elem.Type, t.Elem.Nullable, indent)
		fmt.Fprintf(b, "%ssize: %d\n", pad, t.Size)
	case KindMap:
		formatLabeled(b, "key", t.Key.Type, t.Key.Nullable, indent)
		formatLabeled(b, "value", t.Val.Type, t.Val.Nullable, indent)
	}
}
