// Package ros2msg parses concatenated ROS 2 .msg schema bundles into the
// resolved type tables the CDR decoder consumes.
//
// A bundle is the root definition followed by its transitive dependencies,
// each introduced by a "MSG: pkg/Type" header after a separator line of
// equals signs. This is the layout message recorders emit for channels with
// the ros2msg schema encoding.
package ros2msg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/transmcap/transmcap/internal/cdr"
	"github.com/transmcap/transmcap/pkg/value"
)

// Parse builds a resolved schema from a bundle. schemaName is the container's
// schema record name, either "pkg/Type" or "pkg/msg/Type".
func Parse(schemaName string, text []byte) (*cdr.Schema, error) {
	root := normalizeName(schemaName)
	sections, err := splitSections(root, string(text))
	if err != nil {
		return nil, err
	}
	structs := make([]*cdr.StructDef, 0, len(sections))
	for _, sec := range sections {
		st, err := parseSection(sec)
		if err != nil {
			return nil, err
		}
		structs = append(structs, st)
	}
	return cdr.Resolve(root, structs, nil)
}

// normalizeName inserts the msg namespace segment that .msg schema names
// conventionally omit: "pkg/Type" becomes "pkg/msg/Type".
func normalizeName(name string) string {
	parts := strings.Split(name, "/")
	if len(parts) == 2 {
		return parts[0] + "/msg/" + parts[1]
	}
	return name
}

type section struct {
	name  string
	lines []numbered
}

type numbered struct {
	no   int
	text string
}

func splitSections(rootName, text string) ([]section, error) {
	sections := []section{{name: rootName}}
	cur := &sections[0]
	for i, line := range strings.Split(text, "\n") {
		no := i + 1
		trimmed := strings.TrimSpace(line)
		if isSeparator(trimmed) {
			sections = append(sections, section{})
			cur = &sections[len(sections)-1]
			continue
		}
		if cur.name == "" {
			if rest, ok := strings.CutPrefix(trimmed, "MSG:"); ok {
				cur.name = normalizeName(strings.TrimSpace(rest))
				continue
			}
			if trimmed == "" || strings.HasPrefix(trimmed, "#") {
				continue
			}
			return nil, fmt.Errorf("line %d: expected MSG: header after separator, got %q", no, trimmed)
		}
		cur.lines = append(cur.lines, numbered{no: no, text: line})
	}
	// A trailing separator leaves an empty unnamed section behind.
	out := sections[:0]
	for _, sec := range sections {
		if sec.name == "" && len(sec.lines) == 0 {
			continue
		}
		if sec.name == "" {
			return nil, fmt.Errorf("schema section is missing its MSG: header")
		}
		out = append(out, sec)
	}
	return out, nil
}

func isSeparator(line string) bool {
	if len(line) < 3 {
		return false
	}
	for _, c := range line {
		if c != '=' {
			return false
		}
	}
	return true
}

func parseSection(sec section) (*cdr.StructDef, error) {
	st := &cdr.StructDef{Name: sec.name}
	for _, ln := range sec.lines {
		text := stripComment(ln.text)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		toks := strings.Fields(text)
		if len(toks) < 2 {
			return nil, fmt.Errorf("line %d: malformed field %q", ln.no, text)
		}
		typeTok := toks[0]
		rest := strings.Join(toks[1:], " ")
		// Constants carry "NAME=value" and do not occupy wire space.
		if name, _, isConst := strings.Cut(rest, "="); isConst && !strings.Contains(strings.TrimSpace(name), " ") {
			continue
		}
		// Fields may carry a default value after the name; it is ignored.
		name := toks[1]
		ts, err := parseType(typeTok, ln.no)
		if err != nil {
			return nil, err
		}
		st.Fields = append(st.Fields, cdr.FieldDef{Name: name, Type: ts})
	}
	return st, nil
}

func stripComment(line string) string {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		return line[:i]
	}
	return line
}

var primitives = map[string]value.Kind{
	"bool":    value.KindBool,
	"byte":    value.KindU8,
	"char":    value.KindU8,
	"int8":    value.KindI8,
	"uint8":   value.KindU8,
	"int16":   value.KindI16,
	"uint16":  value.KindU16,
	"int32":   value.KindI32,
	"uint32":  value.KindU32,
	"int64":   value.KindI64,
	"uint64":  value.KindU64,
	"float32": value.KindF32,
	"float64": value.KindF64,
}

// parseType parses a .msg type token: a base type optionally bounded
// ("string<=N") and optionally wrapped in an array suffix ("[]", "[N]",
// "[<=N]").
func parseType(tok string, lineNo int) (cdr.TypeSpec, error) {
	base := tok
	var ts cdr.TypeSpec
	if i := strings.IndexByte(tok, '['); i >= 0 {
		if !strings.HasSuffix(tok, "]") {
			return ts, fmt.Errorf("line %d: malformed array suffix in %q", lineNo, tok)
		}
		inner := tok[i+1 : len(tok)-1]
		base = tok[:i]
		switch {
		case inner == "":
			ts.Coll = cdr.CollSeq
		case strings.HasPrefix(inner, "<="):
			n, err := strconv.Atoi(inner[2:])
			if err != nil || n <= 0 {
				return ts, fmt.Errorf("line %d: invalid sequence bound in %q", lineNo, tok)
			}
			ts.Coll = cdr.CollBounded
			ts.CollSize = n
		default:
			n, err := strconv.Atoi(inner)
			if err != nil || n <= 0 {
				return ts, fmt.Errorf("line %d: invalid array size in %q", lineNo, tok)
			}
			ts.Coll = cdr.CollFixed
			ts.CollSize = n
		}
	}

	if bound, ok := strings.CutPrefix(base, "string<="); ok {
		n, err := strconv.Atoi(bound)
		if err != nil || n <= 0 {
			return ts, fmt.Errorf("line %d: invalid string bound in %q", lineNo, tok)
		}
		ts.Kind = cdr.ElemString
		ts.StrBound = n
		return ts, nil
	}
	switch base {
	case "string":
		ts.Kind = cdr.ElemString
	case "wstring":
		ts.Kind = cdr.ElemWString
	case "time":
		ts.Kind = cdr.ElemNamed
		ts.Name = "builtin_interfaces/msg/Time"
	case "duration":
		ts.Kind = cdr.ElemNamed
		ts.Name = "builtin_interfaces/msg/Duration"
	default:
		if k, ok := primitives[base]; ok {
			ts.Kind = cdr.ElemPrimitive
			ts.Prim = k
		} else {
			ts.Kind = cdr.ElemNamed
			ts.Name = base
		}
	}
	return ts, nil
}
