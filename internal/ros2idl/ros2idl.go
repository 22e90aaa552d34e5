// Package ros2idl parses OMG IDL schema bundles, the schema encoding ROS 2
// recorders emit alongside ros2msg, into resolved CDR type tables.
//
// Only the subset rosidl generators actually produce is supported: modules,
// structs, enums, constants, sequences, bounded strings, and fixed arrays.
// Unions, typedefs, and bitmasks are rejected with the line number of the
// offending declaration.
package ros2idl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/transmcap/transmcap/internal/cdr"
	"github.com/transmcap/transmcap/pkg/value"
)

// Parse builds a resolved schema from a concatenated IDL bundle. schemaName
// is the container's schema record name ("pkg/msg/Type" or "pkg/Type").
func Parse(schemaName string, text []byte) (*cdr.Schema, error) {
	root := normalizeName(schemaName)
	var structs []*cdr.StructDef
	var enums []*cdr.EnumDef
	for _, sec := range splitBundle(string(text)) {
		cleaned, err := strip(sec)
		if err != nil {
			return nil, err
		}
		toks, err := tokenize(cleaned)
		if err != nil {
			return nil, err
		}
		p := &parser{toks: toks}
		if err := p.file(&structs, &enums); err != nil {
			return nil, err
		}
	}
	return cdr.Resolve(root, structs, enums)
}

func normalizeName(name string) string {
	parts := strings.Split(name, "/")
	if len(parts) == 2 {
		return parts[0] + "/msg/" + parts[1]
	}
	return name
}

// splitBundle cuts a concatenated schema at its separator lines, dropping
// the "IDL: name" header each section opens with. Type names come from the
// module nesting inside each section, so the headers are informational.
func splitBundle(text string) []string {
	var sections []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if isSeparator(trimmed) {
			sections = append(sections, cur.String())
			cur.Reset()
			continue
		}
		if strings.HasPrefix(trimmed, "IDL:") {
			cur.WriteString("\n")
			continue
		}
		cur.WriteString(line)
		cur.WriteString("\n")
	}
	sections = append(sections, cur.String())
	return sections
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

type parser struct {
	toks []token
	pos  int
	mods []string // enclosing module names
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expect(text string) (token, error) {
	t := p.next()
	if t.text != text || t.kind == tokEOF {
		return t, fmt.Errorf("line %d: expected %q, got %s", t.line, text, t)
	}
	return t, nil
}

func (p *parser) ident() (token, error) {
	t := p.next()
	if t.kind != tokIdent {
		return t, fmt.Errorf("line %d: expected identifier, got %s", t.line, t)
	}
	return t, nil
}

// file parses one IDL section: a series of module blocks containing structs,
// enums, and constant modules.
func (p *parser) file(structs *[]*cdr.StructDef, enums *[]*cdr.EnumDef) error {
	for {
		t := p.peek()
		switch {
		case t.kind == tokEOF:
			if len(p.mods) != 0 {
				return fmt.Errorf("line %d: unexpected end of input inside module %q", t.line, p.mods[len(p.mods)-1])
			}
			return nil
		case t.text == "module":
			p.next()
			name, err := p.ident()
			if err != nil {
				return err
			}
			if _, err := p.expect("{"); err != nil {
				return err
			}
			p.mods = append(p.mods, name.text)
		case t.text == "}":
			p.next()
			if len(p.mods) == 0 {
				return fmt.Errorf("line %d: unmatched closing brace", t.line)
			}
			p.mods = p.mods[:len(p.mods)-1]
			if p.peek().text == ";" {
				p.next()
			}
		case t.text == "struct":
			st, err := p.structDecl()
			if err != nil {
				return err
			}
			*structs = append(*structs, st)
		case t.text == "enum":
			en, err := p.enumDecl()
			if err != nil {
				return err
			}
			*enums = append(*enums, en)
		case t.text == "const":
			if err := p.skipStatement(); err != nil {
				return err
			}
		case t.text == "typedef" || t.text == "union" || t.text == "bitmask":
			return fmt.Errorf("line %d: %s declarations are unsupported", t.line, t.text)
		case t.text == ";":
			p.next()
		default:
			return fmt.Errorf("line %d: unexpected token %s", t.line, t)
		}
	}
}

func (p *parser) qualify(name string) string {
	if len(p.mods) == 0 {
		return name
	}
	return strings.Join(p.mods, "/") + "/" + name
}

func (p *parser) skipStatement() error {
	for {
		t := p.next()
		if t.kind == tokEOF {
			return fmt.Errorf("line %d: unexpected end of input in declaration", t.line)
		}
		if t.text == ";" {
			return nil
		}
	}
}

func (p *parser) structDecl() (*cdr.StructDef, error) {
	p.next() // struct
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}
	st := &cdr.StructDef{Name: p.qualify(name.text)}
	for p.peek().text != "}" {
		f, err := p.member()
		if err != nil {
			return nil, err
		}
		st.Fields = append(st.Fields, f)
	}
	p.next() // }
	if p.peek().text == ";" {
		p.next()
	}
	return st, nil
}

func (p *parser) member() (cdr.FieldDef, error) {
	ts, err := p.typeSpec()
	if err != nil {
		return cdr.FieldDef{}, err
	}
	name, err := p.ident()
	if err != nil {
		return cdr.FieldDef{}, err
	}
	if p.peek().text == "[" {
		p.next()
		n, err := p.bound()
		if err != nil {
			return cdr.FieldDef{}, err
		}
		if _, err := p.expect("]"); err != nil {
			return cdr.FieldDef{}, err
		}
		if ts.Coll != cdr.CollNone {
			return cdr.FieldDef{}, fmt.Errorf("line %d: array of sequence is unsupported", name.line)
		}
		ts.Coll = cdr.CollFixed
		ts.CollSize = n
	}
	if _, err := p.expect(";"); err != nil {
		return cdr.FieldDef{}, err
	}
	return cdr.FieldDef{Name: name.text, Type: ts}, nil
}

func (p *parser) typeSpec() (cdr.TypeSpec, error) {
	t := p.peek()
	if t.text == "sequence" {
		p.next()
		if _, err := p.expect("<"); err != nil {
			return cdr.TypeSpec{}, err
		}
		elem, err := p.elemType()
		if err != nil {
			return cdr.TypeSpec{}, err
		}
		if elem.Coll != cdr.CollNone {
			return cdr.TypeSpec{}, fmt.Errorf("line %d: nested sequences are unsupported", t.line)
		}
		elem.Coll = cdr.CollSeq
		if p.peek().text == "," {
			p.next()
			n, err := p.bound()
			if err != nil {
				return cdr.TypeSpec{}, err
			}
			elem.Coll = cdr.CollBounded
			elem.CollSize = n
		}
		if _, err := p.expect(">"); err != nil {
			return cdr.TypeSpec{}, err
		}
		return elem, nil
	}
	return p.elemType()
}

var idlPrimitives = map[string]value.Kind{
	"boolean": value.KindBool,
	"octet":   value.KindU8,
	"char":    value.KindU8,
	"short":   value.KindI16,
	"float":   value.KindF32,
	"double":  value.KindF64,
	"int8":    value.KindI8,
	"uint8":   value.KindU8,
	"int16":   value.KindI16,
	"uint16":  value.KindU16,
	"int32":   value.KindI32,
	"uint32":  value.KindU32,
	"int64":   value.KindI64,
	"uint64":  value.KindU64,
}

func (p *parser) elemType() (cdr.TypeSpec, error) {
	t, err := p.ident()
	if err != nil {
		return cdr.TypeSpec{}, err
	}
	switch t.text {
	case "string", "wstring":
		ts := cdr.TypeSpec{Kind: cdr.ElemString}
		if t.text == "wstring" {
			ts.Kind = cdr.ElemWString
		}
		if p.peek().text == "<" {
			p.next()
			n, err := p.bound()
			if err != nil {
				return cdr.TypeSpec{}, err
			}
			if _, err := p.expect(">"); err != nil {
				return cdr.TypeSpec{}, err
			}
			ts.StrBound = n
		}
		return ts, nil
	case "long":
		// long, long long, long double
		switch p.peek().text {
		case "long":
			p.next()
			return cdr.TypeSpec{Kind: cdr.ElemPrimitive, Prim: value.KindI64}, nil
		case "double":
			return cdr.TypeSpec{}, fmt.Errorf("line %d: long double is unsupported", t.line)
		}
		return cdr.TypeSpec{Kind: cdr.ElemPrimitive, Prim: value.KindI32}, nil
	case "unsigned":
		next, err := p.ident()
		if err != nil {
			return cdr.TypeSpec{}, err
		}
		switch next.text {
		case "short":
			return cdr.TypeSpec{Kind: cdr.ElemPrimitive, Prim: value.KindU16}, nil
		case "long":
			if p.peek().text == "long" {
				p.next()
				return cdr.TypeSpec{Kind: cdr.ElemPrimitive, Prim: value.KindU64}, nil
			}
			return cdr.TypeSpec{Kind: cdr.ElemPrimitive, Prim: value.KindU32}, nil
		default:
			return cdr.TypeSpec{}, fmt.Errorf("line %d: unknown type %q", t.line, "unsigned "+next.text)
		}
	}
	if k, ok := idlPrimitives[t.text]; ok {
		return cdr.TypeSpec{Kind: cdr.ElemPrimitive, Prim: k}, nil
	}
	// Scoped or bare reference to another struct or enum.
	name := t.text
	for p.peek().kind == tokScope {
		p.next()
		seg, err := p.ident()
		if err != nil {
			return cdr.TypeSpec{}, err
		}
		name += "/" + seg.text
	}
	return cdr.TypeSpec{Kind: cdr.ElemNamed, Name: name}, nil
}

func (p *parser) bound() (int, error) {
	t := p.next()
	if t.kind != tokNumber {
		return 0, fmt.Errorf("line %d: expected size, got %s", t.line, t)
	}
	n, err := strconv.Atoi(t.text)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("line %d: invalid size %q", t.line, t.text)
	}
	return n, nil
}

func (p *parser) enumDecl() (*cdr.EnumDef, error) {
	p.next() // enum
	name, err := p.ident()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("{"); err != nil {
		return nil, err
	}
	en := &cdr.EnumDef{Name: p.qualify(name.text)}
	for {
		t := p.peek()
		if t.text == "}" {
			p.next()
			break
		}
		v, err := p.ident()
		if err != nil {
			return nil, err
		}
		en.Variants = append(en.Variants, v.text)
		if p.peek().text == "," {
			p.next()
		}
	}
	if p.peek().text == ";" {
		p.next()
	}
	return en, nil
}
