package columnar

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/transmcap/transmcap/pkg/value"
)

// Reserved column names carrying the container's per-message timestamps.
// They always lead the output schema.
const (
	ColLogTime     = "@log_time"
	ColPublishTime = "@publish_time"
)

// CollisionError reports two source fields flattening to the same output
// column name.
type CollisionError struct {
	Name   string
	First  string
	Second string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("column name %q produced by both %s and %s", e.Name, e.First, e.Second)
}

// Column is one planned output column and the path to its source value.
type Column struct {
	Name     string
	Type     value.Type
	Nullable bool

	path     []int  // struct-field indexes from the root value
	elem     int    // flattened element index, -1 if none
	fixedLen int    // required list length under flatten-fixed, 0 = not checked
	src      string // source field path for diagnostics
}

// Plan maps a derived message schema to output columns under one policy.
// Planning is pure: the same fields and policy always yield the same plan,
// and every name collision is caught here, before any message is read.
type Plan struct {
	cols   []Column
	schema *arrow.Schema
}

func NewPlan(fields []value.Field, policy Policy) (*Plan, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	p := &Plan{}
	for i, f := range fields {
		if err := p.planField(policy, []int{i}, f.Name, f.Name, f.Type, f.Nullable); err != nil {
			return nil, err
		}
	}
	if err := p.checkCollisions(); err != nil {
		return nil, err
	}
	p.schema = p.buildSchema()
	return p, nil
}

func (p *Plan) planField(policy Policy, path []int, name, src string, t value.Type, nullable bool) error {
	switch t.Kind {
	case value.KindStruct:
		if policy.Structs == StructFlatten {
			for i, f := range t.Fields {
				childPath := append(append([]int{}, path...), i)
				childName := name + "." + f.Name
				childSrc := src + "." + f.Name
				if err := p.planField(policy, childPath, childName, childSrc, f.Type, nullable || f.Nullable); err != nil {
					return err
				}
			}
			return nil
		}
		p.add(Column{Name: name, Type: t, Nullable: nullable, path: path, elem: -1, src: src})
	case value.KindList:
		switch policy.Lists {
		case ListDrop:
		case ListKeep:
			p.add(Column{Name: name, Type: t, Nullable: nullable, path: path, elem: -1, src: src})
		case ListFlattenFixed:
			p.flattenElems(path, name, src, *t.Elem, nullable, policy.ListFlattenSize, true)
		}
	case value.KindArray:
		switch policy.Arrays {
		case ArrayDrop:
		case ArrayKeep:
			p.add(Column{Name: name, Type: t, Nullable: nullable, path: path, elem: -1, src: src})
		case ArrayFlatten:
			p.flattenElems(path, name, src, *t.Elem, nullable, t.Size, false)
		}
	case value.KindMap:
		if policy.Maps == MapKeep {
			p.add(Column{Name: name, Type: t, Nullable: nullable, path: path, elem: -1, src: src})
		}
	default:
		p.add(Column{Name: name, Type: t, Nullable: nullable, path: path, elem: -1, src: src})
	}
	return nil
}

// flattenElems emits one column per element index. checked marks list
// columns whose length must equal n at row time.
func (p *Plan) flattenElems(path []int, name, src string, elem value.Element, nullable bool, n int, checked bool) {
	for i := 0; i < n; i++ {
		col := Column{
			Name:     name + "." + strconv.Itoa(i),
			Type:     elem.Type,
			Nullable: nullable || elem.Nullable,
			path:     append([]int{}, path...),
			elem:     i,
			src:      src + "[" + strconv.Itoa(i) + "]",
		}
		if checked {
			col.fixedLen = n
		}
		p.add(col)
	}
}

func (p *Plan) add(c Column) {
	p.cols = append(p.cols, c)
}

func (p *Plan) checkCollisions() error {
	seen := map[string]string{
		ColLogTime:     "the log-time column",
		ColPublishTime: "the publish-time column",
	}
	for _, c := range p.cols {
		if prev, ok := seen[c.Name]; ok {
			return &CollisionError{Name: c.Name, First: prev, Second: c.src}
		}
		seen[c.Name] = c.src
	}
	return nil
}

// Columns returns the planned data columns, excluding the timestamp pair.
func (p *Plan) Columns() []Column {
	return p.cols
}

// Schema is the Arrow schema of produced batches: @log_time and
// @publish_time followed by the planned columns.
func (p *Plan) Schema() *arrow.Schema {
	return p.schema
}

func (p *Plan) buildSchema() *arrow.Schema {
	fields := make([]arrow.Field, 0, len(p.cols)+2)
	fields = append(fields,
		arrow.Field{Name: ColLogTime, Type: timestampType()},
		arrow.Field{Name: ColPublishTime, Type: timestampType()},
	)
	for _, c := range p.cols {
		fields = append(fields, arrow.Field{
			Name:     c.Name,
			Type:     arrowType(c.Type),
			Nullable: c.Nullable,
		})
	}
	return arrow.NewSchema(fields, nil)
}

func timestampType() arrow.DataType {
	return &arrow.TimestampType{Unit: arrow.Nanosecond, TimeZone: "UTC"}
}

func arrowType(t value.Type) arrow.DataType {
	switch t.Kind {
	case value.KindBool:
		return arrow.FixedWidthTypes.Boolean
	case value.KindI8:
		return arrow.PrimitiveTypes.Int8
	case value.KindI16:
		return arrow.PrimitiveTypes.Int16
	case value.KindI32:
		return arrow.PrimitiveTypes.Int32
	case value.KindI64:
		return arrow.PrimitiveTypes.Int64
	case value.KindU8:
		return arrow.PrimitiveTypes.Uint8
	case value.KindU16:
		return arrow.PrimitiveTypes.Uint16
	case value.KindU32:
		return arrow.PrimitiveTypes.Uint32
	case value.KindU64:
		return arrow.PrimitiveTypes.Uint64
	case value.KindF32:
		return arrow.PrimitiveTypes.Float32
	case value.KindF64:
		return arrow.PrimitiveTypes.Float64
	case value.KindString:
		return arrow.BinaryTypes.String
	case value.KindBytes:
		return arrow.BinaryTypes.Binary
	case value.KindTimestamp:
		return timestampType()
	case value.KindStruct:
		fields := make([]arrow.Field, len(t.Fields))
		for i, f := range t.Fields {
			fields[i] = arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: f.Nullable}
		}
		return arrow.StructOf(fields...)
	case value.KindList:
		return arrow.ListOfField(arrow.Field{
			Name:     "item",
			Type:     arrowType(t.Elem.Type),
			Nullable: t.Elem.Nullable,
		})
	case value.KindArray:
		return arrow.FixedSizeListOf(int32(t.Size), arrowType(t.Elem.Type))
	case value.KindMap:
		return arrow.MapOf(arrowType(t.Key.Type), arrowType(t.Val.Type))
	default:
		return arrow.Null
	}
}
