package columnar

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/transmcap/transmcap/pkg/value"
)

// BatchBuilder accumulates decoded messages into Arrow records following a
// plan. Not safe for concurrent use.
type BatchBuilder struct {
	plan *Plan
	rb   *array.RecordBuilder
	rows int
}

func NewBatchBuilder(plan *Plan, mem memory.Allocator) *BatchBuilder {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &BatchBuilder{plan: plan, rb: array.NewRecordBuilder(mem, plan.Schema())}
}

// Append adds one message row. Timestamps are container log/publish times
// in nanoseconds. The whole row is written or the builder is left dirty
// and the error is fatal for the conversion.
func (b *BatchBuilder) Append(logTime, publishTime uint64, v value.Value) error {
	b.rb.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(logTime))
	b.rb.Field(1).(*array.TimestampBuilder).Append(arrow.Timestamp(publishTime))
	for i, col := range b.plan.cols {
		cell, err := resolveCell(v, col)
		if err != nil {
			return err
		}
		if err := appendValue(b.rb.Field(i+2), col.Type, cell); err != nil {
			return fmt.Errorf("column %q: %w", col.Name, err)
		}
	}
	b.rows++
	return nil
}

func (b *BatchBuilder) Len() int { return b.rows }

// Record returns the accumulated rows as one record and resets the builder.
// The caller owns the record and must Release it.
func (b *BatchBuilder) Record() arrow.Record {
	b.rows = 0
	return b.rb.NewRecord()
}

func (b *BatchBuilder) Release() { b.rb.Release() }

// resolveCell walks the column's struct path into the row value and picks
// the flattened element if the column has one. A null anywhere on the path
// yields a null cell.
func resolveCell(v value.Value, col Column) (value.Value, error) {
	cur := v
	for _, idx := range col.path {
		if cur.IsNull() {
			return value.Null(), nil
		}
		fields, ok := cur.Fields()
		if !ok || idx >= len(fields) {
			return value.Null(), fmt.Errorf("column %q: row value does not match schema at %q", col.Name, col.src)
		}
		cur = fields[idx]
	}
	if col.elem < 0 {
		return cur, nil
	}
	if cur.IsNull() {
		return value.Null(), nil
	}
	elems, ok := cur.Elems()
	if !ok {
		return value.Null(), fmt.Errorf("column %q: expected a sequence at %q", col.Name, col.src)
	}
	if col.fixedLen > 0 && len(elems) != col.fixedLen {
		return value.Null(), fmt.Errorf("column %q: list at %q has %d elements, flatten-fixed expects %d",
			col.Name, col.src, len(elems), col.fixedLen)
	}
	if col.elem >= len(elems) {
		return value.Null(), fmt.Errorf("column %q: sequence at %q has %d elements, need index %d",
			col.Name, col.src, len(elems), col.elem)
	}
	return elems[col.elem], nil
}

func appendValue(b array.Builder, t value.Type, v value.Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	switch bld := b.(type) {
	case *array.BooleanBuilder:
		x, ok := v.AsBool()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.Int8Builder:
		x, ok := v.AsI8()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.Int16Builder:
		x, ok := v.AsI16()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.Int32Builder:
		x, ok := v.AsI32()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.Int64Builder:
		x, ok := v.AsI64()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.Uint8Builder:
		x, ok := v.AsU8()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.Uint16Builder:
		x, ok := v.AsU16()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.Uint32Builder:
		x, ok := v.AsU32()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.Uint64Builder:
		x, ok := v.AsU64()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.Float32Builder:
		x, ok := v.AsF32()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.Float64Builder:
		x, ok := v.AsF64()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.StringBuilder:
		x, ok := v.AsStr()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.BinaryBuilder:
		x, ok := v.AsBytes()
		return appendOK(ok, t, v, func() { bld.Append(x) })
	case *array.TimestampBuilder:
		x, ok := v.AsTimestamp()
		return appendOK(ok, t, v, func() { bld.Append(arrow.Timestamp(x)) })
	case *array.StructBuilder:
		return appendStruct(bld, t, v)
	case *array.ListBuilder:
		return appendSequence(bld, bld.ValueBuilder(), t, v)
	case *array.FixedSizeListBuilder:
		return appendSequence(bld, bld.ValueBuilder(), t, v)
	case *array.MapBuilder:
		return appendMap(bld, t, v)
	default:
		return fmt.Errorf("no builder mapping for %T", b)
	}
}

func appendOK(ok bool, t value.Type, v value.Value, do func()) error {
	if !ok {
		return fmt.Errorf("value kind %s does not match column type %s", v.Kind(), t.Kind)
	}
	do()
	return nil
}

func appendStruct(bld *array.StructBuilder, t value.Type, v value.Value) error {
	fields, ok := v.Fields()
	if !ok || len(fields) != len(t.Fields) {
		return fmt.Errorf("value kind %s does not match struct with %d fields", v.Kind(), len(t.Fields))
	}
	bld.Append(true)
	for i, f := range fields {
		if err := appendValue(bld.FieldBuilder(i), t.Fields[i].Type, f); err != nil {
			return fmt.Errorf("field %q: %w", t.Fields[i].Name, err)
		}
	}
	return nil
}

type seqBuilder interface {
	Append(bool)
}

func appendSequence(bld seqBuilder, elems array.Builder, t value.Type, v value.Value) error {
	vals, ok := v.Elems()
	if !ok {
		return fmt.Errorf("value kind %s is not a sequence", v.Kind())
	}
	if t.Kind == value.KindArray && len(vals) != t.Size {
		return fmt.Errorf("fixed array has %d elements, schema says %d", len(vals), t.Size)
	}
	bld.Append(true)
	for _, e := range vals {
		if err := appendValue(elems, t.Elem.Type, e); err != nil {
			return err
		}
	}
	return nil
}

func appendMap(bld *array.MapBuilder, t value.Type, v value.Value) error {
	entries, ok := v.Entries()
	if !ok {
		return fmt.Errorf("value kind %s is not a map", v.Kind())
	}
	bld.Append(true)
	for _, e := range entries {
		if err := appendValue(bld.KeyBuilder(), t.Key.Type, e.Key); err != nil {
			return err
		}
		if err := appendValue(bld.ItemBuilder(), t.Val.Type, e.Val); err != nil {
			return err
		}
	}
	return nil
}
