package columnar

import (
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/transmcap/transmcap/pkg/value"
)

func TestBatchBuilderStructFlatten(t *testing.T) {
	fields := []value.Field{
		{Name: "x", Type: value.ScalarType(value.KindF64)},
		{Name: "nested", Type: value.StructType([]value.Field{
			{Name: "y", Type: value.ScalarType(value.KindI32)},
		})},
	}
	p, err := NewPlan(fields, Policy{Structs: StructFlatten})
	if err != nil {
		t.Fatal(err)
	}
	b := NewBatchBuilder(p, memory.DefaultAllocator)
	defer b.Release()

	rows := []struct {
		x float64
		y int32
	}{{1.5, 10}, {2.5, 20}}
	for i, row := range rows {
		v := value.Struct([]value.Value{
			value.F64(row.x),
			value.Struct([]value.Value{value.I32(row.y)}),
		})
		if err := b.Append(uint64(100+i), uint64(90+i), v); err != nil {
			t.Fatalf("Append row %d: %v", i, err)
		}
	}
	if b.Len() != 2 {
		t.Fatalf("Len = %d", b.Len())
	}
	rec := b.Record()
	defer rec.Release()

	if rec.NumRows() != 2 || rec.NumCols() != 4 {
		t.Fatalf("record %dx%d, want 2x4", rec.NumRows(), rec.NumCols())
	}
	logTimes := rec.Column(0).(*array.Timestamp)
	if int64(logTimes.Value(1)) != 101 {
		t.Errorf("@log_time[1] = %d", logTimes.Value(1))
	}
	xs := rec.Column(2).(*array.Float64)
	ys := rec.Column(3).(*array.Int32)
	if xs.Value(0) != 1.5 || ys.Value(1) != 20 {
		t.Errorf("data columns = %v, %v", xs, ys)
	}
	if b.Len() != 0 {
		t.Error("Record should reset the row count")
	}
}

func TestBatchBuilderFlattenFixed(t *testing.T) {
	fields := []value.Field{
		{Name: "xs", Type: value.ListType(value.Element{Type: value.ScalarType(value.KindF32)})},
	}
	p, err := NewPlan(fields, Policy{Lists: ListFlattenFixed, ListFlattenSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	b := NewBatchBuilder(p, nil)
	defer b.Release()

	good := value.Struct([]value.Value{value.List([]value.Value{value.F32(1), value.F32(2)})})
	if err := b.Append(1, 1, good); err != nil {
		t.Fatalf("Append: %v", err)
	}

	short := value.Struct([]value.Value{value.List([]value.Value{value.F32(1)})})
	err = b.Append(2, 2, short)
	if err == nil || !strings.Contains(err.Error(), "flatten-fixed expects 2") {
		t.Fatalf("err = %v, want fixed-length violation", err)
	}
}

func TestBatchBuilderKeepColumns(t *testing.T) {
	fields := []value.Field{
		{Name: "tags", Type: value.ListType(value.Element{Type: value.ScalarType(value.KindString)})},
		{Name: "grid", Type: value.ArrayType(value.Element{Type: value.ScalarType(value.KindU8)}, 2)},
		{Name: "attrs", Type: value.MapType(
			value.Element{Type: value.ScalarType(value.KindString)},
			value.Element{Type: value.ScalarType(value.KindI32)},
		)},
	}
	p, err := NewPlan(fields, Policy{Lists: ListKeep, Arrays: ArrayKeep, Maps: MapKeep})
	if err != nil {
		t.Fatal(err)
	}
	b := NewBatchBuilder(p, nil)
	defer b.Release()

	v := value.Struct([]value.Value{
		value.List([]value.Value{value.Str("a"), value.Str("b")}),
		value.Array([]value.Value{value.U8(7), value.U8(8)}),
		value.Map([]value.Pair{{Key: value.Str("k"), Val: value.I32(1)}}),
	})
	if err := b.Append(5, 5, v); err != nil {
		t.Fatalf("Append: %v", err)
	}
	rec := b.Record()
	defer rec.Release()

	tags := rec.Column(2).(*array.List)
	if tags.Len() != 1 {
		t.Fatalf("tags rows = %d", tags.Len())
	}
	strs := tags.ListValues().(*array.String)
	if strs.Value(0) != "a" || strs.Value(1) != "b" {
		t.Errorf("tags values = %v", strs)
	}
	grid := rec.Column(3).(*array.FixedSizeList)
	bytesCol := grid.ListValues().(*array.Uint8)
	if bytesCol.Value(1) != 8 {
		t.Errorf("grid values = %v", bytesCol)
	}
	attrs := rec.Column(4).(*array.Map)
	if attrs.Len() != 1 {
		t.Errorf("attrs rows = %d", attrs.Len())
	}
}

func TestBatchBuilderNullableCell(t *testing.T) {
	fields := []value.Field{
		{Name: "pos", Type: value.StructType([]value.Field{
			{Name: "x", Type: value.ScalarType(value.KindF64)},
		}), Nullable: true},
	}
	p, err := NewPlan(fields, Policy{Structs: StructFlatten})
	if err != nil {
		t.Fatal(err)
	}
	b := NewBatchBuilder(p, nil)
	defer b.Release()

	if err := b.Append(1, 1, value.Struct([]value.Value{value.Null()})); err != nil {
		t.Fatalf("Append null: %v", err)
	}
	if err := b.Append(2, 2, value.Struct([]value.Value{
		value.Struct([]value.Value{value.F64(9)}),
	})); err != nil {
		t.Fatalf("Append set: %v", err)
	}
	rec := b.Record()
	defer rec.Release()

	col := rec.Column(2).(*array.Float64)
	if !col.IsNull(0) {
		t.Error("row 0 should be null")
	}
	if col.Value(1) != 9 {
		t.Errorf("row 1 = %f", col.Value(1))
	}
}

func TestBatchBuilderKindMismatch(t *testing.T) {
	fields := []value.Field{{Name: "x", Type: value.ScalarType(value.KindI32)}}
	p, err := NewPlan(fields, Policy{})
	if err != nil {
		t.Fatal(err)
	}
	b := NewBatchBuilder(p, nil)
	defer b.Release()

	err = b.Append(1, 1, value.Struct([]value.Value{value.Str("oops")}))
	if err == nil || !strings.Contains(err.Error(), `column "x"`) {
		t.Fatalf("err = %v, want mismatch naming the column", err)
	}
}
