package columnar

import (
	"errors"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/transmcap/transmcap/pkg/value"
)

func TestDefaultPolicyMatrix(t *testing.T) {
	jsonl, err := DefaultPolicy("jsonl")
	if err != nil {
		t.Fatal(err)
	}
	if jsonl.Lists != ListKeep || jsonl.Arrays != ArrayKeep || jsonl.Maps != MapKeep || jsonl.Structs != StructKeep {
		t.Errorf("jsonl defaults = %+v", jsonl)
	}
	csv, err := DefaultPolicy("csv")
	if err != nil {
		t.Fatal(err)
	}
	if csv.Lists != ListDrop || csv.Arrays != ArrayDrop || csv.Maps != MapDrop || csv.Structs != StructFlatten {
		t.Errorf("csv defaults = %+v", csv)
	}
	parquet, err := DefaultPolicy("parquet")
	if err != nil {
		t.Fatal(err)
	}
	if parquet.Lists != ListKeep || parquet.Arrays != ArrayKeep || parquet.Maps != MapKeep || parquet.Structs != StructFlatten {
		t.Errorf("parquet defaults = %+v", parquet)
	}
	if _, err := DefaultPolicy("xml"); err == nil {
		t.Error("unknown format should fail")
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := (Policy{Lists: ListFlattenFixed}).Validate(); err == nil {
		t.Error("flatten-fixed without size should fail")
	}
	if err := (Policy{Lists: ListKeep, ListFlattenSize: 4}).Validate(); err == nil {
		t.Error("size without flatten-fixed should fail")
	}
	if err := (Policy{Lists: ListFlattenFixed, ListFlattenSize: 4}).Validate(); err != nil {
		t.Errorf("valid policy rejected: %v", err)
	}
}

func TestPlanStructFlatten(t *testing.T) {
	fields := []value.Field{
		{Name: "x", Type: value.ScalarType(value.KindF64)},
		{Name: "nested", Type: value.StructType([]value.Field{
			{Name: "y", Type: value.ScalarType(value.KindI32)},
			{Name: "deep", Type: value.StructType([]value.Field{
				{Name: "z", Type: value.ScalarType(value.KindString)},
			})},
		})},
	}
	p, err := NewPlan(fields, Policy{Structs: StructFlatten, Lists: ListKeep, Arrays: ArrayKeep, Maps: MapKeep})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	var names []string
	for _, c := range p.Columns() {
		names = append(names, c.Name)
	}
	want := []string{"x", "nested.y", "nested.deep.z"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("columns = %v, want %v", names, want)
	}
}

func TestPlanListFlattenFixed(t *testing.T) {
	fields := []value.Field{
		{Name: "xs", Type: value.ListType(value.Element{Type: value.ScalarType(value.KindF32)})},
	}
	p, err := NewPlan(fields, Policy{Lists: ListFlattenFixed, ListFlattenSize: 3})
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	cols := p.Columns()
	if len(cols) != 3 {
		t.Fatalf("columns = %d, want 3", len(cols))
	}
	if cols[0].Name != "xs.0" || cols[2].Name != "xs.2" {
		t.Errorf("names = %q .. %q", cols[0].Name, cols[2].Name)
	}
	if cols[1].Type.Kind != value.KindF32 {
		t.Errorf("element type = %s", cols[1].Type.Kind)
	}
}

func TestPlanArrayFlattenUsesSchemaSize(t *testing.T) {
	fields := []value.Field{
		{Name: "grid", Type: value.ArrayType(value.Element{Type: value.ScalarType(value.KindF64)}, 4)},
	}
	p, err := NewPlan(fields, Policy{Arrays: ArrayFlatten})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Columns()) != 4 {
		t.Errorf("columns = %d, want 4", len(p.Columns()))
	}
}

func TestPlanDropPolicies(t *testing.T) {
	fields := []value.Field{
		{Name: "xs", Type: value.ListType(value.Element{Type: value.ScalarType(value.KindF32)})},
		{Name: "m", Type: value.MapType(
			value.Element{Type: value.ScalarType(value.KindString)},
			value.Element{Type: value.ScalarType(value.KindI32)},
		)},
		{Name: "kept", Type: value.ScalarType(value.KindBool)},
	}
	p, err := NewPlan(fields, Policy{Lists: ListDrop, Maps: MapDrop})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Columns()) != 1 || p.Columns()[0].Name != "kept" {
		t.Errorf("columns = %+v", p.Columns())
	}
}

func TestPlanCollision(t *testing.T) {
	fields := []value.Field{
		{Name: "a.b", Type: value.ScalarType(value.KindI32)},
		{Name: "a", Type: value.StructType([]value.Field{
			{Name: "b", Type: value.ScalarType(value.KindI32)},
		})},
	}
	_, err := NewPlan(fields, Policy{Structs: StructFlatten})
	var ce *CollisionError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CollisionError", err)
	}
	if ce.Name != "a.b" {
		t.Errorf("colliding name = %q, want %q", ce.Name, "a.b")
	}
	if !strings.Contains(err.Error(), "produced by both") {
		t.Errorf("collision should name both sources: %v", err)
	}
}

func TestPlanReservedNameCollision(t *testing.T) {
	fields := []value.Field{
		{Name: "@log_time", Type: value.ScalarType(value.KindI64)},
	}
	_, err := NewPlan(fields, Policy{})
	if err == nil || !strings.Contains(err.Error(), "@log_time") {
		t.Fatalf("err = %v, want reserved-name collision", err)
	}
}

func TestPlanSchemaLeadsWithTimestamps(t *testing.T) {
	fields := []value.Field{{Name: "x", Type: value.ScalarType(value.KindF64)}}
	p, err := NewPlan(fields, Policy{})
	if err != nil {
		t.Fatal(err)
	}
	s := p.Schema()
	if s.NumFields() != 3 {
		t.Fatalf("schema fields = %d, want 3", s.NumFields())
	}
	for i, name := range []string{ColLogTime, ColPublishTime} {
		f := s.Field(i)
		if f.Name != name {
			t.Errorf("field %d = %q, want %q", i, f.Name, name)
		}
		ts, ok := f.Type.(*arrow.TimestampType)
		if !ok || ts.Unit != arrow.Nanosecond || ts.TimeZone != "UTC" {
			t.Errorf("field %d type = %v, want ns UTC timestamp", i, f.Type)
		}
	}
}
