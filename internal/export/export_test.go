package export

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

func testRecord(t *testing.T) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "x", Type: arrow.PrimitiveTypes.Float64},
		{Name: "name", Type: arrow.BinaryTypes.String},
	}, nil)
	rb := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer rb.Release()
	rb.Field(0).(*array.Float64Builder).AppendValues([]float64{1.5, 2.5}, nil)
	rb.Field(1).(*array.StringBuilder).AppendValues([]string{"a", "b"}, nil)
	return rb.NewRecord()
}

func TestJSONL(t *testing.T) {
	var buf bytes.Buffer
	w, err := New("jsonl", &buf)
	if err != nil {
		t.Fatal(err)
	}
	rec := testRecord(t)
	defer rec.Release()
	if err := w.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	out := strings.TrimSpace(buf.String())
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], `"x":1.5`) || !strings.Contains(lines[1], `"name":"b"`) {
		t.Errorf("unexpected jsonl output:\n%s", out)
	}
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	w, err := New("csv", &buf)
	if err != nil {
		t.Fatal(err)
	}
	rec := testRecord(t)
	defer rec.Release()
	if err := w.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header + 2 rows:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "x") || !strings.Contains(lines[0], "name") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "1.5") {
		t.Errorf("row 1 = %q", lines[1])
	}
}

func TestParquet(t *testing.T) {
	var buf bytes.Buffer
	w, err := New("parquet", &buf)
	if err != nil {
		t.Fatal(err)
	}
	rec := testRecord(t)
	defer rec.Release()
	if err := w.Write(rec); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("PAR1")) {
		t.Errorf("output does not start with parquet magic: %x", buf.Bytes()[:8])
	}
	if !bytes.HasSuffix(buf.Bytes(), []byte("PAR1")) {
		t.Error("output does not end with parquet magic")
	}
}

func TestEmptyRunFailsAtClose(t *testing.T) {
	for _, format := range Formats {
		w, err := New(format, &bytes.Buffer{})
		if err != nil {
			t.Fatal(err)
		}
		if err := w.Close(); !errors.Is(err, ErrNoMessages) {
			t.Errorf("%s Close = %v, want ErrNoMessages", format, err)
		}
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := New("xml", &bytes.Buffer{}); err == nil {
		t.Fatal("unknown format should fail")
	}
}
