// Package export writes Arrow record batches to the supported output
// formats. Writers initialize lazily from the first record's schema, so a
// run that produced no batches can be detected at Close.
package export

import (
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
)

// ErrNoMessages is returned from Close when no record was ever written.
var ErrNoMessages = errors.New("no messages found")

// Formats lists the supported output formats.
var Formats = []string{"jsonl", "csv", "parquet"}

// Writer sinks record batches. Close must be called to flush and to flag
// empty runs.
type Writer interface {
	Write(rec arrow.Record) error
	Close() error
}

// New builds a writer for the format. The destination is any byte sink;
// requiring a real file path for parquet is the command layer's concern.
func New(format string, dst io.Writer) (Writer, error) {
	switch format {
	case "jsonl":
		return &jsonlWriter{dst: dst}, nil
	case "csv":
		return &csvWriter{dst: dst}, nil
	case "parquet":
		return &parquetWriter{dst: dst}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}

type jsonlWriter struct {
	dst   io.Writer
	wrote bool
}

func (w *jsonlWriter) Write(rec arrow.Record) error {
	w.wrote = true
	return array.RecordToJSON(rec, w.dst)
}

func (w *jsonlWriter) Close() error {
	if !w.wrote {
		return ErrNoMessages
	}
	return nil
}

type csvWriter struct {
	dst io.Writer
	cw  *csv.Writer
}

func (w *csvWriter) Write(rec arrow.Record) error {
	if w.cw == nil {
		w.cw = csv.NewWriter(w.dst, rec.Schema(),
			csv.WithHeader(true),
			csv.WithNullWriter(""),
		)
	}
	return w.cw.Write(rec)
}

func (w *csvWriter) Close() error {
	if w.cw == nil {
		return ErrNoMessages
	}
	return w.cw.Flush()
}

type parquetWriter struct {
	dst io.Writer
	fw  *pqarrow.FileWriter
}

func (w *parquetWriter) Write(rec arrow.Record) error {
	if w.fw == nil {
		props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Zstd))
		fw, err := pqarrow.NewFileWriter(rec.Schema(), w.dst, props, pqarrow.DefaultWriterProps())
		if err != nil {
			return fmt.Errorf("initializing parquet writer: %w", err)
		}
		w.fw = fw
	}
	return w.fw.Write(rec)
}

func (w *parquetWriter) Close() error {
	if w.fw == nil {
		return ErrNoMessages
	}
	return w.fw.Close()
}
