package mcap

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// decompressChunk expands a chunk's record stream and verifies the stored
// CRC when the writer recorded one. Supported codecs: "" (none), "zstd",
// "lz4".
func decompressChunk(ck *Chunk) ([]byte, error) {
	var records []byte
	switch ck.Compression {
	case "":
		records = ck.Records
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("initializing zstd decoder: %w", err)
		}
		defer dec.Close()
		records, err = dec.DecodeAll(ck.Records, make([]byte, 0, ck.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("decompressing zstd chunk: %w", err)
		}
	case "lz4":
		var err error
		records, err = io.ReadAll(lz4.NewReader(bytes.NewReader(ck.Records)))
		if err != nil {
			return nil, fmt.Errorf("decompressing lz4 chunk: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported chunk compression %q", ck.Compression)
	}
	if uint64(len(records)) != ck.UncompressedSize {
		return nil, fmt.Errorf("chunk decompressed to %d bytes, header says %d", len(records), ck.UncompressedSize)
	}
	if ck.UncompressedCRC != 0 {
		if got := crc32.ChecksumIEEE(records); got != ck.UncompressedCRC {
			return nil, fmt.Errorf("chunk CRC mismatch: computed %08x, stored %08x", got, ck.UncompressedCRC)
		}
	}
	return records, nil
}
