// Package mcaptest builds small container files for tests: chunked or
// unchunked, with any supported compression, with or without a summary
// section. It mirrors the read path in internal/mcap the way httptest
// mirrors net/http.
package mcaptest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

var magic = []byte{0x89, 'M', 'C', 'A', 'P', '0', '\r', '\n'}

const (
	opHeader     = 0x01
	opFooter     = 0x02
	opSchema     = 0x03
	opChannel    = 0x04
	opMessage    = 0x05
	opChunk      = 0x06
	opChunkIndex = 0x08
	opStatistics = 0x0B
	opDataEnd    = 0x0F
)

// Options configure the file layout.
type Options struct {
	// Chunked wraps all schema, channel, and message records in one chunk.
	Chunked bool
	// ChunkChannels writes schema and channel records plain, then one
	// chunk per listed channel holding its messages, each with a chunk
	// index carrying message index offsets for that channel. Messages on
	// unlisted channels are written outside any chunk, after the chunks.
	// Overrides Chunked.
	ChunkChannels []uint16
	// Compression is the chunk codec: "", "zstd", or "lz4".
	Compression string
	// Summary appends a summary section (schemas, channels, statistics,
	// and chunk indexes when chunked) referenced from the footer.
	Summary bool
}

type schemaRec struct {
	id             uint16
	name, encoding string
	data           []byte
}

type channelRec struct {
	id, schemaID    uint16
	topic, encoding string
}

type messageRec struct {
	channelID            uint16
	sequence             uint32
	logTime, publishTime uint64
	payload              []byte
}

// Writer accumulates records and serializes the container in Bytes.
type Writer struct {
	opts     Options
	profile  string
	library  string
	schemas  []schemaRec
	channels []channelRec
	messages []messageRec
}

func NewWriter(opts Options) *Writer {
	return &Writer{opts: opts, profile: "", library: "transmcap-test"}
}

func (w *Writer) Header(profile, library string) {
	w.profile, w.library = profile, library
}

func (w *Writer) Schema(id uint16, name, encoding string, data []byte) {
	w.schemas = append(w.schemas, schemaRec{id: id, name: name, encoding: encoding, data: data})
}

func (w *Writer) Channel(id, schemaID uint16, topic, messageEncoding string) {
	w.channels = append(w.channels, channelRec{id: id, schemaID: schemaID, topic: topic, encoding: messageEncoding})
}

func (w *Writer) Message(channelID uint16, sequence uint32, logTime, publishTime uint64, payload []byte) {
	w.messages = append(w.messages, messageRec{
		channelID: channelID, sequence: sequence,
		logTime: logTime, publishTime: publishTime, payload: payload,
	})
}

// Bytes serializes the container.
func (w *Writer) Bytes() ([]byte, error) {
	var out bytes.Buffer
	out.Write(magic)
	writeRecord(&out, opHeader, headerBody(w.profile, w.library))

	var chunkIndexes [][]byte
	switch {
	case len(w.opts.ChunkChannels) > 0:
		for _, s := range w.schemas {
			writeRecord(&out, opSchema, schemaBody(s))
		}
		for _, c := range w.channels {
			writeRecord(&out, opChannel, channelBody(c))
		}
		chunked := map[uint16]bool{}
		for _, id := range w.opts.ChunkChannels {
			chunked[id] = true
			var records bytes.Buffer
			for _, m := range w.messages {
				if m.channelID == id {
					writeRecord(&records, opMessage, messageBody(m))
				}
			}
			compressed, err := compress(w.opts.Compression, records.Bytes())
			if err != nil {
				return nil, err
			}
			chunkOffset := uint64(out.Len())
			writeRecord(&out, opChunk, w.chunkBody(records.Bytes(), compressed))
			chunkLength := uint64(out.Len()) - chunkOffset
			chunkIndexes = append(chunkIndexes,
				w.chunkIndexBody(chunkOffset, chunkLength, uint64(len(compressed)), uint64(records.Len()), []uint16{id}))
		}
		for _, m := range w.messages {
			if !chunked[m.channelID] {
				writeRecord(&out, opMessage, messageBody(m))
			}
		}
	case w.opts.Chunked:
		var records bytes.Buffer
		w.writeData(&records)
		compressed, err := compress(w.opts.Compression, records.Bytes())
		if err != nil {
			return nil, err
		}
		chunkOffset := uint64(out.Len())
		writeRecord(&out, opChunk, w.chunkBody(records.Bytes(), compressed))
		chunkLength := uint64(out.Len()) - chunkOffset
		chunkIndexes = append(chunkIndexes,
			w.chunkIndexBody(chunkOffset, chunkLength, uint64(len(compressed)), uint64(records.Len()), nil))
	default:
		w.writeData(&out)
	}
	writeRecord(&out, opDataEnd, make([]byte, 4)) // data section CRC, unset

	summaryStart := uint64(0)
	if w.opts.Summary {
		summaryStart = uint64(out.Len())
		for _, s := range w.schemas {
			writeRecord(&out, opSchema, schemaBody(s))
		}
		for _, c := range w.channels {
			writeRecord(&out, opChannel, channelBody(c))
		}
		for _, ci := range chunkIndexes {
			writeRecord(&out, opChunkIndex, ci)
		}
		writeRecord(&out, opStatistics, w.statisticsBody())
	}

	footer := make([]byte, 20)
	binary.LittleEndian.PutUint64(footer, summaryStart)
	writeRecord(&out, opFooter, footer)
	out.Write(magic)
	return out.Bytes(), nil
}

func (w *Writer) writeData(dst *bytes.Buffer) {
	for _, s := range w.schemas {
		writeRecord(dst, opSchema, schemaBody(s))
	}
	for _, c := range w.channels {
		writeRecord(dst, opChannel, channelBody(c))
	}
	for _, m := range w.messages {
		writeRecord(dst, opMessage, messageBody(m))
	}
}

func (w *Writer) timeRange() (start, end uint64) {
	for i, m := range w.messages {
		if i == 0 || m.logTime < start {
			start = m.logTime
		}
		if m.logTime > end {
			end = m.logTime
		}
	}
	return start, end
}

func (w *Writer) chunkBody(records, compressed []byte) []byte {
	start, end := w.timeRange()
	var b body
	b.u64(start)
	b.u64(end)
	b.u64(uint64(len(records)))
	b.u32(crc32.ChecksumIEEE(records))
	b.str(w.opts.Compression)
	b.u64(uint64(len(compressed)))
	b.raw(compressed)
	return b.buf
}

// chunkIndexBody serializes a chunk index. channels lists the channel IDs
// recorded as message index offsets; the offsets themselves are zero since
// no message index records are written.
func (w *Writer) chunkIndexBody(offset, length, compressedSize, uncompressedSize uint64, channels []uint16) []byte {
	start, end := w.timeRange()
	var b body
	b.u64(start)
	b.u64(end)
	b.u64(offset)
	b.u64(length)
	b.u32(uint32(len(channels) * 10))
	for _, id := range channels {
		b.u16(id)
		b.u64(0)
	}
	b.u64(0) // message index length
	b.str(w.opts.Compression)
	b.u64(compressedSize)
	b.u64(uncompressedSize)
	return b.buf
}

func (w *Writer) statisticsBody() []byte {
	counts := map[uint16]uint64{}
	for _, m := range w.messages {
		counts[m.channelID]++
	}
	start, end := w.timeRange()
	var b body
	b.u64(uint64(len(w.messages)))
	b.u16(uint16(len(w.schemas)))
	b.u32(uint32(len(w.channels)))
	b.u32(0) // attachments
	b.u32(0) // metadata
	switch {
	case len(w.opts.ChunkChannels) > 0:
		b.u32(uint32(len(w.opts.ChunkChannels)))
	case w.opts.Chunked:
		b.u32(1)
	default:
		b.u32(0)
	}
	b.u64(start)
	b.u64(end)
	var cb body
	for _, c := range w.channels {
		cb.u16(c.id)
		cb.u64(counts[c.id])
	}
	b.u32(uint32(len(cb.buf)))
	b.raw(cb.buf)
	return b.buf
}

func compress(codec string, data []byte) ([]byte, error) {
	switch codec {
	case "":
		return data, nil
	case "zstd":
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case "lz4":
		var buf bytes.Buffer
		lw := lz4.NewWriter(&buf)
		if _, err := lw.Write(data); err != nil {
			return nil, err
		}
		if err := lw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", codec)
	}
}

func headerBody(profile, library string) []byte {
	var b body
	b.str(profile)
	b.str(library)
	return b.buf
}

func schemaBody(s schemaRec) []byte {
	var b body
	b.u16(s.id)
	b.str(s.name)
	b.str(s.encoding)
	b.u32(uint32(len(s.data)))
	b.raw(s.data)
	return b.buf
}

func channelBody(c channelRec) []byte {
	var b body
	b.u16(c.id)
	b.u16(c.schemaID)
	b.str(c.topic)
	b.str(c.encoding)
	b.u32(0) // empty metadata map
	return b.buf
}

func messageBody(m messageRec) []byte {
	var b body
	b.u16(m.channelID)
	b.u32(m.sequence)
	b.u64(m.logTime)
	b.u64(m.publishTime)
	b.raw(m.payload)
	return b.buf
}

func writeRecord(dst *bytes.Buffer, op byte, recBody []byte) {
	dst.WriteByte(op)
	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(len(recBody)))
	dst.Write(length[:])
	dst.Write(recBody)
}

type body struct {
	buf []byte
}

func (b *body) u16(v uint16) { b.buf = binary.LittleEndian.AppendUint16(b.buf, v) }
func (b *body) u32(v uint32) { b.buf = binary.LittleEndian.AppendUint32(b.buf, v) }
func (b *body) u64(v uint64) { b.buf = binary.LittleEndian.AppendUint64(b.buf, v) }
func (b *body) raw(p []byte) { b.buf = append(b.buf, p...) }
func (b *body) str(s string) {
	b.u32(uint32(len(s)))
	b.buf = append(b.buf, s...)
}
