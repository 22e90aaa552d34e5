// Package mcap reads MCAP container files: the leading/trailing magic, the
// opcode-framed record stream, compressed chunks, and the optional summary
// section that enables indexed reading.
package mcap

import (
	"encoding/binary"
	"fmt"
)

// Magic brackets every container: it must open the file and close it,
// immediately after the footer record.
var Magic = []byte{0x89, 'M', 'C', 'A', 'P', '0', '\r', '\n'}

// Record opcodes. Unknown opcodes are skipped by their length field.
const (
	opHeader        = 0x01
	opFooter        = 0x02
	opSchema        = 0x03
	opChannel       = 0x04
	opMessage       = 0x05
	opChunk         = 0x06
	opMessageIndex  = 0x07
	opChunkIndex    = 0x08
	opAttachment    = 0x09
	opAttachmentIdx = 0x0A
	opStatistics    = 0x0B
	opMetadata      = 0x0C
	opMetadataIdx   = 0x0D
	opSummaryOffset = 0x0E
	opDataEnd       = 0x0F
)

type Header struct {
	Profile string
	Library string
}

type Footer struct {
	SummaryStart       uint64
	SummaryOffsetStart uint64
	SummaryCRC         uint32
}

// Schema describes how one channel's messages are encoded. ID 0 is
// reserved for "no schema".
type Schema struct {
	ID       uint16
	Name     string
	Encoding string
	Data     []byte
}

type Channel struct {
	ID              uint16
	SchemaID        uint16
	Topic           string
	MessageEncoding string
	Metadata        map[string]string
}

type Message struct {
	ChannelID   uint16
	Sequence    uint32
	LogTime     uint64
	PublishTime uint64
	Data        []byte
}

// Chunk is a compressed run of schema, channel, and message records.
type Chunk struct {
	MessageStartTime uint64
	MessageEndTime   uint64
	UncompressedSize uint64
	UncompressedCRC  uint32
	Compression      string
	Records          []byte // still compressed
}

// ChunkIndex locates one chunk from the summary section.
type ChunkIndex struct {
	MessageStartTime    uint64
	MessageEndTime      uint64
	ChunkStartOffset    uint64
	ChunkLength         uint64
	MessageIndexOffsets map[uint16]uint64
	MessageIndexLength  uint64
	Compression         string
	CompressedSize      uint64
	UncompressedSize    uint64
}

type Statistics struct {
	MessageCount         uint64
	SchemaCount          uint16
	ChannelCount         uint32
	AttachmentCount      uint32
	MetadataCount        uint32
	ChunkCount           uint32
	MessageStartTime     uint64
	MessageEndTime       uint64
	ChannelMessageCounts map[uint16]uint64
}

// cursor walks a record body. All integers are little-endian; strings and
// byte blobs carry a u32 length prefix.
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) u8() (uint8, error) {
	if c.remaining() < 1 {
		return 0, errShortRecord
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	if c.remaining() < 2 {
		return 0, errShortRecord
	}
	v := binary.LittleEndian.Uint16(c.buf[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.remaining() < 4 {
		return 0, errShortRecord
	}
	v := binary.LittleEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if c.remaining() < 8 {
		return 0, errShortRecord
	}
	v := binary.LittleEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if c.remaining() < n {
		return nil, errShortRecord
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *cursor) str() (string, error) {
	n, err := c.u32()
	if err != nil {
		return "", err
	}
	b, err := c.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *cursor) prefixedBytes() ([]byte, error) {
	n, err := c.u32()
	if err != nil {
		return nil, err
	}
	return c.bytes(int(n))
}

var errShortRecord = fmt.Errorf("record body truncated")

func parseHeader(body []byte) (*Header, error) {
	c := &cursor{buf: body}
	h := &Header{}
	var err error
	if h.Profile, err = c.str(); err != nil {
		return nil, err
	}
	if h.Library, err = c.str(); err != nil {
		return nil, err
	}
	return h, nil
}

func parseFooter(body []byte) (*Footer, error) {
	c := &cursor{buf: body}
	f := &Footer{}
	var err error
	if f.SummaryStart, err = c.u64(); err != nil {
		return nil, err
	}
	if f.SummaryOffsetStart, err = c.u64(); err != nil {
		return nil, err
	}
	if f.SummaryCRC, err = c.u32(); err != nil {
		return nil, err
	}
	return f, nil
}

func parseSchema(body []byte) (*Schema, error) {
	c := &cursor{buf: body}
	s := &Schema{}
	var err error
	if s.ID, err = c.u16(); err != nil {
		return nil, err
	}
	if s.Name, err = c.str(); err != nil {
		return nil, err
	}
	if s.Encoding, err = c.str(); err != nil {
		return nil, err
	}
	if s.Data, err = c.prefixedBytes(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseChannel(body []byte) (*Channel, error) {
	c := &cursor{buf: body}
	ch := &Channel{}
	var err error
	if ch.ID, err = c.u16(); err != nil {
		return nil, err
	}
	if ch.SchemaID, err = c.u16(); err != nil {
		return nil, err
	}
	if ch.Topic, err = c.str(); err != nil {
		return nil, err
	}
	if ch.MessageEncoding, err = c.str(); err != nil {
		return nil, err
	}
	meta, err := c.prefixedBytes()
	if err != nil {
		return nil, err
	}
	mc := &cursor{buf: meta}
	ch.Metadata = map[string]string{}
	for mc.remaining() > 0 {
		k, err := mc.str()
		if err != nil {
			return nil, err
		}
		v, err := mc.str()
		if err != nil {
			return nil, err
		}
		ch.Metadata[k] = v
	}
	return ch, nil
}

func parseMessage(body []byte) (*Message, error) {
	c := &cursor{buf: body}
	m := &Message{}
	var err error
	if m.ChannelID, err = c.u16(); err != nil {
		return nil, err
	}
	if m.Sequence, err = c.u32(); err != nil {
		return nil, err
	}
	if m.LogTime, err = c.u64(); err != nil {
		return nil, err
	}
	if m.PublishTime, err = c.u64(); err != nil {
		return nil, err
	}
	m.Data = c.buf[c.pos:]
	return m, nil
}

func parseChunk(body []byte) (*Chunk, error) {
	c := &cursor{buf: body}
	ck := &Chunk{}
	var err error
	if ck.MessageStartTime, err = c.u64(); err != nil {
		return nil, err
	}
	if ck.MessageEndTime, err = c.u64(); err != nil {
		return nil, err
	}
	if ck.UncompressedSize, err = c.u64(); err != nil {
		return nil, err
	}
	if ck.UncompressedCRC, err = c.u32(); err != nil {
		return nil, err
	}
	if ck.Compression, err = c.str(); err != nil {
		return nil, err
	}
	n, err := c.u64()
	if err != nil {
		return nil, err
	}
	if ck.Records, err = c.bytes(int(n)); err != nil {
		return nil, err
	}
	return ck, nil
}

func parseChunkIndex(body []byte) (*ChunkIndex, error) {
	c := &cursor{buf: body}
	ci := &ChunkIndex{}
	var err error
	if ci.MessageStartTime, err = c.u64(); err != nil {
		return nil, err
	}
	if ci.MessageEndTime, err = c.u64(); err != nil {
		return nil, err
	}
	if ci.ChunkStartOffset, err = c.u64(); err != nil {
		return nil, err
	}
	if ci.ChunkLength, err = c.u64(); err != nil {
		return nil, err
	}
	offsets, err := c.prefixedBytes()
	if err != nil {
		return nil, err
	}
	oc := &cursor{buf: offsets}
	ci.MessageIndexOffsets = map[uint16]uint64{}
	for oc.remaining() > 0 {
		id, err := oc.u16()
		if err != nil {
			return nil, err
		}
		off, err := oc.u64()
		if err != nil {
			return nil, err
		}
		ci.MessageIndexOffsets[id] = off
	}
	if ci.MessageIndexLength, err = c.u64(); err != nil {
		return nil, err
	}
	if ci.Compression, err = c.str(); err != nil {
		return nil, err
	}
	if ci.CompressedSize, err = c.u64(); err != nil {
		return nil, err
	}
	if ci.UncompressedSize, err = c.u64(); err != nil {
		return nil, err
	}
	return ci, nil
}

func parseStatistics(body []byte) (*Statistics, error) {
	c := &cursor{buf: body}
	st := &Statistics{}
	var err error
	if st.MessageCount, err = c.u64(); err != nil {
		return nil, err
	}
	if st.SchemaCount, err = c.u16(); err != nil {
		return nil, err
	}
	if st.ChannelCount, err = c.u32(); err != nil {
		return nil, err
	}
	if st.AttachmentCount, err = c.u32(); err != nil {
		return nil, err
	}
	if st.MetadataCount, err = c.u32(); err != nil {
		return nil, err
	}
	if st.ChunkCount, err = c.u32(); err != nil {
		return nil, err
	}
	if st.MessageStartTime, err = c.u64(); err != nil {
		return nil, err
	}
	if st.MessageEndTime, err = c.u64(); err != nil {
		return nil, err
	}
	counts, err := c.prefixedBytes()
	if err != nil {
		return nil, err
	}
	cc := &cursor{buf: counts}
	st.ChannelMessageCounts = map[uint16]uint64{}
	for cc.remaining() > 0 {
		id, err := cc.u16()
		if err != nil {
			return nil, err
		}
		n, err := cc.u64()
		if err != nil {
			return nil, err
		}
		st.ChannelMessageCounts[id] = n
	}
	return st, nil
}
