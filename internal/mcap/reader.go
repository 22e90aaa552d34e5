package mcap

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/transmcap/transmcap/internal/logger"
)

// MessageFunc receives each message with its channel and schema. schema is
// nil for schema-less channels (schema ID 0). Returning an error stops the
// iteration and propagates unchanged.
type MessageFunc func(schema *Schema, channel *Channel, msg *Message) error

// Reader reads one container. When the file carries a summary section with
// chunk indexes, messages are read through the indexes; otherwise the data
// section is scanned record by record. Both paths yield messages in file
// order, so the choice is invisible to callers.
type Reader struct {
	rs   io.ReadSeeker
	size int64
	log  zerolog.Logger

	header  *Header
	footer  *Footer
	summary *summary
}

type summary struct {
	schemas      map[uint16]*Schema
	channels     map[uint16]*Channel
	chunkIndexes []*ChunkIndex
	stats        *Statistics
}

// footer record: opcode + u64 length + 20-byte body
const footerRecordSize = 1 + 8 + 20

// ErrBadMagic reports a file that is not a container at all.
var ErrBadMagic = errors.New("invalid magic")

// NewReader validates the magic at both ends, parses the footer, and loads
// the summary section when one is present.
func NewReader(rs io.ReadSeeker) (*Reader, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("sizing container: %w", err)
	}
	r := &Reader{rs: rs, size: size, log: logger.Get("mcap")}
	if err := r.checkMagic(); err != nil {
		return nil, err
	}
	if err := r.readFooter(); err != nil {
		return nil, err
	}
	if err := r.loadSummary(); err != nil {
		return nil, err
	}
	if r.summary != nil {
		r.log.Debug().
			Int("chunk_indexes", len(r.summary.chunkIndexes)).
			Int("channels", len(r.summary.channels)).
			Msg("loaded summary section")
	} else {
		r.log.Debug().Msg("no summary section, reads will scan the data section")
	}
	return r, nil
}

func (r *Reader) checkMagic() error {
	if r.size < int64(2*len(Magic)+footerRecordSize) {
		return fmt.Errorf("container too small: %d bytes", r.size)
	}
	head := make([]byte, len(Magic))
	if _, err := r.rs.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(r.rs, head); err != nil {
		return fmt.Errorf("reading leading magic: %w", err)
	}
	if !bytes.Equal(head, Magic) {
		return fmt.Errorf("%w: leading bytes %x", ErrBadMagic, head)
	}
	tail := make([]byte, len(Magic))
	if _, err := r.rs.Seek(r.size-int64(len(Magic)), io.SeekStart); err != nil {
		return err
	}
	if _, err := io.ReadFull(r.rs, tail); err != nil {
		return fmt.Errorf("reading trailing magic: %w", err)
	}
	if !bytes.Equal(tail, Magic) {
		return fmt.Errorf("%w: trailing bytes %x", ErrBadMagic, tail)
	}
	return nil
}

func (r *Reader) readFooter() error {
	off := r.size - int64(len(Magic)) - footerRecordSize
	if _, err := r.rs.Seek(off, io.SeekStart); err != nil {
		return err
	}
	op, body, err := readRecord(r.rs)
	if err != nil {
		return fmt.Errorf("reading footer record: %w", err)
	}
	if op != opFooter {
		return fmt.Errorf("expected footer record before trailing magic, got opcode 0x%02x", op)
	}
	r.footer, err = parseFooter(body)
	return err
}

// loadSummary reads the records between the footer's summary start offset
// and the footer record itself.
func (r *Reader) loadSummary() error {
	if r.footer.SummaryStart == 0 {
		return nil
	}
	end := r.size - int64(len(Magic)) - footerRecordSize
	if int64(r.footer.SummaryStart) >= end {
		return fmt.Errorf("summary start %d beyond footer at %d", r.footer.SummaryStart, end)
	}
	if _, err := r.rs.Seek(int64(r.footer.SummaryStart), io.SeekStart); err != nil {
		return err
	}
	br := bufio.NewReader(io.LimitReader(r.rs, end-int64(r.footer.SummaryStart)))
	s := &summary{
		schemas:  map[uint16]*Schema{},
		channels: map[uint16]*Channel{},
	}
	for {
		op, body, err := readRecord(br)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading summary section: %w", err)
		}
		switch op {
		case opSchema:
			sch, err := parseSchema(body)
			if err != nil {
				return fmt.Errorf("parsing summary schema: %w", err)
			}
			s.schemas[sch.ID] = sch
		case opChannel:
			ch, err := parseChannel(body)
			if err != nil {
				return fmt.Errorf("parsing summary channel: %w", err)
			}
			s.channels[ch.ID] = ch
		case opChunkIndex:
			ci, err := parseChunkIndex(body)
			if err != nil {
				return fmt.Errorf("parsing chunk index: %w", err)
			}
			s.chunkIndexes = append(s.chunkIndexes, ci)
		case opStatistics:
			st, err := parseStatistics(body)
			if err != nil {
				return fmt.Errorf("parsing statistics: %w", err)
			}
			s.stats = st
		default:
			// summary offsets and anything newer are not needed
		}
	}
	r.summary = s
	return nil
}

// Header returns the header record, reading it lazily on first use.
func (r *Reader) Header() (*Header, error) {
	if r.header != nil {
		return r.header, nil
	}
	if _, err := r.rs.Seek(int64(len(Magic)), io.SeekStart); err != nil {
		return nil, err
	}
	op, body, err := readRecord(r.rs)
	if err != nil {
		return nil, fmt.Errorf("reading header record: %w", err)
	}
	if op != opHeader {
		return nil, fmt.Errorf("expected header record after magic, got opcode 0x%02x", op)
	}
	r.header, err = parseHeader(body)
	return r.header, err
}

// Indexed reports whether messages will be read through chunk indexes.
func (r *Reader) Indexed() bool {
	return r.summary != nil && len(r.summary.chunkIndexes) > 0
}

// Statistics returns the summary statistics record, or nil when the
// container has none.
func (r *Reader) Statistics() *Statistics {
	if r.summary == nil {
		return nil
	}
	return r.summary.stats
}

// ForEachMessage iterates messages in file order. topics filters by topic
// name; nil means all topics. A topic with no matching channel simply
// yields nothing.
func (r *Reader) ForEachMessage(topics []string, fn MessageFunc) error {
	var filter map[string]bool
	if topics != nil {
		filter = make(map[string]bool, len(topics))
		for _, t := range topics {
			filter[t] = true
		}
	}
	if r.Indexed() {
		return r.forEachIndexed(filter, fn)
	}
	return r.forEachSequential(filter, fn)
}

// forEachIndexed walks the data section record by record, using the chunk
// indexes to seek past chunks whose message indexes name no matching
// channel. Messages recorded outside chunks are dispatched like any other
// record, so a mixed chunked/unchunked layout reads the same as it does
// sequentially.
func (r *Reader) forEachIndexed(filter map[string]bool, fn MessageFunc) error {
	st := newScanState()
	for id, sch := range r.summary.schemas {
		st.schemas[id] = sch
	}
	for id, ch := range r.summary.channels {
		st.channels[id] = ch
	}

	// A chunk index without message index offsets says nothing about the
	// chunk's channels, so only indexed chunks can be skipped.
	skip := map[uint64]bool{}
	if filter != nil {
		wanted := map[uint16]bool{}
		for id, ch := range r.summary.channels {
			if filter[ch.Topic] {
				wanted[id] = true
			}
		}
		for _, ci := range r.summary.chunkIndexes {
			if len(ci.MessageIndexOffsets) == 0 {
				continue
			}
			match := false
			for id := range ci.MessageIndexOffsets {
				if wanted[id] {
					match = true
					break
				}
			}
			if !match {
				skip[ci.ChunkStartOffset] = true
			}
		}
	}

	pos := int64(len(Magic))
	if _, err := r.rs.Seek(pos, io.SeekStart); err != nil {
		return err
	}
	for {
		op, length, err := readRecordHeader(r.rs)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("scanning data section: %w", err)
		}
		switch {
		case op == opDataEnd || op == opFooter:
			return nil
		case op == opChunk && skip[uint64(pos)]:
			if _, err := r.rs.Seek(length, io.SeekCurrent); err != nil {
				return err
			}
		default:
			var body bytes.Buffer
			if n, err := io.CopyN(&body, r.rs, length); err != nil {
				if errors.Is(err, io.EOF) && n < length {
					err = io.ErrUnexpectedEOF
				}
				return fmt.Errorf("record 0x%02x at offset %d: %w", op, pos, err)
			}
			if op == opChunk {
				ck, err := parseChunk(body.Bytes())
				if err != nil {
					return fmt.Errorf("parsing chunk at offset %d: %w", pos, err)
				}
				if err := r.scanChunk(ck, st, filter, fn); err != nil {
					return err
				}
			} else if err := st.record(op, body.Bytes(), filter, fn); err != nil {
				return err
			}
		}
		pos += 9 + length
	}
}

// readRecordHeader reads the opcode and body length, leaving the body
// unread so callers can skip it with a seek.
func readRecordHeader(r io.Reader) (uint8, int64, error) {
	var head [9]byte
	if _, err := io.ReadFull(r, head[:1]); err != nil {
		return 0, 0, err
	}
	if _, err := io.ReadFull(r, head[1:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, 0, err
	}
	length := int64(binary.LittleEndian.Uint64(head[1:]))
	if length < 0 {
		return 0, 0, fmt.Errorf("record length overflows: opcode 0x%02x", head[0])
	}
	return head[0], length, nil
}

func (r *Reader) forEachSequential(filter map[string]bool, fn MessageFunc) error {
	if _, err := r.rs.Seek(int64(len(Magic)), io.SeekStart); err != nil {
		return err
	}
	br := bufio.NewReaderSize(r.rs, 1<<16)
	st := newScanState()
	for {
		op, body, err := readRecord(br)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("scanning data section: %w", err)
		}
		switch op {
		case opDataEnd, opFooter:
			return nil
		case opChunk:
			ck, err := parseChunk(body)
			if err != nil {
				return fmt.Errorf("parsing chunk: %w", err)
			}
			if err := r.scanChunk(ck, st, filter, fn); err != nil {
				return err
			}
		default:
			if err := st.record(op, body, filter, fn); err != nil {
				return err
			}
		}
	}
}

func (r *Reader) scanChunk(ck *Chunk, st *scanState, filter map[string]bool, fn MessageFunc) error {
	records, err := decompressChunk(ck)
	if err != nil {
		return err
	}
	br := bytes.NewReader(records)
	for {
		op, body, err := readRecord(br)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("scanning chunk records: %w", err)
		}
		if err := st.record(op, body, filter, fn); err != nil {
			return err
		}
	}
}

// scanState accumulates schema and channel records seen so far and
// dispatches messages.
type scanState struct {
	schemas  map[uint16]*Schema
	channels map[uint16]*Channel
}

func newScanState() *scanState {
	return &scanState{
		schemas:  map[uint16]*Schema{},
		channels: map[uint16]*Channel{},
	}
}

func (st *scanState) record(op uint8, body []byte, filter map[string]bool, fn MessageFunc) error {
	switch op {
	case opSchema:
		sch, err := parseSchema(body)
		if err != nil {
			return fmt.Errorf("parsing schema record: %w", err)
		}
		st.schemas[sch.ID] = sch
	case opChannel:
		ch, err := parseChannel(body)
		if err != nil {
			return fmt.Errorf("parsing channel record: %w", err)
		}
		st.channels[ch.ID] = ch
	case opMessage:
		msg, err := parseMessage(body)
		if err != nil {
			return fmt.Errorf("parsing message record: %w", err)
		}
		ch, ok := st.channels[msg.ChannelID]
		if !ok {
			return fmt.Errorf("message references unknown channel %d", msg.ChannelID)
		}
		if filter != nil && !filter[ch.Topic] {
			return nil
		}
		var sch *Schema
		if ch.SchemaID != 0 {
			sch, ok = st.schemas[ch.SchemaID]
			if !ok {
				return fmt.Errorf("channel %d references unknown schema %d", ch.ID, ch.SchemaID)
			}
		}
		return fn(sch, ch, msg)
	default:
		// message indexes, attachments, metadata: skipped by length
	}
	return nil
}

// readRecord reads one opcode-framed record. io.EOF is returned only at a
// clean record boundary; a partial record surfaces as ErrUnexpectedEOF.
func readRecord(r io.Reader) (uint8, []byte, error) {
	var head [9]byte
	if _, err := io.ReadFull(r, head[:1]); err != nil {
		return 0, nil, err
	}
	if _, err := io.ReadFull(r, head[1:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	length := int64(binary.LittleEndian.Uint64(head[1:]))
	if length < 0 {
		return 0, nil, fmt.Errorf("record length overflows: opcode 0x%02x", head[0])
	}
	// CopyN grows the buffer as bytes arrive, so a corrupt length field
	// fails with ErrUnexpectedEOF instead of a giant allocation.
	var body bytes.Buffer
	if n, err := io.CopyN(&body, r, length); err != nil {
		if errors.Is(err, io.EOF) && n < length {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	return head[0], body.Bytes(), nil
}
