package mcap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
)

// TopicInfo summarizes one channel for listings.
type TopicInfo struct {
	Topic           string
	ChannelID       uint16
	MessageEncoding string
	SchemaName      string
	SchemaEncoding  string
	MessageCount    uint64
}

// Channels returns all channel records sorted by ID, with the schemas they
// reference. Unlike message iteration this also surfaces channels that have
// no messages.
func (r *Reader) Channels() ([]*Channel, map[uint16]*Schema, error) {
	if r.summary != nil && len(r.summary.channels) > 0 {
		channels := make([]*Channel, 0, len(r.summary.channels))
		for _, ch := range r.summary.channels {
			channels = append(channels, ch)
		}
		sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
		return channels, r.summary.schemas, nil
	}
	st := newScanState()
	if err := r.collectRecords(st); err != nil {
		return nil, nil, err
	}
	channels := make([]*Channel, 0, len(st.channels))
	for _, ch := range st.channels {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].ID < channels[j].ID })
	return channels, st.schemas, nil
}

// collectRecords scans the data section for schema and channel records,
// including those inside chunks, without touching messages.
func (r *Reader) collectRecords(st *scanState) error {
	if _, err := r.rs.Seek(int64(len(Magic)), io.SeekStart); err != nil {
		return err
	}
	br := bufio.NewReaderSize(r.rs, 1<<16)
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
		case opSchema:
			sch, err := parseSchema(body)
			if err != nil {
				return err
			}
			st.schemas[sch.ID] = sch
		case opChannel:
			ch, err := parseChannel(body)
			if err != nil {
				return err
			}
			st.channels[ch.ID] = ch
		case opChunk:
			ck, err := parseChunk(body)
			if err != nil {
				return err
			}
			records, err := decompressChunk(ck)
			if err != nil {
				return err
			}
			cr := bytes.NewReader(records)
			for {
				cop, cbody, err := readRecord(cr)
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				switch cop {
				case opSchema:
					sch, err := parseSchema(cbody)
					if err != nil {
						return err
					}
					st.schemas[sch.ID] = sch
				case opChannel:
					ch, err := parseChannel(cbody)
					if err != nil {
						return err
					}
					st.channels[ch.ID] = ch
				}
			}
		}
	}
}

// Topics lists every channel, sorted by topic then channel ID. Counts come
// from summary statistics when present; otherwise the data section is
// scanned and counted.
func (r *Reader) Topics() ([]TopicInfo, error) {
	channels := map[uint16]*Channel{}
	schemas := map[uint16]*Schema{}
	counts := map[uint16]uint64{}

	if r.summary != nil && len(r.summary.channels) > 0 && r.summary.stats != nil {
		for id, ch := range r.summary.channels {
			channels[id] = ch
		}
		for id, sch := range r.summary.schemas {
			schemas[id] = sch
		}
		for id, n := range r.summary.stats.ChannelMessageCounts {
			counts[id] = n
		}
	} else {
		err := r.ForEachMessage(nil, func(sch *Schema, ch *Channel, msg *Message) error {
			channels[ch.ID] = ch
			if sch != nil {
				schemas[sch.ID] = sch
			}
			counts[ch.ID]++
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	infos := make([]TopicInfo, 0, len(channels))
	for id, ch := range channels {
		info := TopicInfo{
			Topic:           ch.Topic,
			ChannelID:       id,
			MessageEncoding: ch.MessageEncoding,
			MessageCount:    counts[id],
		}
		if sch, ok := schemas[ch.SchemaID]; ok && ch.SchemaID != 0 {
			info.SchemaName = sch.Name
			info.SchemaEncoding = sch.Encoding
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Topic != infos[j].Topic {
			return infos[i].Topic < infos[j].Topic
		}
		return infos[i].ChannelID < infos[j].ChannelID
	})
	return infos, nil
}
