package mcap

import (
	"encoding/binary"
	"testing"
)

// Builds a statistics body byte by byte, independent of the test writer, so
// the parser is checked against the record layout itself.
func TestParseStatisticsLayout(t *testing.T) {
	var b []byte
	u16 := func(v uint16) { b = binary.LittleEndian.AppendUint16(b, v) }
	u32 := func(v uint32) { b = binary.LittleEndian.AppendUint32(b, v) }
	u64 := func(v uint64) { b = binary.LittleEndian.AppendUint64(b, v) }

	u64(7)   // message_count
	u16(2)   // schema_count
	u32(3)   // channel_count
	u32(1)   // attachment_count
	u32(4)   // metadata_count
	u32(5)   // chunk_count
	u64(100) // message_start_time
	u64(900) // message_end_time
	u32(2 * 10)
	u16(1)
	u64(4)
	u16(2)
	u64(3)

	if want := 46 + 2*10; len(b) != want {
		t.Fatalf("body length = %d, want %d", len(b), want)
	}

	st, err := parseStatistics(b)
	if err != nil {
		t.Fatal(err)
	}
	if st.MessageCount != 7 || st.SchemaCount != 2 || st.ChannelCount != 3 {
		t.Errorf("counts = %+v", st)
	}
	if st.AttachmentCount != 1 || st.MetadataCount != 4 || st.ChunkCount != 5 {
		t.Errorf("attachment/metadata/chunk = %d/%d/%d", st.AttachmentCount, st.MetadataCount, st.ChunkCount)
	}
	if st.MessageStartTime != 100 || st.MessageEndTime != 900 {
		t.Errorf("time range = %d..%d", st.MessageStartTime, st.MessageEndTime)
	}
	if st.ChannelMessageCounts[1] != 4 || st.ChannelMessageCounts[2] != 3 {
		t.Errorf("channel counts = %v", st.ChannelMessageCounts)
	}
}
