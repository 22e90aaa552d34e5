// Package pipeline drives a conversion: read one topic's messages from a
// container, decode them, and hand the caller Arrow record batches.
package pipeline

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"

	"github.com/transmcap/transmcap/internal/columnar"
	"github.com/transmcap/transmcap/internal/decode"
	"github.com/transmcap/transmcap/internal/logger"
	"github.com/transmcap/transmcap/internal/mcap"
	"github.com/transmcap/transmcap/pkg/value"
)

// DefaultBatchSize is used when Options.BatchSize is zero.
const DefaultBatchSize = 1024

// Options tune one conversion run.
type Options struct {
	// BatchSize is the number of rows per emitted record.
	BatchSize int
	// Policy controls flattening. The zero value is a valid all-drop
	// policy; callers usually start from columnar.DefaultPolicy.
	Policy columnar.Policy
	// Registry resolves channel encodings; nil means the built-ins.
	Registry *decode.Registry
	// Allocator for Arrow buffers; nil means the default allocator.
	Allocator memory.Allocator
}

// BatchFunc receives each completed batch. The record is released when the
// callback returns; retain it before returning if it must outlive the call.
// A non-nil error stops the conversion immediately.
type BatchFunc func(rec arrow.Record) error

// topicState tracks decoding for one topic across its channels.
type topicState struct {
	fields   []value.Field
	decoders map[uint16]decode.TopicDecoder
	firstCh  uint16
	builder  *columnar.BatchBuilder
}

// ForEachBatch converts one topic. A topic absent from the container yields
// zero batches and a nil error; distinguishing that from an empty topic is
// the caller's concern. Every channel on the topic must derive the same
// column schema, since all its messages land in one batch stream.
func ForEachBatch(ctx context.Context, r *mcap.Reader, topic string, opts Options, fn BatchFunc) error {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	reg := opts.Registry
	if reg == nil {
		reg = decode.NewDefaultRegistry()
	}
	log := logger.Get("pipeline").With().Str("topic", topic).Logger()

	st := &topicState{decoders: map[uint16]decode.TopicDecoder{}}
	var rows, batches uint64

	flush := func() error {
		if st.builder == nil || st.builder.Len() == 0 {
			return nil
		}
		rec := st.builder.Record()
		defer rec.Release()
		batches++
		return fn(rec)
	}

	err := r.ForEachMessage([]string{topic}, func(sch *mcap.Schema, ch *mcap.Channel, msg *mcap.Message) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		td, err := st.decoder(reg, sch, ch, topic, opts, log)
		if err != nil {
			return err
		}
		v, err := td.Decode(msg.Data)
		if err != nil {
			return fmt.Errorf("decoding message on topic %q (channel %d, sequence %d): %w",
				topic, ch.ID, msg.Sequence, err)
		}
		if err := value.Check(v, value.StructType(st.fields), ""); err != nil {
			return fmt.Errorf("message on topic %q (channel %d, sequence %d): %w",
				topic, ch.ID, msg.Sequence, err)
		}
		if err := st.builder.Append(msg.LogTime, msg.PublishTime, v); err != nil {
			return fmt.Errorf("building batch for topic %q: %w", topic, err)
		}
		rows++
		if st.builder.Len() >= batchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	if st.builder != nil {
		st.builder.Release()
	}
	log.Debug().Uint64("rows", rows).Uint64("batches", batches).Msg("conversion finished")
	return nil
}

// decoder returns the channel's topic decoder, creating it on first sight.
// The first channel fixes the plan; later channels must derive an identical
// schema.
func (st *topicState) decoder(reg *decode.Registry, sch *mcap.Schema, ch *mcap.Channel, topic string, opts Options, log zerolog.Logger) (decode.TopicDecoder, error) {
	if td, ok := st.decoders[ch.ID]; ok {
		return td, nil
	}
	td, err := newTopicDecoder(reg, sch, ch)
	if err != nil {
		return nil, err
	}
	fields := td.Fields()
	if st.builder == nil {
		plan, err := columnar.NewPlan(fields, opts.Policy)
		if err != nil {
			return nil, fmt.Errorf("planning columns for topic %q: %w", topic, err)
		}
		st.fields = fields
		st.firstCh = ch.ID
		st.builder = columnar.NewBatchBuilder(plan, opts.Allocator)
		log.Debug().Uint16("channel", ch.ID).Int("columns", len(plan.Columns())).Msg("planned topic schema")
	} else if !value.FieldsEqual(st.fields, fields) {
		return nil, fmt.Errorf("channels %d and %d on topic %q derive different schemas",
			st.firstCh, ch.ID, topic)
	}
	st.decoders[ch.ID] = td
	return td, nil
}

func newTopicDecoder(reg *decode.Registry, sch *mcap.Schema, ch *mcap.Channel) (decode.TopicDecoder, error) {
	if sch == nil {
		return decode.NewRawTopicDecoder(), nil
	}
	d, err := reg.Lookup(ch.MessageEncoding, sch.Encoding)
	if err != nil {
		return nil, fmt.Errorf("channel %d (topic %q): %w", ch.ID, ch.Topic, err)
	}
	td, err := d.NewTopicDecoder(sch.Name, sch.Data)
	if err != nil {
		return nil, fmt.Errorf("channel %d (topic %q): %w", ch.ID, ch.Topic, err)
	}
	return td, nil
}

// ErrTopicNotFound reports a topic with no channel in the container.
type ErrTopicNotFound struct {
	Topic string
}

func (e *ErrTopicNotFound) Error() string {
	return fmt.Sprintf("topic %q not found in container", e.Topic)
}

// TopicFields derives the column schema of a topic without reading
// messages. When several channels share the topic they must agree, exactly
// as during conversion.
func TopicFields(r *mcap.Reader, topic string, reg *decode.Registry) ([]value.Field, error) {
	if reg == nil {
		reg = decode.NewDefaultRegistry()
	}
	channels, schemas, err := r.Channels()
	if err != nil {
		return nil, err
	}
	var fields []value.Field
	var firstCh uint16
	found := false
	for _, ch := range channels {
		if ch.Topic != topic {
			continue
		}
		var sch *mcap.Schema
		if ch.SchemaID != 0 {
			var ok bool
			sch, ok = schemas[ch.SchemaID]
			if !ok {
				return nil, fmt.Errorf("channel %d references unknown schema %d", ch.ID, ch.SchemaID)
			}
		}
		td, err := newTopicDecoder(reg, sch, ch)
		if err != nil {
			return nil, err
		}
		if !found {
			fields = td.Fields()
			firstCh = ch.ID
			found = true
		} else if !value.FieldsEqual(fields, td.Fields()) {
			return nil, fmt.Errorf("channels %d and %d on topic %q derive different schemas",
				firstCh, ch.ID, topic)
		}
	}
	if !found {
		return nil, &ErrTopicNotFound{Topic: topic}
	}
	return fields, nil
}
