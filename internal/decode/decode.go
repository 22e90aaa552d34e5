// Package decode maps channel encodings to message decoders. A Decoder is
// registered under an exact (message encoding, schema encoding) pair; it
// turns one channel's schema into a TopicDecoder, which then decodes every
// message on that channel.
package decode

import (
	"fmt"

	"github.com/transmcap/transmcap/pkg/value"
)

// TopicDecoder decodes the messages of one channel. Implementations parse
// the schema once at construction, so Decode does no schema work.
type TopicDecoder interface {
	// Fields reports the column schema every decoded value conforms to.
	Fields() []value.Field
	// Decode parses one message payload into a value tree shaped like Fields.
	Decode(payload []byte) (value.Value, error)
}

// Decoder builds TopicDecoders for one encoding pair.
type Decoder interface {
	MessageEncoding() string
	SchemaEncoding() string
	// NewTopicDecoder parses the channel's schema record. schemaName is the
	// record's name field, schemaData its raw bytes.
	NewTopicDecoder(schemaName string, schemaData []byte) (TopicDecoder, error)
}

// UnsupportedEncodingError reports a channel whose encoding pair has no
// registered decoder.
type UnsupportedEncodingError struct {
	MessageEncoding string
	SchemaEncoding  string
}

func (e *UnsupportedEncodingError) Error() string {
	return fmt.Sprintf("no decoder registered for message encoding %q with schema encoding %q",
		e.MessageEncoding, e.SchemaEncoding)
}

type encodingPair struct {
	message string
	schema  string
}

// Registry holds decoders keyed by exact encoding pair. Matching never
// falls back on partial matches: "cdr"/"ros2msg" and "cdr"/"ros2idl" are
// distinct entries.
type Registry struct {
	decoders map[encodingPair]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[encodingPair]Decoder)}
}

// NewDefaultRegistry returns a registry with the built-in decoders:
// protobuf, ros2msg over CDR, and ros2idl over CDR.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(protobufDecoder{})
	r.Register(cdrDecoder{dialect: "ros2msg"})
	r.Register(cdrDecoder{dialect: "ros2idl"})
	return r
}

// Register adds or replaces the decoder for d's encoding pair.
func (r *Registry) Register(d Decoder) {
	r.decoders[encodingPair{d.MessageEncoding(), d.SchemaEncoding()}] = d
}

// Lookup finds the decoder for an encoding pair. The error is always an
// *UnsupportedEncodingError on a miss.
func (r *Registry) Lookup(messageEncoding, schemaEncoding string) (Decoder, error) {
	d, ok := r.decoders[encodingPair{messageEncoding, schemaEncoding}]
	if !ok {
		return nil, &UnsupportedEncodingError{
			MessageEncoding: messageEncoding,
			SchemaEncoding:  schemaEncoding,
		}
	}
	return d, nil
}

// NewRawTopicDecoder handles channels without a schema: every message
// surfaces as a single bytes column holding the raw payload.
func NewRawTopicDecoder() TopicDecoder {
	return rawTopicDecoder{}
}

type rawTopicDecoder struct{}

func (rawTopicDecoder) Fields() []value.Field {
	return []value.Field{{Name: "data", Type: value.ScalarType(value.KindBytes)}}
}

func (rawTopicDecoder) Decode(payload []byte) (value.Value, error) {
	return value.Struct([]value.Value{value.Bytes(payload)}), nil
}
