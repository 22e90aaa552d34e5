package decode

import (
	"fmt"

	"github.com/transmcap/transmcap/internal/cdr"
	"github.com/transmcap/transmcap/internal/protodec"
	"github.com/transmcap/transmcap/internal/ros2idl"
	"github.com/transmcap/transmcap/internal/ros2msg"
	"github.com/transmcap/transmcap/pkg/value"
)

type protobufDecoder struct{}

func (protobufDecoder) MessageEncoding() string { return "protobuf" }
func (protobufDecoder) SchemaEncoding() string  { return "protobuf" }

func (protobufDecoder) NewTopicDecoder(schemaName string, schemaData []byte) (TopicDecoder, error) {
	return protodec.NewMessageDecoder(schemaName, schemaData)
}

// cdrDecoder serves both ROS 2 text dialects; they differ only in how the
// schema text parses into the shared resolved-type tables.
type cdrDecoder struct {
	dialect string // "ros2msg" or "ros2idl"
}

func (cdrDecoder) MessageEncoding() string  { return "cdr" }
func (d cdrDecoder) SchemaEncoding() string { return d.dialect }

func (d cdrDecoder) NewTopicDecoder(schemaName string, schemaData []byte) (TopicDecoder, error) {
	var schema *cdr.Schema
	var err error
	switch d.dialect {
	case "ros2msg":
		schema, err = ros2msg.Parse(schemaName, schemaData)
	case "ros2idl":
		schema, err = ros2idl.Parse(schemaName, schemaData)
	default:
		return nil, fmt.Errorf("unknown CDR dialect %q", d.dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s schema %q: %w", d.dialect, schemaName, err)
	}
	fields, err := schema.Fields()
	if err != nil {
		return nil, fmt.Errorf("deriving schema for %q: %w", schemaName, err)
	}
	return &cdrTopicDecoder{dec: cdr.NewDecoder(schema), fields: fields}, nil
}

type cdrTopicDecoder struct {
	dec    *cdr.Decoder
	fields []value.Field
}

func (d *cdrTopicDecoder) Fields() []value.Field { return d.fields }

func (d *cdrTopicDecoder) Decode(payload []byte) (value.Value, error) {
	return d.dec.Decode(payload)
}
