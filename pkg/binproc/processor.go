// Package binproc provides the binrec Benthos processor, which decodes
// message bytes into JSON documents of a registered record type and encodes
// JSON documents back into record bytes.
//
// Record types are registered by name before the pipeline starts:
//
//	binproc.Register("header", func() any { return &Header{} })
//
// and selected in the pipeline config:
//
//	pipeline:
//	  processors:
//	    - binrec:
//	        record: header
//	        operation: decode
//	        byte_order: big
package binproc

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/redpanda-data/benthos/v4/public/service"
	"github.com/twinfer/binrec/pkg/binio"
	"github.com/twinfer/binrec/pkg/record"
)

// MetaRecord is the metadata key carrying the record name on output
// messages.
const MetaRecord = "binrec_record"

var (
	recordsMu sync.RWMutex
	records   = map[string]func() any{}
)

// Register makes a record type available to the processor under name. The
// factory must return a new pointer to a struct on every call.
func Register(name string, factory func() any) error {
	if name == "" {
		return fmt.Errorf("record name must not be empty")
	}
	v := factory()
	if rv := reflect.ValueOf(v); rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("record %q: factory must return a pointer to a struct, got %T", name, v)
	}
	if _, err := record.Default().Table(v); err != nil {
		return fmt.Errorf("record %q: %w", name, err)
	}

	recordsMu.Lock()
	defer recordsMu.Unlock()
	if _, exists := records[name]; exists {
		return fmt.Errorf("record %q is already registered", name)
	}
	records[name] = factory
	return nil
}

// Registered returns the sorted names of all registered records.
func Registered() []string {
	recordsMu.RLock()
	defer recordsMu.RUnlock()
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (func() any, bool) {
	recordsMu.RLock()
	defer recordsMu.RUnlock()
	f, ok := records[name]
	return f, ok
}

// Operation selects the direction of the processor.
type Operation string

const (
	OperationDecode Operation = "decode"
	OperationEncode Operation = "encode"
)

// Config contains configuration parameters for the binrec processor.
type Config struct {
	Record      string          `json:"record" yaml:"record"`
	Operation   Operation       `json:"operation" yaml:"operation"`
	ByteOrder   binio.ByteOrder `json:"byte_order" yaml:"byte_order"`
	LongVarints bool            `json:"long_varints" yaml:"long_varints"`
}

func (c Config) options() []binio.Option {
	return []binio.Option{binio.WithByteOrder(c.ByteOrder), binio.WithLongVarints(c.LongVarints)}
}

// Processor is a Benthos processor that decodes or encodes one record per
// message.
type Processor struct {
	config   Config
	factory  func() any
	codec    *record.Codec
	logger   *service.Logger
	mDecoded *service.MetricCounter
	mEncoded *service.MetricCounter
	mErrors  *service.MetricCounter
}

func init() {
	err := service.RegisterProcessor(
		"binrec",
		ConfigSpec(),
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.Processor, error) {
			return NewFromConfig(conf, mgr)
		},
	)
	if err != nil {
		panic(err)
	}
}

// ConfigSpec returns the config spec of the binrec processor.
func ConfigSpec() *service.ConfigSpec {
	return service.NewConfigSpec().
		Summary("Decodes or encodes fixed-layout binary records described by Go structs.").
		Description("Decoding turns message bytes into a JSON document of the configured record. Encoding turns a JSON document into the record's bytes. Record types must be registered with binproc.Register before the stream starts.").
		Field(service.NewStringField("record").
			Description("Name of the registered record type.").
			Example("header")).
		Field(service.NewStringEnumField("operation", string(OperationDecode), string(OperationEncode)).
			Description("Whether to decode binary to JSON or encode JSON to binary.").
			Default(string(OperationDecode))).
		Field(service.NewStringEnumField("byte_order", "little", "big").
			Description("Default byte order for fields without an explicit order.").
			Default("little")).
		Field(service.NewBoolField("long_varints").
			Description("Encode varint and varuint fields in 8 bytes instead of 4.").
			Default(false).
			Advanced()).
		Version("0.1.0")
}

// NewFromConfig creates a Processor from a parsed config.
func NewFromConfig(conf *service.ParsedConfig, mgr *service.Resources) (*Processor, error) {
	name, err := conf.FieldString("record")
	if err != nil {
		return nil, err
	}
	op, err := conf.FieldString("operation")
	if err != nil {
		return nil, err
	}
	orderName, err := conf.FieldString("byte_order")
	if err != nil {
		return nil, err
	}
	longVarints, err := conf.FieldBool("long_varints")
	if err != nil {
		return nil, err
	}

	order, err := binio.ParseByteOrder(orderName)
	if err != nil {
		return nil, err
	}
	return New(Config{
		Record:      name,
		Operation:   Operation(op),
		ByteOrder:   order,
		LongVarints: longVarints,
	}, mgr)
}

// New creates a Processor for a registered record.
func New(config Config, mgr *service.Resources) (*Processor, error) {
	factory, ok := lookup(config.Record)
	if !ok {
		return nil, fmt.Errorf("record %q is not registered, known records: %v", config.Record, Registered())
	}
	switch config.Operation {
	case OperationDecode, OperationEncode:
	default:
		return nil, fmt.Errorf("unknown operation %q", config.Operation)
	}

	metrics := mgr.Metrics()
	return &Processor{
		config:   config,
		factory:  factory,
		codec:    record.Default(),
		logger:   mgr.Logger(),
		mDecoded: metrics.NewCounter("binrec_decoded_messages"),
		mEncoded: metrics.NewCounter("binrec_encoded_messages"),
		mErrors:  metrics.NewCounter("binrec_processing_errors"),
	}, nil
}

// Process decodes or encodes one message. Failures are attached to the
// message instead of being returned.
func (p *Processor) Process(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	if p.config.Operation == OperationDecode {
		return p.decode(ctx, msg)
	}
	return p.encode(ctx, msg)
}

func (p *Processor) decode(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	data, err := msg.AsBytes()
	if err != nil {
		return p.fail(msg, "failed to get binary data from message: %w", err)
	}
	if len(data) == 0 {
		return p.fail(msg, "empty binary data provided")
	}

	v := p.factory()
	r := binio.NewBytesReader(data, p.config.options()...)
	if err := p.codec.Decode(ctx, r, v); err != nil {
		return p.fail(msg, "failed to decode %s from %d bytes: %w", p.config.Record, len(data), err)
	}
	doc, err := json.Marshal(v)
	if err != nil {
		return p.fail(msg, "failed to marshal decoded %s: %w", p.config.Record, err)
	}

	p.logger.Debugf("Decoded %s from %d of %d bytes", p.config.Record, r.Tell(), len(data))
	p.mDecoded.Incr(1)
	return service.MessageBatch{p.derive(msg, doc)}, nil
}

func (p *Processor) encode(ctx context.Context, msg *service.Message) (service.MessageBatch, error) {
	doc, err := msg.AsBytes()
	if err != nil {
		return p.fail(msg, "failed to get structured data from message: %w", err)
	}

	v := p.factory()
	if err := p.codec.Init(v); err != nil {
		return p.fail(msg, "failed to initialize %s: %w", p.config.Record, err)
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return p.fail(msg, "failed to parse %s document: %w", p.config.Record, err)
	}

	w := binio.NewWriter(p.config.options()...)
	if err := p.codec.Encode(ctx, w, v); err != nil {
		return p.fail(msg, "failed to encode %s: %w", p.config.Record, err)
	}
	data, err := w.Bytes()
	if err != nil {
		return p.fail(msg, "failed to encode %s: %w", p.config.Record, err)
	}

	p.logger.Debugf("Encoded %s to %d bytes", p.config.Record, len(data))
	p.mEncoded.Incr(1)
	return service.MessageBatch{p.derive(msg, data)}, nil
}

// derive creates the output message, carrying over the input's metadata.
func (p *Processor) derive(msg *service.Message, body []byte) *service.Message {
	out := service.NewMessage(body)
	_ = msg.MetaWalk(func(key, value string) error {
		out.MetaSet(key, value)
		return nil
	})
	out.MetaSet(MetaRecord, p.config.Record)
	return out
}

func (p *Processor) fail(msg *service.Message, format string, args ...any) (service.MessageBatch, error) {
	err := fmt.Errorf(format, args...)
	p.logger.Errorf("%v", err)
	p.mErrors.Incr(1)
	msg.SetError(err)
	return service.MessageBatch{msg}, nil
}

// Close releases processor resources.
func (p *Processor) Close(ctx context.Context) error {
	return nil
}
