package binproc

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/redpanda-data/benthos/v4/public/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reading struct {
	Magic   [2]byte `bin:"asserted=0x5244" json:"-"`
	Channel uint16
	Celsius int16  `bin:"order=be"`
	Alarm   bool   `bin:"bits=1"`
	_       uint8  `bin:"pad,bits=7"`
	Label   string `bin:"strz"`
}

func init() {
	if err := Register("reading", func() any { return &reading{} }); err != nil {
		panic(err)
	}
}

func newProcessor(t *testing.T, yamlConf string) *Processor {
	t.Helper()
	pConf, err := ConfigSpec().ParseYAML(yamlConf, nil)
	require.NoError(t, err)
	p, err := NewFromConfig(pConf, service.MockResources())
	require.NoError(t, err)
	return p
}

func TestProcessorDecode(t *testing.T) {
	p := newProcessor(t, "record: reading\noperation: decode")
	ctx := context.Background()

	input := service.NewMessage([]byte{'R', 'D', 0x02, 0x01, 0xFF, 0xFE, 0x01, 'o', 'k', 0})
	input.MetaSet("source", "sensor-1")

	batch, err := p.Process(ctx, input)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	require.NoError(t, batch[0].GetError())

	body, err := batch[0].AsBytes()
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, map[string]any{
		"Channel": float64(258),
		"Celsius": float64(-2),
		"Alarm":   true,
		"Label":   "ok",
	}, got)

	source, ok := batch[0].MetaGet("source")
	assert.True(t, ok)
	assert.Equal(t, "sensor-1", source)
	name, _ := batch[0].MetaGet(MetaRecord)
	assert.Equal(t, "reading", name)
}

func TestProcessorDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"empty", nil, "empty binary data"},
		{"truncated", []byte{'R', 'D', 0x02}, "out_of_data"},
		{"bad magic", []byte{'X', 'D', 0, 0, 0, 0, 0, 0}, "assertion"},
		{"unterminated label", []byte{'R', 'D', 0, 0, 0, 0, 0, 'a'}, "unterminated_string"},
	}

	p := newProcessor(t, "record: reading")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := p.Process(context.Background(), service.NewMessage(tt.input))
			require.NoError(t, err, "errors are attached to the message")
			require.Len(t, batch, 1)
			require.Error(t, batch[0].GetError())
			assert.Contains(t, batch[0].GetError().Error(), tt.want)
		})
	}
}

func TestProcessorEncode(t *testing.T) {
	tests := []struct {
		name  string
		order string
		want  []byte
	}{
		{"little", "little", []byte{'R', 'D', 0x02, 0x01, 0xFF, 0xFE, 0x01, 'o', 'k', 0}},
		{"big", "big", []byte{'R', 'D', 0x01, 0x02, 0xFF, 0xFE, 0x01, 'o', 'k', 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newProcessor(t, fmt.Sprintf("record: reading\noperation: encode\nbyte_order: %s", tt.order))

			input := service.NewMessage([]byte(`{"Channel":258,"Celsius":-2,"Alarm":true,"Label":"ok"}`))
			batch, err := p.Process(context.Background(), input)
			require.NoError(t, err)
			require.Len(t, batch, 1)
			require.NoError(t, batch[0].GetError())

			body, err := batch[0].AsBytes()
			require.NoError(t, err)
			assert.Equal(t, tt.want, body)
		})
	}
}

func TestProcessorEncodeErrors(t *testing.T) {
	p := newProcessor(t, "record: reading\noperation: encode")

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"not json", `{"Channel":`, "failed to parse"},
		{"out of range", `{"Channel":70000}`, "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, err := p.Process(context.Background(), service.NewMessage([]byte(tt.doc)))
			require.NoError(t, err)
			require.Len(t, batch, 1)
			require.Error(t, batch[0].GetError())
			assert.Contains(t, batch[0].GetError().Error(), tt.want)
		})
	}
}

func TestProcessorRoundTrip(t *testing.T) {
	enc := newProcessor(t, "record: reading\noperation: encode\nlong_varints: true")
	dec := newProcessor(t, "record: reading\noperation: decode\nlong_varints: true")
	ctx := context.Background()

	doc := `{"Channel":7,"Celsius":215,"Alarm":false,"Label":"lab"}`
	encoded, err := enc.Process(ctx, service.NewMessage([]byte(doc)))
	require.NoError(t, err)
	decoded, err := dec.Process(ctx, encoded[0])
	require.NoError(t, err)
	require.NoError(t, decoded[0].GetError())

	body, err := decoded[0].AsBytes()
	require.NoError(t, err)
	assert.JSONEq(t, doc, string(body))
	require.NoError(t, dec.Close(ctx))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Record: "missing", Operation: OperationDecode}, service.MockResources())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading")

	_, err = New(Config{Record: "reading", Operation: "reverse"}, service.MockResources())
	assert.Error(t, err)

	pConf, err := ConfigSpec().ParseYAML("record: reading\nbyte_order: sideways", nil)
	if err == nil {
		_, err = NewFromConfig(pConf, service.MockResources())
	}
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	type point struct{ X, Y int16 }
	type loose struct{ N int }

	require.NoError(t, Register("point", func() any { return &point{} }))
	assert.Contains(t, Registered(), "point")

	assert.Error(t, Register("point", func() any { return &point{} }), "duplicate name")
	assert.Error(t, Register("", func() any { return &point{} }))
	assert.Error(t, Register("value", func() any { return point{} }), "factory must return a pointer")
	assert.Error(t, Register("loose", func() any { return &loose{} }), "int has no fixed width")
}
