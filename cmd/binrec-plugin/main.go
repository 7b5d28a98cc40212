// Command binrec-plugin runs Benthos with the binrec processor and an
// example record type registered. Inputs and outputs come from whichever
// Benthos components are linked into the build.
package main

import (
	"context"

	"github.com/redpanda-data/benthos/v4/public/service"
	"github.com/twinfer/binrec/pkg/binproc"
)

// Reading is a sensor sample as emitted by the reference firmware.
type Reading struct {
	Magic   [2]byte `bin:"asserted=0x5244" json:"-"`
	Channel uint16  `json:"channel"`
	Celsius int16   `bin:"order=be" json:"celsius"`
	Alarm   bool    `bin:"bits=1" json:"alarm"`
	_       uint8   `bin:"pad,bits=7"`
	Label   string  `bin:"strz" json:"label"`
}

func main() {
	if err := binproc.Register("reading", func() any { return &Reading{} }); err != nil {
		panic(err)
	}
	service.RunCLI(context.Background())
}
