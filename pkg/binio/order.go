package binio

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// ByteOrder selects the byte order of a multi-byte scalar. DefaultOrder
// defers to the Reader or Writer default.
type ByteOrder uint8

const (
	DefaultOrder ByteOrder = iota
	LittleEndian
	BigEndian
)

// String returns the short name used in struct tags.
func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "le"
	case BigEndian:
		return "be"
	default:
		return "default"
	}
}

// ParseByteOrder accepts le/little, be/big/network and native.
func ParseByteOrder(s string) (ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return DefaultOrder, nil
	case "le", "little", "little-endian", "little_endian":
		return LittleEndian, nil
	case "be", "big", "big-endian", "big_endian", "network":
		return BigEndian, nil
	case "native":
		return NativeOrder(), nil
	}
	return DefaultOrder, fmt.Errorf("unknown byte order %q", s)
}

// NativeOrder reports the byte order of the running machine.
func NativeOrder() ByteOrder {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], 1)
	if b[0] == 1 {
		return LittleEndian
	}
	return BigEndian
}

// Or returns o, or def when o is DefaultOrder.
func (o ByteOrder) Or(def ByteOrder) ByteOrder {
	if o == DefaultOrder {
		return def
	}
	return o
}

// resolve returns o unless it is DefaultOrder, in which case def is used.
func (o ByteOrder) resolve(def ByteOrder) ByteOrder {
	if o == DefaultOrder {
		if def == DefaultOrder {
			return LittleEndian
		}
		return def
	}
	return o
}

type config struct {
	order       ByteOrder
	longVarints bool
}

// Option configures a Reader or Writer.
type Option func(*config)

// WithByteOrder sets the default byte order for calls that pass DefaultOrder.
func WithByteOrder(order ByteOrder) Option {
	return func(c *config) {
		c.order = order
	}
}

// WithLongVarints makes VarInt and VarUint 8 bytes wide instead of 4.
func WithLongVarints(enabled bool) Option {
	return func(c *config) {
		c.longVarints = enabled
	}
}

func newConfig(opts []Option) config {
	c := config{order: LittleEndian}
	for _, opt := range opts {
		opt(&c)
	}
	c.order = c.order.resolve(LittleEndian)
	return c
}
