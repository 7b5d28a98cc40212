package binio

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
)

// Text is a resolved text encoding together with the width of its code unit,
// which is also the width of its null terminator.
type Text struct {
	Name  string
	Unit  int
	ascii bool
	enc   encoding.Encoding // nil for UTF-8 and ASCII
}

// LookupText resolves an encoding name. An empty name is UTF-8. "utf-16"
// and "utf-32" without a suffix take the given byte order.
func LookupText(name string, order ByteOrder) (Text, error) {
	key := strings.NewReplacer("-", "", "_", "", " ", "").Replace(strings.ToLower(name))
	order = order.resolve(LittleEndian)

	switch key {
	case "", "utf8":
		return Text{Name: "utf-8", Unit: 1}, nil
	case "ascii", "usascii":
		return Text{Name: "ascii", Unit: 1, ascii: true}, nil
	case "utf16":
		if order == BigEndian {
			return utf16Text(unicode.BigEndian), nil
		}
		return utf16Text(unicode.LittleEndian), nil
	case "utf16le":
		return utf16Text(unicode.LittleEndian), nil
	case "utf16be":
		return utf16Text(unicode.BigEndian), nil
	case "utf32":
		if order == BigEndian {
			return utf32Text(utf32.BigEndian), nil
		}
		return utf32Text(utf32.LittleEndian), nil
	case "utf32le":
		return utf32Text(utf32.LittleEndian), nil
	case "utf32be":
		return utf32Text(utf32.BigEndian), nil
	case "cp437", "ibm437":
		return Text{Name: "cp437", Unit: 1, enc: charmap.CodePage437}, nil
	case "latin1", "iso88591":
		return Text{Name: "latin1", Unit: 1, enc: charmap.ISO8859_1}, nil
	case "cp1252", "windows1252":
		return Text{Name: "cp1252", Unit: 1, enc: charmap.Windows1252}, nil
	case "shiftjis", "sjis", "cp932":
		return Text{Name: "shift_jis", Unit: 1, enc: japanese.ShiftJIS}, nil
	case "eucjp":
		return Text{Name: "euc-jp", Unit: 1, enc: japanese.EUCJP}, nil
	}
	return Text{}, fmt.Errorf("unsupported text encoding: %s", name)
}

func utf16Text(e unicode.Endianness) Text {
	name := "utf-16le"
	if e == unicode.BigEndian {
		name = "utf-16be"
	}
	return Text{Name: name, Unit: 2, enc: unicode.UTF16(e, unicode.IgnoreBOM)}
}

func utf32Text(e utf32.Endianness) Text {
	name := "utf-32le"
	if e == utf32.BigEndian {
		name = "utf-32be"
	}
	return Text{Name: name, Unit: 4, enc: utf32.UTF32(e, utf32.IgnoreBOM)}
}

// Decode converts raw bytes to a string.
func (t Text) Decode(data []byte) (string, error) {
	if t.enc == nil {
		if t.ascii {
			for _, b := range data {
				if b > 127 {
					return "", fmt.Errorf("invalid ASCII character: %d", b)
				}
			}
		}
		return string(data), nil
	}
	return t.enc.NewDecoder().String(string(data))
}

// Encode converts a string to raw bytes.
func (t Text) Encode(s string) ([]byte, error) {
	if t.enc == nil {
		if t.ascii {
			for _, r := range s {
				if r > 127 {
					return nil, fmt.Errorf("non-ASCII character %q in string", r)
				}
			}
		}
		return []byte(s), nil
	}
	return t.enc.NewEncoder().Bytes([]byte(s))
}

// Terminator returns the null code unit.
func (t Text) Terminator() []byte {
	return make([]byte, t.unit())
}

// TrimNulls strips trailing null code units.
func (t Text) TrimNulls(data []byte) []byte {
	unit := t.unit()
	zero := t.Terminator()
	for len(data) >= unit && bytes.Equal(data[len(data)-unit:], zero) {
		data = data[:len(data)-unit]
	}
	return data
}

func (t Text) unit() int {
	if t.Unit <= 0 {
		return 1
	}
	return t.Unit
}
