package layout

import "github.com/twinfer/binrec/pkg/binerr"

// groupBits scans the field sequence for runs of bit-packed fields and
// assigns each run to a BitGroup. A run ends when it fills a byte, at the
// first non-packed field, or at the end of the record. Runs never straddle
// bytes.
func groupBits(name string, fields []*Field) ([]BitGroup, error) {
	var groups []BitGroup
	var open *BitGroup
	used := 0

	closeRun := func() {
		if open == nil {
			return
		}
		open.Unused = 8 - used
		groups = append(groups, *open)
		open, used = nil, 0
	}

	for i, f := range fields {
		f.Group = -1
		if f.Bits == 0 {
			closeRun()
			continue
		}
		if open == nil {
			open = &BitGroup{First: i}
		}
		if used+f.Bits > 8 {
			return nil, binerr.New(binerr.ClassCompile, binerr.KindBitOverflow).
				Record(name).
				Field(f.Name).
				Value(used+f.Bits).
				Detail("bit run reaches %d bits, a run must fit in one byte", used+f.Bits).
				Build()
		}
		open.Members = append(open.Members, BitMember{Field: i, Shift: used, Bits: f.Bits})
		f.Group = len(groups)
		used += f.Bits
		if used == 8 {
			closeRun()
		}
	}
	closeRun()
	return groups, nil
}
