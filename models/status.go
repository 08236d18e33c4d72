package models

import (
	"fmt"
	"strings"

	"github.com/mgutz/ansi"
)

// StatusDiff renders register values, highlighting what changed since the last call.
type StatusDiff struct {
	Arch *Arch
	Cpu  RegReader

	oldRegs map[int]uint64
}

func NewStatusDiff(arch *Arch, c RegReader) *StatusDiff {
	return &StatusDiff{Arch: arch, Cpu: c}
}

var chSame = ansi.ColorCode("default:default")
var chNew = ansi.ColorCode("default+bu:default")

func colorPad(s, color string, pad int) string {
	length := len(s)
	s = color + s + ansi.Reset
	if length < pad {
		s = strings.Repeat(" ", pad-length) + s
	}
	return s
}

type ChangeMask struct {
	Old, New string
	Changed  bool
}

type Change struct {
	Old, New uint64
	Enum     int
	Name     string
}

func (c *Change) Changed() bool {
	return c.Old != c.New
}

// Mask splits the hex rendering of New into runs that match or differ from Old.
func (c *Change) Mask(digits int) []ChangeMask {
	hexFmt := fmt.Sprintf("%%0%dx", digits)
	s1, s2 := fmt.Sprintf(hexFmt, c.New), fmt.Sprintf(hexFmt, c.Old)
	pos := 0
	matching := true
	masks := make([]ChangeMask, 0, len(s1))
	for i := range s1 {
		if (s1[i] == s2[i]) != matching {
			if i > pos {
				masks = append(masks, ChangeMask{New: s1[pos:i], Old: s2[pos:i], Changed: !matching})
				pos = i
			}
			matching = !matching
		}
	}
	if pos < len(s1) {
		masks = append(masks, ChangeMask{New: s1[pos:], Old: s2[pos:], Changed: !matching})
	}
	return masks
}

func (c *Change) String(digits int, color bool) string {
	hexFmt := fmt.Sprintf("%%0%dx", digits)
	lineStart := fmt.Sprintf(" %6s 0x", c.Name)
	if !c.Changed() {
		return fmt.Sprintf(lineStart+hexFmt, c.New)
	}
	if !color {
		return fmt.Sprintf("+"+lineStart+hexFmt, c.New)
	}
	out := []string{fmt.Sprintf(" %s 0x", colorPad(c.Name, chNew, 6))}
	for _, mask := range c.Mask(digits) {
		col := chSame
		if mask.Changed {
			col = chNew
		}
		out = append(out, col+mask.New)
	}
	out = append(out, ansi.Reset)
	return strings.Join(out, "")
}

type Changes struct {
	Digits  int
	Changes []*Change
}

// String lays the registers out column-wise, four to a row.
func (cs *Changes) String(color bool) string {
	var out []string
	printRow := func(changes []*Change, cols int) {
		if len(changes) < cols && len(changes) > 0 {
			padLen := cs.Digits + len(" regnam 0x ")
			out = append(out, strings.Repeat(" ", padLen*(cols-len(changes))))
		}
		for _, c := range changes {
			out = append(out, c.String(cs.Digits, color), " ")
		}
		if len(changes) > 0 {
			out = append(out, "\n")
		}
	}
	changes := cs.Changes
	cols := 4
	rows := len(changes) / cols
	lastRow := changes[rows*cols:]
	row := make([]*Change, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			row[j] = changes[j*rows+i]
		}
		printRow(row, cols)
	}
	if rows == 0 {
		cols = 0
	}
	printRow(lastRow, cols)
	return strings.Join(out, "")
}

func (cs *Changes) Count() int {
	ret := 0
	for _, c := range cs.Changes {
		if c.Changed() {
			ret++
		}
	}
	return ret
}

func (cs *Changes) Find(enum int) *Change {
	for _, c := range cs.Changes {
		if c.Enum == enum {
			return c
		}
	}
	return nil
}

// Changes reads the registers and diffs them against the previous call.
// With onlyDefault set, only the arch's default registers are included.
func (s *StatusDiff) Changes(onlyDefault bool) (*Changes, error) {
	regs, err := s.Arch.RegDump(s.Cpu)
	if err != nil {
		return nil, err
	}
	cs := make([]*Change, 0, len(regs))
	for _, reg := range regs {
		if onlyDefault && !reg.Default {
			continue
		}
		var old uint64
		if s.oldRegs != nil {
			old = s.oldRegs[reg.Enum]
		} else {
			old = reg.Val
		}
		cs = append(cs, &Change{Old: old, New: reg.Val, Enum: reg.Enum, Name: reg.Name})
	}
	s.oldRegs = make(map[int]uint64, len(regs))
	for _, r := range regs {
		s.oldRegs[r.Enum] = r.Val
	}
	return &Changes{Digits: s.Arch.Bits / 4, Changes: cs}, nil
}
