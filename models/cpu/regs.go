package cpu

import (
	"github.com/pkg/errors"
)

// View names a bit range of a storage cell.
// Architectures alias narrow registers onto wide ones by sharing a Cell.
type View struct {
	Cell  int
	Shift uint
	Bits  uint
}

func (v View) mask() uint64 {
	return ^uint64(0) >> (64 - v.Bits)
}

// Regs implements register and context methods conforming to cpu.Cpu.
// TODO: views are a map lookup per access; a dense slice keyed by enum would avoid it
// for architectures with small enums.
type Regs struct {
	cells []uint64
	views map[int]View
}

// NewRegs builds a file with one unaliased cell of the given width per enum.
func NewRegs(bits uint, enums []int) *Regs {
	views := make(map[int]View, len(enums))
	for i, e := range enums {
		views[e] = View{Cell: i, Bits: bits}
	}
	return NewRegFile(len(enums), views)
}

// NewRegFile builds a file with the given number of 64-bit cells and register views over them.
func NewRegFile(cells int, views map[int]View) *Regs {
	return &Regs{
		cells: make([]uint64, cells),
		views: views,
	}
}

func invalidReg(enum int) error {
	return &Error{Errno: ERR_ARG, Err: errors.Errorf("invalid register %d", enum)}
}

// Valid reports whether enum names a register in this file.
func (r *Regs) Valid(enum int) bool {
	_, ok := r.views[enum]
	return ok
}

// RegBits returns the width of a register view, or 0 if enum is unknown.
func (r *Regs) RegBits(enum int) uint {
	return r.views[enum].Bits
}

func (r *Regs) RegRead(enum int) (uint64, error) {
	v, ok := r.views[enum]
	if !ok {
		return 0, invalidReg(enum)
	}
	return (r.cells[v.Cell] >> v.Shift) & v.mask(), nil
}

// RegWrite replaces only the bits covered by the view, leaving the rest of the cell intact.
func (r *Regs) RegWrite(enum int, val uint64) error {
	v, ok := r.views[enum]
	if !ok {
		return invalidReg(enum)
	}
	mask := v.mask() << v.Shift
	r.cells[v.Cell] = r.cells[v.Cell]&^mask | (val<<v.Shift)&mask
	return nil
}

func (r *Regs) RegReadBatch(enums []int) ([]uint64, error) {
	vals := make([]uint64, len(enums))
	for i, e := range enums {
		val, err := r.RegRead(e)
		if err != nil {
			return nil, err
		}
		vals[i] = val
	}
	return vals, nil
}

// RegWriteBatch validates every enum before writing any of them.
func (r *Regs) RegWriteBatch(enums []int, vals []uint64) error {
	if len(enums) != len(vals) {
		return &Error{Errno: ERR_ARG, Err: errors.Errorf("register batch length mismatch (%d != %d)", len(enums), len(vals))}
	}
	for _, e := range enums {
		if !r.Valid(e) {
			return invalidReg(e)
		}
	}
	for i, e := range enums {
		r.RegWrite(e, vals[i])
	}
	return nil
}

// ContextSave copies the register cells, reusing a previous context when provided.
// handling ContextSave in the register file requires you to store important cpu state (like flags) in registers
func (r *Regs) ContextSave(reuse interface{}) (interface{}, error) {
	var ctx []uint64
	if reuse != nil {
		var ok bool
		if ctx, ok = reuse.([]uint64); !ok || len(ctx) != len(r.cells) {
			return nil, &Error{Errno: ERR_ARG, Err: errors.New("incorrect context type")}
		}
	} else {
		ctx = make([]uint64, len(r.cells))
	}
	copy(ctx, r.cells)
	return ctx, nil
}

func (r *Regs) ContextRestore(ctx interface{}) error {
	cells, ok := ctx.([]uint64)
	if !ok || len(cells) != len(r.cells) {
		return &Error{Errno: ERR_ARG, Err: errors.New("incorrect context type")}
	}
	copy(r.cells, cells)
	return nil
}
