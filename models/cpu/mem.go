package cpu

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

type undo struct {
	addr uint64
	data []byte
}

// wraps MemSim to make a Cpu interface-compatible memory model
type Mem struct {
	bits uint
	// methods return an error for addresses that do not fit inside mask
	// calculated by NewMem using ^uint64(0) >> (64 - bits)
	mask uint64
	// Mem.hooks is set when passing *Mem to NewHooks()
	hooks *Hooks
	// MemSim is private, so any cpu-facing functionality needs to be wrapped by Mem
	sim *MemSim

	order binary.ByteOrder

	// interpreter writes made since Begin, newest last
	journal    []undo
	journaling bool
}

func NewMem(bits uint, order binary.ByteOrder) *Mem {
	return &Mem{
		bits:  bits,
		mask:  ^uint64(0) >> (64 - bits),
		sim:   &MemSim{},
		order: order,
	}
}

func (m *Mem) Bits() uint {
	return m.bits
}

func (m *Mem) ByteOrder() binary.ByteOrder {
	return m.order
}

func (m *Mem) checkRange(addr, size uint64) error {
	if size == 0 {
		return newError(ERR_ARG, "zero-size region at %#x", addr)
	}
	if addr&(PAGE_SIZE-1) != 0 || size&(PAGE_SIZE-1) != 0 {
		return newError(ERR_ARG, "region %#x(%#x) is not aligned to %#x", addr, size, PAGE_SIZE)
	}
	if addr+size <= addr || (addr+size-1)&m.mask != addr+size-1 {
		return newError(ERR_ARG, "region %#x(%#x) outside memory range", addr, size)
	}
	return nil
}

func (m *Mem) MemMap(addr, size uint64) error {
	return m.MemMapProt(addr, size, PROT_ALL)
}

func (m *Mem) MemMapProt(addr, size uint64, prot int) error {
	if err := m.checkRange(addr, size); err != nil {
		return err
	}
	if prot&^PROT_ALL != 0 {
		return newError(ERR_ARG, "invalid protection %#x", prot)
	}
	if m.sim.Overlaps(addr, size) {
		return newError(ERR_MAP, "region %#x(%#x) overlaps an existing mapping", addr, size)
	}
	m.sim.Map(addr, size, prot)
	return nil
}

func (m *Mem) MemProt(addr, size uint64, prot int) error {
	if err := m.checkRange(addr, size); err != nil {
		return err
	}
	if prot&^PROT_ALL != 0 {
		return newError(ERR_ARG, "invalid protection %#x", prot)
	}
	if mapped, _ := m.sim.RangeValid(addr, size, 0); !mapped {
		return newError(ERR_NOMEM, "range %#x(%#x) not mapped", addr, size)
	}
	m.sim.Prot(addr, size, prot)
	return nil
}

// MemUnmap removes whole regions. The range must be fully mapped and must not split a region.
func (m *Mem) MemUnmap(addr, size uint64) error {
	if err := m.checkRange(addr, size); err != nil {
		return err
	}
	if mapped, _ := m.sim.RangeValid(addr, size, 0); !mapped {
		return newError(ERR_NOMEM, "range %#x(%#x) not mapped", addr, size)
	}
	if !m.sim.Covers(addr, size) {
		return newError(ERR_MAP, "range %#x(%#x) splits a mapped region", addr, size)
	}
	m.sim.Unmap(addr, size)
	return nil
}

// MemRegions returns a snapshot of the mapped regions in address order, without their contents.
func (m *Mem) MemRegions() Pages {
	ret := make(Pages, len(m.sim.Mem))
	for i, p := range m.sim.Mem {
		ret[i] = &Page{Addr: p.Addr, Size: p.Size, Prot: p.Prot}
	}
	return ret
}

func (m *Mem) MemReadInto(p []byte, addr uint64) error {
	return m.sim.Read(addr, p, 0)
}

func (m *Mem) MemRead(addr, size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := m.MemReadInto(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Mem) MemWrite(addr uint64, p []byte) error {
	return m.sim.Write(addr, p, 0)
}

// validate an interpreter access, giving fault hooks one chance to fix the mapping
func (m *Mem) validate(addr uint64, size int, prot int, write bool, val int64) error {
	merr := m.sim.check(addr, size, prot, write)
	if merr == nil {
		return nil
	}
	if m.hooks != nil && m.hooks.OnFault(merr.Errno.access(), addr, size, val) {
		if merr = m.sim.check(addr, size, prot, write); merr == nil {
			return nil
		}
	}
	return merr
}

// Read while checking protections. This exists to support a CPU interpreter.
// Memory hooks fire before the bytes are copied, so a hook may supply the value.
func (m *Mem) ReadProt(addr, size uint64, prot int) ([]byte, error) {
	p := make([]byte, size)
	if size == 0 {
		return p, nil
	}
	if err := m.validate(addr, int(size), prot, false, 0); err != nil {
		return nil, err
	}
	if m.hooks != nil {
		if prot&PROT_EXEC == PROT_EXEC {
			m.hooks.OnMem(MEM_FETCH, addr, int(size), 0)
		} else {
			m.hooks.OnMem(MEM_READ, addr, int(size), 0)
		}
		// a hook may have unmapped the range
		if err := m.sim.check(addr, int(size), prot, false); err != nil {
			return nil, err
		}
	}
	m.sim.copyOut(addr, p)
	return p, nil
}

// Write while checking protections. This exists to support a CPU interpreter.
func (m *Mem) WriteProt(addr uint64, p []byte, prot int) error {
	var val int64
	if len(p) <= 8 {
		var buf [8]byte
		copy(buf[:], p)
		if n, err := UnpackUint(m.order, len(p), buf[:]); err == nil {
			val = int64(n)
		}
	}
	return m.writeProt(addr, p, prot, val)
}

func (m *Mem) writeProt(addr uint64, p []byte, prot int, val int64) error {
	if len(p) == 0 {
		return nil
	}
	if err := m.validate(addr, len(p), prot, true, val); err != nil {
		return err
	}
	if m.hooks != nil {
		m.hooks.OnMem(MEM_WRITE, addr, len(p), val)
		if err := m.sim.check(addr, len(p), prot, true); err != nil {
			return err
		}
	}
	if m.journaling {
		old := make([]byte, len(p))
		m.sim.copyOut(addr, old)
		m.journal = append(m.journal, undo{addr, old})
	}
	m.sim.copyIn(addr, p)
	return nil
}

func (m *Mem) ReadUint(addr uint64, size, prot int) (uint64, error) {
	if size > 8 {
		return 0, errors.Errorf("MemReadUint size too large: %d > 8", size)
	}
	p, err := m.ReadProt(addr, uint64(size), prot)
	if err != nil {
		return 0, err
	}
	return UnpackUint(m.order, size, p)
}

func (m *Mem) WriteUint(addr uint64, size, prot int, val uint64) error {
	var buf [8]byte
	if size > 8 {
		return errors.Errorf("MemWriteUint size too large: %d > 8", size)
	}
	if _, err := PackUint(m.order, size, buf[:], val); err != nil {
		return err
	}
	return m.writeProt(addr, buf[:size], prot, int64(val))
}

// Fetch returns up to max executable bytes starting at addr.
// The first byte must be fetchable, otherwise a fetch fault is returned after consulting fault hooks.
// Fewer than max bytes are returned when an unmapped or non-executable page follows.
func (m *Mem) Fetch(addr uint64, max int) ([]byte, error) {
	if err := m.validate(addr, 1, PROT_EXEC, false, 0); err != nil {
		return nil, err
	}
	return m.Peek(addr, max), nil
}

// Peek is Fetch without faults or hooks, for look-ahead.
func (m *Mem) Peek(addr uint64, max int) []byte {
	var ret []byte
	i := m.sim.Mem.bsearch(addr)
	if i < 0 {
		return nil
	}
	for _, mm := range m.sim.Mem[i:] {
		if len(ret) >= max || !mm.Contains(addr) || mm.Prot&PROT_EXEC == 0 {
			break
		}
		off := addr - mm.Addr
		n := mm.Size - off
		if want := uint64(max - len(ret)); n > want {
			n = want
		}
		ret = append(ret, mm.Data[off:off+n]...)
		addr += n
		if addr == 0 {
			break
		}
	}
	return ret
}

// Begin starts journaling interpreter writes so a faulting instruction can be undone.
func (m *Mem) Begin() {
	m.journal = m.journal[:0]
	m.journaling = true
}

// Commit discards the journal, keeping all writes since Begin.
func (m *Mem) Commit() {
	m.journal = m.journal[:0]
	m.journaling = false
}

// Rollback undoes every interpreter write since Begin, newest first.
func (m *Mem) Rollback() {
	for i := len(m.journal) - 1; i >= 0; i-- {
		u := m.journal[i]
		m.sim.copyIn(u.addr, u.data)
	}
	m.Commit()
}
