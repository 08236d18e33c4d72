package x86

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"

	"github.com/lunixbochs/minicorn/models/cpu"
)

// Builder creates an interpreter for 16-, 32- or 64-bit mode.
type Builder struct {
	Bits int
}

func (b *Builder) New() (cpu.Cpu, error) {
	return New(b.Bits)
}

// New creates an interpreter for 16-, 32- or 64-bit mode.
func New(bits int) (*X86Cpu, error) {
	if bits != 16 && bits != 32 && bits != 64 {
		return nil, cpu.NewError(cpu.ERR_MODE, "unsupported x86 mode: %d-bit", bits)
	}
	views := make(map[int]cpu.View)
	for enum, def := range regDefs(bits) {
		views[enum] = def.view
	}
	memBits := uint(32)
	if bits == 64 {
		memBits = 64
	}
	c := &X86Cpu{
		Regs: cpu.NewRegFile(numCells, views),
		Mem:  cpu.NewMem(memBits, binary.LittleEndian),
		dis:  &Dis{Bits: bits},
		bits: bits,
	}
	c.Hooks = cpu.NewHooks(c, c.Mem)
	c.Hooks.InsnCheck = insnCheck
	pc := EIP
	if bits == 64 {
		pc = RIP
	}
	c.Runner = &cpu.Runner{
		Stepper:   c,
		Regs:      c.Regs,
		Mem:       c.Mem,
		Hooks:     c.Hooks,
		PC:        pc,
		MaxInsLen: MaxInsLen,
	}
	c.RegWrite(EFLAGS, flagsFixed)
	return c, nil
}

func insnCheck(insn int, cb interface{}) bool {
	var ok bool
	switch insn {
	case INS_IN:
		_, ok = cb.(func(cpu.Cpu, uint32, int) uint32)
	case INS_OUT:
		_, ok = cb.(func(cpu.Cpu, uint32, int, uint32))
	case INS_SYSCALL, INS_SYSENTER:
		_, ok = cb.(func(cpu.Cpu))
	}
	return ok
}

// X86Cpu interprets x86 machine code over the shared cpu models.
type X86Cpu struct {
	*cpu.Hooks
	*cpu.Regs
	*cpu.Mem
	*cpu.Runner

	dis  *Dis
	bits int

	// per-instruction state
	ins  *Ins
	inst *x86asm.Inst
	next uint64
	err  error
}

// Bits returns the cpu mode.
func (c *X86Cpu) Bits() int {
	return c.bits
}

func (c *X86Cpu) Decode(addr uint64, code []byte) (cpu.Ins, error) {
	return c.dis.Decode(addr, code)
}

func (c *X86Cpu) Close() error {
	for _, p := range c.MemRegions() {
		c.MemUnmap(p.Addr, p.Size)
	}
	return nil
}
