package x86

import (
	"math/big"
	"math/bits"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/lunixbochs/minicorn/models/cpu"
)

// fail records the first error of the current instruction
func (c *X86Cpu) fail(errno cpu.Errno, format string, args ...interface{}) {
	if c.err == nil {
		c.err = cpu.NewError(errno, format, args...)
	}
}

func (c *X86Cpu) enum(r x86asm.Reg) int {
	e, ok := asmRegs[r]
	if !ok || !c.Valid(e) {
		c.fail(cpu.ERR_INSN_INVALID, "register %v unavailable in %d-bit mode", r, c.bits)
	}
	return e
}

func (c *X86Cpu) reg(r x86asm.Reg) uint64 {
	val, _ := c.RegRead(c.enum(r))
	return val
}

// setReg writes a register, zero-extending 32-bit destinations in long mode
func (c *X86Cpu) setReg(r x86asm.Reg, val uint64) {
	e := c.enum(r)
	if c.err != nil {
		return
	}
	if c.bits == 64 && c.RegBits(e) == 32 {
		if wide, ok := wide32[e]; ok {
			e, val = wide, val&0xffffffff
		}
	}
	c.RegWrite(e, val)
}

func (c *X86Cpu) regSize(r x86asm.Reg) int {
	return int(c.RegBits(c.enum(r)) / 8)
}

// segment base for real mode addressing. protected and long mode use a flat address space.
func (c *X86Cpu) segBase(seg x86asm.Reg) uint64 {
	if c.bits != 16 {
		return 0
	}
	return c.reg(seg) << 4
}

// ea computes the effective address (offset) of a memory operand
func (c *X86Cpu) ea(m x86asm.Mem) uint64 {
	var addr uint64
	switch m.Base {
	case 0:
	case x86asm.RIP, x86asm.EIP, x86asm.IP:
		addr = c.next
	default:
		addr = c.reg(m.Base)
	}
	if m.Index != 0 {
		scale := uint64(m.Scale)
		if scale == 0 {
			scale = 1
		}
		addr += c.reg(m.Index) * scale
	}
	addr += uint64(m.Disp)
	return addr & cpu.Mask(c.inst.AddrSize/8)
}

// linear applies the segment to a memory operand
func (c *X86Cpu) linear(m x86asm.Mem) uint64 {
	seg := m.Segment
	if seg == 0 {
		seg = x86asm.DS
		switch m.Base {
		case x86asm.BP, x86asm.SP, x86asm.EBP, x86asm.ESP:
			seg = x86asm.SS
		}
	}
	return c.segBase(seg) + c.ea(m)
}

func (c *X86Cpu) argSize(a x86asm.Arg) int {
	switch v := a.(type) {
	case x86asm.Reg:
		return c.regSize(v)
	case x86asm.Mem:
		return c.inst.MemBytes
	}
	return c.inst.DataSize / 8
}

func (c *X86Cpu) get(a x86asm.Arg, size int) uint64 {
	if c.err != nil {
		return 0
	}
	switch v := a.(type) {
	case x86asm.Reg:
		return c.reg(v) & cpu.Mask(size)
	case x86asm.Mem:
		val, err := c.ReadUint(c.linear(v), size, cpu.PROT_READ)
		if err != nil {
			c.err = err
		}
		return val
	case x86asm.Imm:
		return uint64(v) & cpu.Mask(size)
	}
	c.fail(cpu.ERR_INSN_INVALID, "unsupported operand %v", a)
	return 0
}

func (c *X86Cpu) set(a x86asm.Arg, size int, val uint64) {
	if c.err != nil {
		return
	}
	switch v := a.(type) {
	case x86asm.Reg:
		c.setReg(v, val&cpu.Mask(size))
	case x86asm.Mem:
		if err := c.WriteUint(c.linear(v), size, cpu.PROT_WRITE, val); err != nil {
			c.err = err
		}
	default:
		c.fail(cpu.ERR_INSN_INVALID, "unsupported destination %v", a)
	}
}

func (c *X86Cpu) hasPrefix(p x86asm.Prefix) bool {
	for _, v := range c.inst.Prefix {
		if v == 0 {
			break
		}
		if v&0xff == p {
			return true
		}
	}
	return false
}

func (c *X86Cpu) stackReg() x86asm.Reg {
	switch c.bits {
	case 64:
		return x86asm.RSP
	case 32:
		return x86asm.ESP
	}
	return x86asm.SP
}

// stackSize is the operand size of implicit stack operations
func (c *X86Cpu) stackSize() int {
	if c.bits == 64 {
		if c.hasPrefix(x86asm.PrefixDataSize) {
			return 2
		}
		return 8
	}
	return c.inst.DataSize / 8
}

func (c *X86Cpu) stackAddr(sp uint64) uint64 {
	return c.segBase(x86asm.SS) + sp
}

func (c *X86Cpu) push(val uint64, size int) {
	if c.err != nil {
		return
	}
	spr := c.stackReg()
	sp := (c.reg(spr) - uint64(size)) & cpu.Mask(c.regSize(spr))
	if err := c.WriteUint(c.stackAddr(sp), size, cpu.PROT_WRITE, val); err != nil {
		c.err = err
		return
	}
	c.setReg(spr, sp)
}

func (c *X86Cpu) pop(size int) uint64 {
	if c.err != nil {
		return 0
	}
	spr := c.stackReg()
	sp := c.reg(spr)
	val, err := c.ReadUint(c.stackAddr(sp), size, cpu.PROT_READ)
	if err != nil {
		c.err = err
		return 0
	}
	c.setReg(spr, (sp+uint64(size))&cpu.Mask(c.regSize(spr)))
	return val
}

// target resolves a near branch destination
func (c *X86Cpu) target(a x86asm.Arg) uint64 {
	var dst uint64
	if rel, ok := a.(x86asm.Rel); ok {
		dst = c.next + uint64(int64(rel))
	} else {
		size := c.argSize(a)
		if c.bits == 64 {
			size = 8
		}
		dst = c.get(a, size)
	}
	if c.bits != 64 {
		dst &= cpu.Mask(c.inst.DataSize / 8)
	}
	return dst
}

// counter is the implicit count register selected by address size
func (c *X86Cpu) counter() x86asm.Reg {
	switch c.inst.AddrSize {
	case 64:
		return x86asm.RCX
	case 32:
		return x86asm.ECX
	}
	return x86asm.CX
}

// pcMoved returns the pc register if a hook changed it during the current instruction
func (c *X86Cpu) pcMoved() (uint64, bool) {
	pc, _ := c.RegRead(c.Runner.PC)
	return pc, pc != c.ins.addr
}

// interrupt raises intno through the interrupt hooks, faulting when nothing handles it
func (c *X86Cpu) interrupt(intno uint32) {
	if !c.OnIntr(intno) {
		c.err = &cpu.Error{Errno: cpu.ERR_EXCEPTION, Addr: c.ins.addr, Err: errors.Errorf("unhandled interrupt %d", intno)}
		return
	}
	if pc, moved := c.pcMoved(); moved {
		c.next = pc
	}
}

func (c *X86Cpu) insnHook(insn int, fn func(cb interface{})) {
	c.OnInsn(insn, c.ins.addr, fn)
	if pc, moved := c.pcMoved(); moved {
		c.next = pc
	}
}

func (c *X86Cpu) Exec(i cpu.Ins) (uint64, error) {
	ins, ok := i.(*Ins)
	if !ok {
		return 0, errors.Errorf("foreign instruction type %T", i)
	}
	c.ins, c.inst = ins, &ins.inst
	c.next = ins.addr + uint64(ins.inst.Len)
	c.err = nil
	halt := c.exec()
	if c.err != nil {
		return 0, c.err
	}
	if halt {
		return c.next, cpu.ErrHalt
	}
	return c.next, nil
}

// exec runs the current instruction, returning true for hlt
func (c *X86Cpu) exec() bool {
	inst := c.inst
	args := inst.Args
	a, b := args[0], args[1]
	op := inst.Op
	name := op.String()

	switch op {
	case x86asm.NOP, x86asm.PAUSE, x86asm.LFENCE, x86asm.MFENCE, x86asm.SFENCE, x86asm.PREFETCHNTA,
		x86asm.PREFETCHT0, x86asm.PREFETCHT1, x86asm.PREFETCHT2:

	case x86asm.HLT:
		return true

	// data movement
	case x86asm.MOV:
		size := c.argSize(a)
		c.set(a, size, c.get(b, size))
	case x86asm.MOVZX:
		c.set(a, c.argSize(a), c.get(b, c.argSize(b)))
	case x86asm.MOVSX, x86asm.MOVSXD:
		sb := c.argSize(b)
		c.set(a, c.argSize(a), cpu.SignExtend(c.get(b, sb), sb))
	case x86asm.LEA:
		m, ok := b.(x86asm.Mem)
		if !ok {
			c.fail(cpu.ERR_INSN_INVALID, "lea without memory operand")
			break
		}
		c.set(a, c.argSize(a), c.ea(m))
	case x86asm.XCHG:
		size := c.argSize(a)
		va, vb := c.get(a, size), c.get(b, size)
		c.set(a, size, vb)
		c.set(b, size, va)
	case x86asm.BSWAP:
		switch c.argSize(a) {
		case 8:
			c.set(a, 8, bits.ReverseBytes64(c.get(a, 8)))
		case 4:
			c.set(a, 4, uint64(bits.ReverseBytes32(uint32(c.get(a, 4)))))
		default:
			// undefined for 16-bit operands
			c.set(a, 2, 0)
		}
	case x86asm.CMOVA, x86asm.CMOVAE, x86asm.CMOVB, x86asm.CMOVBE, x86asm.CMOVE, x86asm.CMOVG,
		x86asm.CMOVGE, x86asm.CMOVL, x86asm.CMOVLE, x86asm.CMOVNE, x86asm.CMOVNO, x86asm.CMOVNP,
		x86asm.CMOVNS, x86asm.CMOVO, x86asm.CMOVP, x86asm.CMOVS:
		size := c.argSize(a)
		val := c.get(a, size)
		if c.cond(strings.TrimPrefix(name, "CMOV")) {
			val = c.get(b, size)
		}
		// a 32-bit destination is zero-extended even when the move does not happen
		c.set(a, size, val)
	case x86asm.SETA, x86asm.SETAE, x86asm.SETB, x86asm.SETBE, x86asm.SETE, x86asm.SETG,
		x86asm.SETGE, x86asm.SETL, x86asm.SETLE, x86asm.SETNE, x86asm.SETNO, x86asm.SETNP,
		x86asm.SETNS, x86asm.SETO, x86asm.SETP, x86asm.SETS:
		c.set(a, 1, b2u(c.cond(strings.TrimPrefix(name, "SET"))))

	// stack
	case x86asm.PUSH:
		size := c.stackSize()
		c.push(c.get(a, size), size)
	case x86asm.POP:
		size := c.stackSize()
		val := c.pop(size)
		c.set(a, c.argSize(a), val)
	case x86asm.PUSHF, x86asm.PUSHFD, x86asm.PUSHFQ:
		size := map[x86asm.Op]int{x86asm.PUSHF: 2, x86asm.PUSHFD: 4, x86asm.PUSHFQ: 8}[op]
		c.push(c.flags(), size)
	case x86asm.POPF, x86asm.POPFD, x86asm.POPFQ:
		size := map[x86asm.Op]int{x86asm.POPF: 2, x86asm.POPFD: 4, x86asm.POPFQ: 8}[op]
		val := c.pop(size)
		if c.err == nil {
			c.updateFlags(flagsWritable&cpu.Mask(size), val)
		}
	case x86asm.LEAVE:
		sp := c.stackReg()
		frame := map[x86asm.Reg]x86asm.Reg{x86asm.RSP: x86asm.RBP, x86asm.ESP: x86asm.EBP, x86asm.SP: x86asm.BP}[sp]
		saved := c.reg(sp)
		c.setReg(sp, c.reg(frame))
		size := c.stackSize()
		val := c.pop(size)
		if c.err != nil {
			c.setReg(sp, saved)
			break
		}
		bp := map[int]x86asm.Reg{8: x86asm.RBP, 4: x86asm.EBP, 2: x86asm.BP}[size]
		c.setReg(bp, val)

	// arithmetic
	case x86asm.ADD, x86asm.ADC:
		size := c.argSize(a)
		carry := uint64(0)
		if op == x86asm.ADC {
			carry = c.flags() & FLAG_CF
		}
		va, vb := c.get(a, size), c.get(b, size)
		if c.err == nil {
			c.set(a, size, c.add(va, vb, carry, size))
		}
	case x86asm.SUB, x86asm.SBB, x86asm.CMP:
		size := c.argSize(a)
		borrow := uint64(0)
		if op == x86asm.SBB {
			borrow = c.flags() & FLAG_CF
		}
		va, vb := c.get(a, size), c.get(b, size)
		if c.err != nil {
			break
		}
		res := c.sub(va, vb, borrow, size)
		if op != x86asm.CMP {
			c.set(a, size, res)
		}
	case x86asm.AND, x86asm.OR, x86asm.XOR, x86asm.TEST:
		size := c.argSize(a)
		va, vb := c.get(a, size), c.get(b, size)
		if c.err != nil {
			break
		}
		var res uint64
		switch op {
		case x86asm.AND, x86asm.TEST:
			res = va & vb
		case x86asm.OR:
			res = va | vb
		case x86asm.XOR:
			res = va ^ vb
		}
		res = c.logic(res, size)
		if op != x86asm.TEST {
			c.set(a, size, res)
		}
	case x86asm.INC, x86asm.DEC:
		size := c.argSize(a)
		va := c.get(a, size)
		if c.err == nil {
			c.set(a, size, c.incdec(va, size, op == x86asm.DEC))
		}
	case x86asm.NEG:
		size := c.argSize(a)
		va := c.get(a, size)
		if c.err == nil {
			c.set(a, size, c.neg(va, size))
		}
	case x86asm.NOT:
		size := c.argSize(a)
		c.set(a, size, ^c.get(a, size))
	case x86asm.MUL, x86asm.IMUL:
		c.mulOp(op == x86asm.IMUL)
	case x86asm.DIV, x86asm.IDIV:
		c.divOp(op == x86asm.IDIV)
	case x86asm.CBW, x86asm.CWDE, x86asm.CDQE:
		src := map[x86asm.Op]x86asm.Reg{x86asm.CBW: x86asm.AL, x86asm.CWDE: x86asm.AX, x86asm.CDQE: x86asm.EAX}[op]
		dst := map[x86asm.Op]x86asm.Reg{x86asm.CBW: x86asm.AX, x86asm.CWDE: x86asm.EAX, x86asm.CDQE: x86asm.RAX}[op]
		ss := c.regSize(src)
		c.setReg(dst, cpu.SignExtend(c.reg(src), ss)&cpu.Mask(c.regSize(dst)))
	case x86asm.CWD, x86asm.CDQ, x86asm.CQO:
		regs := map[x86asm.Op][2]x86asm.Reg{
			x86asm.CWD: {x86asm.AX, x86asm.DX},
			x86asm.CDQ: {x86asm.EAX, x86asm.EDX},
			x86asm.CQO: {x86asm.RAX, x86asm.RDX},
		}[op]
		size := c.regSize(regs[0])
		var hi uint64
		if c.reg(regs[0])&signBit(size) != 0 {
			hi = cpu.Mask(size)
		}
		c.setReg(regs[1], hi)

	// shifts
	case x86asm.SHL, x86asm.SHR, x86asm.SAR, x86asm.ROL, x86asm.ROR, x86asm.RCL, x86asm.RCR:
		size := c.argSize(a)
		count := uint64(1)
		if b != nil {
			count = c.get(b, 1)
		}
		if size == 8 {
			count &= 0x3f
		} else {
			count &= 0x1f
		}
		va := c.get(a, size)
		if c.err == nil {
			c.set(a, size, c.shift(strings.ToLower(name), va, count, size))
		}
	case x86asm.SHLD, x86asm.SHRD:
		size := c.argSize(a)
		count := c.get(args[2], 1)
		if size == 8 {
			count &= 0x3f
		} else {
			count &= 0x1f
		}
		va, vb := c.get(a, size), c.get(b, size)
		if c.err == nil {
			c.set(a, size, c.shiftDouble(op == x86asm.SHLD, va, vb, count, size))
		}

	// flags
	case x86asm.CLC:
		c.setFlag(FLAG_CF, false)
	case x86asm.STC:
		c.setFlag(FLAG_CF, true)
	case x86asm.CMC:
		c.setFlag(FLAG_CF, !c.flag(FLAG_CF))
	case x86asm.CLD:
		c.setFlag(FLAG_DF, false)
	case x86asm.STD:
		c.setFlag(FLAG_DF, true)
	case x86asm.CLI:
		c.setFlag(FLAG_IF, false)
	case x86asm.STI:
		c.setFlag(FLAG_IF, true)

	// control flow
	case x86asm.JMP:
		c.next = c.target(a)
	case x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG, x86asm.JGE,
		x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO,
		x86asm.JP, x86asm.JS:
		if c.cond(strings.TrimPrefix(name, "J")) {
			c.next = c.target(a)
		}
	case x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		r := map[x86asm.Op]x86asm.Reg{x86asm.JCXZ: x86asm.CX, x86asm.JECXZ: x86asm.ECX, x86asm.JRCXZ: x86asm.RCX}[op]
		if c.reg(r) == 0 {
			c.next = c.target(a)
		}
	case x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE:
		r := c.counter()
		count := (c.reg(r) - 1) & cpu.Mask(c.regSize(r))
		c.setReg(r, count)
		taken := count != 0
		if op == x86asm.LOOPE {
			taken = taken && c.flag(FLAG_ZF)
		} else if op == x86asm.LOOPNE {
			taken = taken && !c.flag(FLAG_ZF)
		}
		if taken {
			c.next = c.target(a)
		}
	case x86asm.CALL:
		dst := c.target(a)
		c.push(c.next, c.stackSize())
		c.next = dst
	case x86asm.RET:
		dst := c.pop(c.stackSize())
		if imm, ok := a.(x86asm.Imm); ok && c.err == nil {
			sp := c.stackReg()
			c.setReg(sp, (c.reg(sp)+uint64(imm))&cpu.Mask(c.regSize(sp)))
		}
		c.next = dst

	// system
	case x86asm.IN:
		size := c.argSize(a)
		port := uint32(c.get(b, 2))
		var val uint32
		c.insnHook(INS_IN, func(cb interface{}) {
			val = cb.(func(cpu.Cpu, uint32, int) uint32)(c, port, size)
		})
		c.set(a, size, uint64(val))
	case x86asm.OUT:
		size := c.argSize(b)
		port := uint32(c.get(a, 2))
		val := uint32(c.get(b, size))
		c.insnHook(INS_OUT, func(cb interface{}) {
			cb.(func(cpu.Cpu, uint32, int, uint32))(c, port, size, val)
		})
	case x86asm.SYSCALL, x86asm.SYSENTER:
		id := INS_SYSCALL
		if op == x86asm.SYSENTER {
			id = INS_SYSENTER
		}
		c.insnHook(id, func(cb interface{}) {
			cb.(func(cpu.Cpu))(c)
		})
	case x86asm.INT:
		c.interrupt(uint32(c.get(a, 1)))

	default:
		c.fail(cpu.ERR_INSN_INVALID, "unsupported instruction %s", c.ins)
	}
	return false
}

// implicit accumulator pairs for mul and div, by operand size
var accPairs = map[int][2]x86asm.Reg{
	1: {x86asm.AL, x86asm.AH},
	2: {x86asm.AX, x86asm.DX},
	4: {x86asm.EAX, x86asm.EDX},
	8: {x86asm.RAX, x86asm.RDX},
}

func (c *X86Cpu) mulOp(signed bool) {
	args := c.inst.Args
	if args[1] != nil {
		// two and three operand imul truncate into the destination
		size := c.argSize(args[0])
		x, y := c.get(args[0], size), c.get(args[1], size)
		if args[2] != nil {
			x, y = y, c.get(args[2], size)
		}
		if c.err != nil {
			return
		}
		hi, lo := mul(x, y, size, true)
		c.mulFlags(hi, lo, size, true)
		c.set(args[0], size, lo)
		return
	}
	size := c.argSize(args[0])
	src := c.get(args[0], size)
	if c.err != nil {
		return
	}
	acc := accPairs[size]
	hi, lo := mul(c.reg(acc[0])&cpu.Mask(size), src, size, signed)
	c.mulFlags(hi, lo, size, signed)
	if size == 1 {
		c.setReg(x86asm.AX, hi<<8|lo)
		return
	}
	c.setReg(acc[0], lo)
	c.setReg(acc[1], hi)
}

func (c *X86Cpu) divOp(signed bool) {
	size := c.argSize(c.inst.Args[0])
	divisor := c.get(c.inst.Args[0], size)
	if c.err != nil {
		return
	}
	acc := accPairs[size]
	var hi, lo uint64
	if size == 1 {
		ax := c.reg(x86asm.AX)
		hi, lo = ax>>8, ax&0xff
	} else {
		hi, lo = c.reg(acc[1]), c.reg(acc[0])
	}
	if divisor == 0 {
		c.interrupt(0)
		return
	}
	var quo, rem uint64
	var ok bool
	if signed {
		quo, rem, ok = idiv(hi, lo, divisor, size)
	} else {
		quo, rem, ok = udiv(hi, lo, divisor, size)
	}
	if !ok {
		c.interrupt(0)
		return
	}
	if size == 1 {
		c.setReg(x86asm.AX, rem<<8|quo)
		return
	}
	c.setReg(acc[0], quo)
	c.setReg(acc[1], rem)
}

func udiv(hi, lo, d uint64, size int) (quo, rem uint64, ok bool) {
	mask := cpu.Mask(size)
	if size == 8 {
		if hi >= d {
			return 0, 0, false
		}
		quo, rem = bits.Div64(hi, lo, d)
		return quo, rem, true
	}
	n := (hi&mask)<<(uint(size)*8) | lo&mask
	quo, rem = n/d, n%d
	return quo, rem, quo <= mask
}

func idiv(hi, lo, d uint64, size int) (quo, rem uint64, ok bool) {
	width := uint(size) * 8
	mask := cpu.Mask(size)
	n := new(big.Int).SetUint64(hi & mask)
	n.Lsh(n, width)
	n.Or(n, new(big.Int).SetUint64(lo&mask))
	// sign-extend the double-width dividend
	if hi&signBit(size) != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), 2*width))
	}
	den := big.NewInt(int64(cpu.SignExtend(d, size)))
	q, r := new(big.Int).QuoRem(n, den, new(big.Int))
	limit := new(big.Int).Lsh(big.NewInt(1), width-1)
	if q.Cmp(new(big.Int).Neg(limit)) < 0 || q.Cmp(limit) >= 0 {
		return 0, 0, false
	}
	return uint64(q.Int64()) & mask, uint64(r.Int64()) & mask, true
}
