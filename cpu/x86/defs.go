package x86

import (
	"github.com/lunixbochs/minicorn/models/cpu"
)

// register enums
const (
	REG_INVALID = iota

	AH
	AL
	AX
	BH
	BL
	BP
	BPL
	BX
	CH
	CL
	CS
	CX
	DH
	DI
	DIL
	DL
	DS
	DX
	EAX
	EBP
	EBX
	ECX
	EDI
	EDX
	EFLAGS
	EIP
	ES
	ESI
	ESP
	FLAGS
	FS
	GS
	IP
	RAX
	RBP
	RBX
	RCX
	RDI
	RDX
	RFLAGS
	RIP
	RSI
	RSP
	SI
	SIL
	SP
	SPL
	SS

	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	R8D
	R9D
	R10D
	R11D
	R12D
	R13D
	R14D
	R15D
	R8W
	R9W
	R10W
	R11W
	R12W
	R13W
	R14W
	R15W
	R8B
	R9B
	R10B
	R11B
	R12B
	R13B
	R14B
	R15B

	REG_ENDING
)

// instruction ids accepted by HOOK_INSN
const (
	// func(cpu.Cpu, port uint32, size int) uint32
	INS_IN = iota + 1
	// func(cpu.Cpu, port uint32, size int, value uint32)
	INS_OUT
	// func(cpu.Cpu)
	INS_SYSCALL
	// func(cpu.Cpu)
	INS_SYSENTER
)

// eflags bits
const (
	FLAG_CF = 1 << 0
	FLAG_PF = 1 << 2
	FLAG_AF = 1 << 4
	FLAG_ZF = 1 << 6
	FLAG_SF = 1 << 7
	FLAG_TF = 1 << 8
	FLAG_IF = 1 << 9
	FLAG_DF = 1 << 10
	FLAG_OF = 1 << 11

	// bit 1 always reads as set
	flagsFixed = 1 << 1
	flagsArith = FLAG_CF | FLAG_PF | FLAG_AF | FLAG_ZF | FLAG_SF | FLAG_OF
	// bits popf may change
	flagsWritable = flagsArith | FLAG_TF | FLAG_IF | FLAG_DF
)

// storage cells
const (
	cRAX = iota
	cRCX
	cRDX
	cRBX
	cRSP
	cRBP
	cRSI
	cRDI
	cR8
	cR9
	cR10
	cR11
	cR12
	cR13
	cR14
	cR15
	cRIP
	cRFLAGS
	cES
	cCS
	cSS
	cDS
	cFS
	cGS
	numCells
)

type gpr struct {
	q, d, w, b, h      int
	qn, dn, wn, bn, hn string
}

// general purpose registers in encoding order
var gprs = []gpr{
	{RAX, EAX, AX, AL, AH, "rax", "eax", "ax", "al", "ah"},
	{RCX, ECX, CX, CL, CH, "rcx", "ecx", "cx", "cl", "ch"},
	{RDX, EDX, DX, DL, DH, "rdx", "edx", "dx", "dl", "dh"},
	{RBX, EBX, BX, BL, BH, "rbx", "ebx", "bx", "bl", "bh"},
	{RSP, ESP, SP, SPL, 0, "rsp", "esp", "sp", "spl", ""},
	{RBP, EBP, BP, BPL, 0, "rbp", "ebp", "bp", "bpl", ""},
	{RSI, ESI, SI, SIL, 0, "rsi", "esi", "si", "sil", ""},
	{RDI, EDI, DI, DIL, 0, "rdi", "edi", "di", "dil", ""},
	{R8, R8D, R8W, R8B, 0, "r8", "r8d", "r8w", "r8b", ""},
	{R9, R9D, R9W, R9B, 0, "r9", "r9d", "r9w", "r9b", ""},
	{R10, R10D, R10W, R10B, 0, "r10", "r10d", "r10w", "r10b", ""},
	{R11, R11D, R11W, R11B, 0, "r11", "r11d", "r11w", "r11b", ""},
	{R12, R12D, R12W, R12B, 0, "r12", "r12d", "r12w", "r12b", ""},
	{R13, R13D, R13W, R13B, 0, "r13", "r13d", "r13w", "r13b", ""},
	{R14, R14D, R14W, R14B, 0, "r14", "r14d", "r14w", "r14b", ""},
	{R15, R15D, R15W, R15B, 0, "r15", "r15d", "r15w", "r15b", ""},
}

var segs = []struct {
	enum int
	cell int
	name string
}{
	{ES, cES, "es"}, {CS, cCS, "cs"}, {SS, cSS, "ss"},
	{DS, cDS, "ds"}, {FS, cFS, "fs"}, {GS, cGS, "gs"},
}

type regDef struct {
	name string
	view cpu.View
}

// regDefs returns the registers available in a mode.
// 32-bit views exist in 16-bit mode too, as real-mode code may use operand size prefixes.
func regDefs(bits int) map[int]regDef {
	defs := make(map[int]regDef)
	add := func(enum int, name string, cell int, shift, width uint) {
		defs[enum] = regDef{name, cpu.View{Cell: cell, Shift: shift, Bits: width}}
	}
	for i, g := range gprs {
		if i >= 8 && bits != 64 {
			break
		}
		if bits == 64 {
			add(g.q, g.qn, i, 0, 64)
		}
		add(g.d, g.dn, i, 0, 32)
		add(g.w, g.wn, i, 0, 16)
		if i < 4 {
			add(g.b, g.bn, i, 0, 8)
			add(g.h, g.hn, i, 8, 8)
		} else if bits == 64 {
			add(g.b, g.bn, i, 0, 8)
		}
	}
	for _, s := range segs {
		add(s.enum, s.name, s.cell, 0, 16)
	}
	add(IP, "ip", cRIP, 0, 16)
	add(EIP, "eip", cRIP, 0, 32)
	add(FLAGS, "flags", cRFLAGS, 0, 16)
	add(EFLAGS, "eflags", cRFLAGS, 0, 32)
	if bits == 64 {
		add(RIP, "rip", cRIP, 0, 64)
		add(RFLAGS, "rflags", cRFLAGS, 0, 64)
	}
	return defs
}

// RegNames maps register names to enums for a mode.
func RegNames(bits int) map[string]int {
	defs := regDefs(bits)
	names := make(map[string]int, len(defs))
	for enum, def := range defs {
		names[def.name] = enum
	}
	return names
}

// wide32 maps each 32-bit register to the 64-bit register it zero-extends into in long mode
var wide32 = func() map[int]int {
	m := make(map[int]int)
	for _, g := range gprs {
		m[g.d] = g.q
	}
	return m
}()
