package x86_64

import (
	"github.com/lunixbochs/minicorn/cpu/x86"
	"github.com/lunixbochs/minicorn/models"
)

var Arch = &models.Arch{
	Name: "x86_64",
	Bits: 64,

	Cpu: &x86.Builder{Bits: 64},
	Dis: &x86.Dis{Bits: 64},

	PC: x86.RIP,
	SP: x86.RSP,
	Regs: map[string]int{
		"rip": x86.RIP,
		"rsp": x86.RSP,
		"rbp": x86.RBP,
		"rax": x86.RAX,
		"rbx": x86.RBX,
		"rcx": x86.RCX,
		"rdx": x86.RDX,
		"rsi": x86.RSI,
		"rdi": x86.RDI,
		"r8":  x86.R8,
		"r9":  x86.R9,
		"r10": x86.R10,
		"r11": x86.R11,
		"r12": x86.R12,
		"r13": x86.R13,
		"r14": x86.R14,
		"r15": x86.R15,

		"rflags": x86.RFLAGS,

		"cs": x86.CS,
		"ds": x86.DS,
		"es": x86.ES,
		"fs": x86.FS,
		"gs": x86.GS,
		"ss": x86.SS,
	},
	DefaultRegs: []string{
		"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	},
}
