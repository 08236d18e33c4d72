package x86

import (
	"github.com/lunixbochs/minicorn/cpu/x86"
	"github.com/lunixbochs/minicorn/models"
)

var Arch = &models.Arch{
	Name: "x86",
	Bits: 32,

	Cpu: &x86.Builder{Bits: 32},
	Dis: &x86.Dis{Bits: 32},

	PC: x86.EIP,
	SP: x86.ESP,
	Regs: map[string]int{
		"eip": x86.EIP,
		"esp": x86.ESP,
		"ebp": x86.EBP,
		"eax": x86.EAX,
		"ebx": x86.EBX,
		"ecx": x86.ECX,
		"edx": x86.EDX,
		"esi": x86.ESI,
		"edi": x86.EDI,

		"eflags": x86.EFLAGS,

		"cs": x86.CS,
		"ds": x86.DS,
		"es": x86.ES,
		"fs": x86.FS,
		"gs": x86.GS,
		"ss": x86.SS,
	},
	DefaultRegs: []string{
		"eax", "ebx", "ecx", "edx", "esi", "edi", "ebp",
	},
}
