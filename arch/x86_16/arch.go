package x86_16

import (
	"github.com/lunixbochs/minicorn/cpu/x86"
	"github.com/lunixbochs/minicorn/models"
)

var Arch = &models.Arch{
	Name: "x86_16",
	Bits: 16,

	Cpu: &x86.Builder{Bits: 16},
	Dis: &x86.Dis{Bits: 16},

	PC: x86.IP,
	SP: x86.SP,
	Regs: map[string]int{
		"ip": x86.IP,
		"sp": x86.SP,
		"bp": x86.BP,
		"ax": x86.AX,
		"bx": x86.BX,
		"cx": x86.CX,
		"dx": x86.DX,
		"si": x86.SI,
		"di": x86.DI,

		"flags": x86.FLAGS,

		"cs": x86.CS,
		"ds": x86.DS,
		"es": x86.ES,
		"fs": x86.FS,
		"gs": x86.GS,
		"ss": x86.SS,
	},
	DefaultRegs: []string{
		"ax", "bx", "cx", "dx", "si", "di", "bp",
	},
}
