package x86

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/arch/x86/x86asm"

	"github.com/lunixbochs/minicorn/models/cpu"
)

// MaxInsLen is the architectural limit on x86 instruction length.
const MaxInsLen = 15

// Ins wraps a decoded x86asm instruction.
type Ins struct {
	addr  uint64
	inst  x86asm.Inst
	bytes []byte
}

func (i *Ins) String() string {
	return x86asm.IntelSyntax(i.inst, i.addr, nil)
}

func (i *Ins) Addr() uint64 {
	return i.addr
}

func (i *Ins) Bytes() []byte {
	return i.bytes
}

func (i *Ins) Mnemonic() string {
	return strings.SplitN(i.String(), " ", 2)[0]
}

func (i *Ins) OpStr() string {
	s := strings.SplitN(i.String(), " ", 2)
	if len(s) < 2 {
		return ""
	}
	return s[1]
}

// Inst exposes the decoded instruction.
func (i *Ins) Inst() x86asm.Inst {
	return i.inst
}

func (i *Ins) Branch() bool {
	switch i.inst.Op {
	case x86asm.JMP, x86asm.LJMP, x86asm.CALL, x86asm.LCALL, x86asm.RET, x86asm.LRET,
		x86asm.IRET, x86asm.IRETD, x86asm.IRETQ,
		x86asm.JA, x86asm.JAE, x86asm.JB, x86asm.JBE, x86asm.JE, x86asm.JG, x86asm.JGE,
		x86asm.JL, x86asm.JLE, x86asm.JNE, x86asm.JNO, x86asm.JNP, x86asm.JNS, x86asm.JO,
		x86asm.JP, x86asm.JS, x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ,
		x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE,
		x86asm.INT, x86asm.SYSCALL, x86asm.SYSENTER, x86asm.HLT:
		return true
	}
	return false
}

// Dis decodes x86 machine code for one mode.
type Dis struct {
	Bits int
}

func (d *Dis) Decode(addr uint64, code []byte) (cpu.Ins, error) {
	inst, err := x86asm.Decode(code, d.Bits)
	// x86asm reports a short buffer either as ErrTruncated or as a lone
	// prefix (Op 0) with no error
	if err == x86asm.ErrTruncated || err == nil && inst.Op == 0 {
		if len(code) < MaxInsLen && d.truncated(code) {
			return nil, cpu.ErrTruncated
		}
		if err == nil {
			err = errors.Errorf("invalid instruction")
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode %x at %#x", code, addr)
	}
	bytes := make([]byte, inst.Len)
	copy(bytes, code)
	return &Ins{addr: addr, inst: inst, bytes: bytes}, nil
}

// truncated reports whether code is the start of a valid instruction longer than code.
func (d *Dis) truncated(code []byte) bool {
	pad := make([]byte, MaxInsLen)
	copy(pad, code)
	inst, err := x86asm.Decode(pad, d.Bits)
	return err == nil && inst.Op != 0 && inst.Len > len(code)
}

// Dis decodes every instruction in mem, stopping at the first undecodable byte.
func (d *Dis) Dis(mem []byte, addr uint64) ([]cpu.Ins, error) {
	var ret []cpu.Ins
	for len(mem) > 0 {
		ins, err := d.Decode(addr, mem)
		if err != nil {
			if len(ret) == 0 {
				return nil, err
			}
			break
		}
		ret = append(ret, ins)
		n := len(ins.Bytes())
		mem, addr = mem[n:], addr+uint64(n)
	}
	return ret, nil
}

// asmRegs maps decoder registers to register enums
var asmRegs = map[x86asm.Reg]int{
	x86asm.AL: AL, x86asm.CL: CL, x86asm.DL: DL, x86asm.BL: BL,
	x86asm.AH: AH, x86asm.CH: CH, x86asm.DH: DH, x86asm.BH: BH,
	x86asm.SPB: SPL, x86asm.BPB: BPL, x86asm.SIB: SIL, x86asm.DIB: DIL,
	x86asm.R8B: R8B, x86asm.R9B: R9B, x86asm.R10B: R10B, x86asm.R11B: R11B,
	x86asm.R12B: R12B, x86asm.R13B: R13B, x86asm.R14B: R14B, x86asm.R15B: R15B,

	x86asm.AX: AX, x86asm.CX: CX, x86asm.DX: DX, x86asm.BX: BX,
	x86asm.SP: SP, x86asm.BP: BP, x86asm.SI: SI, x86asm.DI: DI,
	x86asm.R8W: R8W, x86asm.R9W: R9W, x86asm.R10W: R10W, x86asm.R11W: R11W,
	x86asm.R12W: R12W, x86asm.R13W: R13W, x86asm.R14W: R14W, x86asm.R15W: R15W,

	x86asm.EAX: EAX, x86asm.ECX: ECX, x86asm.EDX: EDX, x86asm.EBX: EBX,
	x86asm.ESP: ESP, x86asm.EBP: EBP, x86asm.ESI: ESI, x86asm.EDI: EDI,
	x86asm.R8L: R8D, x86asm.R9L: R9D, x86asm.R10L: R10D, x86asm.R11L: R11D,
	x86asm.R12L: R12D, x86asm.R13L: R13D, x86asm.R14L: R14D, x86asm.R15L: R15D,

	x86asm.RAX: RAX, x86asm.RCX: RCX, x86asm.RDX: RDX, x86asm.RBX: RBX,
	x86asm.RSP: RSP, x86asm.RBP: RBP, x86asm.RSI: RSI, x86asm.RDI: RDI,
	x86asm.R8: R8, x86asm.R9: R9, x86asm.R10: R10, x86asm.R11: R11,
	x86asm.R12: R12, x86asm.R13: R13, x86asm.R14: R14, x86asm.R15: R15,

	x86asm.IP: IP, x86asm.EIP: EIP, x86asm.RIP: RIP,

	x86asm.ES: ES, x86asm.CS: CS, x86asm.SS: SS,
	x86asm.DS: DS, x86asm.FS: FS, x86asm.GS: GS,
}
