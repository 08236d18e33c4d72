package x86

import (
	"math/bits"

	"github.com/lunixbochs/minicorn/models/cpu"
)

func (c *X86Cpu) flags() uint64 {
	f, _ := c.RegRead(EFLAGS)
	return f
}

func (c *X86Cpu) setFlags(f uint64) {
	c.RegWrite(EFLAGS, f|flagsFixed)
}

func (c *X86Cpu) flag(f uint64) bool {
	return c.flags()&f != 0
}

func (c *X86Cpu) setFlag(f uint64, on bool) {
	if on {
		c.setFlags(c.flags() | f)
	} else {
		c.setFlags(c.flags() &^ f)
	}
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func signBit(size int) uint64 {
	return 1 << (uint(size)*8 - 1)
}

// parity of the low byte, true when even
func parity(v uint64) bool {
	return bits.OnesCount8(uint8(v))%2 == 0
}

// szp computes the flags every arithmetic and logic result sets the same way
func szp(res uint64, size int) uint64 {
	var f uint64
	if res&cpu.Mask(size) == 0 {
		f |= FLAG_ZF
	}
	if res&signBit(size) != 0 {
		f |= FLAG_SF
	}
	if parity(res) {
		f |= FLAG_PF
	}
	return f
}

// updateFlags replaces the bits in mask with f
func (c *X86Cpu) updateFlags(mask, f uint64) {
	c.setFlags(c.flags()&^mask | f&mask)
}

func (c *X86Cpu) add(a, b, carry uint64, size int) uint64 {
	mask := cpu.Mask(size)
	a, b = a&mask, b&mask
	res, cout := bits.Add64(a, b, carry)
	if size < 8 {
		cout = res >> (uint(size) * 8) & 1
		res &= mask
	}
	f := szp(res, size)
	f |= cout * FLAG_CF
	if ^(a^b)&(a^res)&signBit(size) != 0 {
		f |= FLAG_OF
	}
	if (a^b^res)&0x10 != 0 {
		f |= FLAG_AF
	}
	c.updateFlags(flagsArith, f)
	return res
}

func (c *X86Cpu) sub(a, b, borrow uint64, size int) uint64 {
	mask := cpu.Mask(size)
	a, b = a&mask, b&mask
	res, bout := bits.Sub64(a, b, borrow)
	if size < 8 {
		bout = b2u(a < b+borrow)
		res &= mask
	}
	f := szp(res, size)
	f |= bout * FLAG_CF
	if (a^b)&(a^res)&signBit(size) != 0 {
		f |= FLAG_OF
	}
	if (a^b^res)&0x10 != 0 {
		f |= FLAG_AF
	}
	c.updateFlags(flagsArith, f)
	return res
}

func (c *X86Cpu) logic(res uint64, size int) uint64 {
	res &= cpu.Mask(size)
	c.updateFlags(flagsArith, szp(res, size))
	return res
}

// inc and dec leave CF alone
func (c *X86Cpu) incdec(a uint64, size int, dec bool) uint64 {
	cf := c.flags() & FLAG_CF
	var res uint64
	if dec {
		res = c.sub(a, 1, 0, size)
	} else {
		res = c.add(a, 1, 0, size)
	}
	c.updateFlags(FLAG_CF, cf)
	return res
}

func (c *X86Cpu) neg(a uint64, size int) uint64 {
	return c.sub(0, a, 0, size)
}

// shift implements shl, shr, sar, rol, ror, rcl and rcr. count is already masked.
func (c *X86Cpu) shift(op string, a, count uint64, size int) uint64 {
	width := uint64(size) * 8
	mask := cpu.Mask(size)
	sign := signBit(size)
	a &= mask
	if count == 0 {
		return a
	}
	var res uint64
	cf := c.flags()&FLAG_CF != 0
	of := false
	switch op {
	case "shl":
		if count <= width {
			cf = (a>>(width-count))&1 != 0
		} else {
			cf = false
		}
		if count < 64 {
			res = a << count & mask
		}
		of = (res&sign != 0) != cf
	case "shr":
		if count <= width {
			cf = (a>>(count-1))&1 != 0
		} else {
			cf = false
		}
		if count < 64 {
			res = a >> count
		}
		of = a&sign != 0
	case "sar":
		s := int64(cpu.SignExtend(a, size))
		if count >= 64 {
			count = 63
		}
		cf = (s>>(count-1))&1 != 0
		res = uint64(s>>count) & mask
	case "rol":
		n := count % width
		res = (a<<n | a>>(width-n)) & mask
		cf = res&1 != 0
		of = (res&sign != 0) != cf
	case "ror":
		n := count % width
		res = (a>>n | a<<(width-n)) & mask
		cf = res&sign != 0
		of = (res&sign != 0) != (res&(sign>>1) != 0)
	case "rcl", "rcr":
		res = a
		n := count % (width + 1)
		for i := uint64(0); i < n; i++ {
			if op == "rcl" {
				out := res&sign != 0
				res = (res<<1 | b2u(cf)) & mask
				cf = out
			} else {
				out := res&1 != 0
				res = res>>1 | b2u(cf)*sign
				cf = out
			}
		}
		if op == "rcl" {
			of = (res&sign != 0) != cf
		} else {
			of = (res&sign != 0) != (res&(sign>>1) != 0)
		}
	}
	f := b2u(cf) * FLAG_CF
	if of {
		f |= FLAG_OF
	}
	if op == "rol" || op == "ror" || op == "rcl" || op == "rcr" {
		c.updateFlags(FLAG_CF|FLAG_OF, f)
	} else {
		c.updateFlags(flagsArith, f|szp(res, size))
	}
	return res
}

// shld shifts dst left, filling from src. shrd shifts dst right, filling from src.
func (c *X86Cpu) shiftDouble(left bool, dst, src, count uint64, size int) uint64 {
	width := uint64(size) * 8
	mask := cpu.Mask(size)
	dst, src = dst&mask, src&mask
	if count == 0 {
		return dst
	}
	if count > width {
		count %= width
		if count == 0 {
			return dst
		}
	}
	var res uint64
	var cf bool
	if left {
		res = dst << count
		if count < width {
			res |= src >> (width - count)
		}
		cf = (dst>>(width-count))&1 != 0
	} else {
		res = dst >> count
		if count < width {
			res |= src << (width - count)
		}
		cf = (dst>>(count-1))&1 != 0
	}
	res &= mask
	f := szp(res, size) | b2u(cf)*FLAG_CF
	if (res^dst)&signBit(size) != 0 {
		f |= FLAG_OF
	}
	c.updateFlags(flagsArith, f)
	return res
}

// cond evaluates a condition code by the suffix shared by jcc, setcc and cmovcc
func (c *X86Cpu) cond(cc string) bool {
	f := c.flags()
	cf, zf, sf, of, pf := f&FLAG_CF != 0, f&FLAG_ZF != 0, f&FLAG_SF != 0, f&FLAG_OF != 0, f&FLAG_PF != 0
	switch cc {
	case "O":
		return of
	case "NO":
		return !of
	case "B":
		return cf
	case "AE":
		return !cf
	case "E":
		return zf
	case "NE":
		return !zf
	case "BE":
		return cf || zf
	case "A":
		return !cf && !zf
	case "S":
		return sf
	case "NS":
		return !sf
	case "P":
		return pf
	case "NP":
		return !pf
	case "L":
		return sf != of
	case "GE":
		return sf == of
	case "LE":
		return zf || sf != of
	case "G":
		return !zf && sf == of
	}
	c.fail(cpu.ERR_INSN_INVALID, "unknown condition %q", cc)
	return false
}

// mul returns the double-width product of a and b as hi, lo
func mul(a, b uint64, size int, signed bool) (hi, lo uint64) {
	if signed {
		sa, sb := int64(cpu.SignExtend(a, size)), int64(cpu.SignExtend(b, size))
		if size == 8 {
			hi, lo = bits.Mul64(uint64(sa), uint64(sb))
			if sa < 0 {
				hi -= uint64(sb)
			}
			if sb < 0 {
				hi -= uint64(sa)
			}
			return hi, lo
		}
		p := uint64(sa * sb)
		shift := uint(size) * 8
		return p >> shift & cpu.Mask(size), p & cpu.Mask(size)
	}
	if size == 8 {
		return bits.Mul64(a, b)
	}
	p := (a & cpu.Mask(size)) * (b & cpu.Mask(size))
	shift := uint(size) * 8
	return p >> shift & cpu.Mask(size), p & cpu.Mask(size)
}

// mulFlags sets CF and OF when the product does not fit in the low half
func (c *X86Cpu) mulFlags(hi, lo uint64, size int, signed bool) {
	var overflow bool
	if signed {
		ext := uint64(0)
		if lo&signBit(size) != 0 {
			ext = cpu.Mask(size)
		}
		overflow = hi != ext
	} else {
		overflow = hi != 0
	}
	f := szp(lo, size)
	if overflow {
		f |= FLAG_CF | FLAG_OF
	}
	c.updateFlags(flagsArith, f)
}
