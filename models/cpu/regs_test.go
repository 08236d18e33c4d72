package cpu

import (
	"testing"
)

func makeRegs(bits uint) ([]int, *Regs) {
	enums := make([]int, 100)
	for i := range enums {
		enums[i] = 100 - i
	}
	return enums, NewRegs(bits, enums)
}

func BenchmarkRegsRead(b *testing.B) {
	enums, regs := makeRegs(64)
	for i := 0; i < b.N; i++ {
		regs.RegRead(enums[i%len(enums)])
	}
}

func BenchmarkRegsWrite(b *testing.B) {
	enums, regs := makeRegs(64)
	for i := 0; i < b.N; i++ {
		regs.RegWrite(enums[i%len(enums)], uint64(i))
	}
}

func TestRegs(t *testing.T) {
	enums, regs := makeRegs(64)

	// save context to check zeroes later
	ctx, err := regs.ContextSave(nil)
	if err != nil {
		t.Fatal(err, "initial ContextSave() failed")
	}

	// set all regs to pos * 2
	for i, e := range enums {
		if err := regs.RegWrite(e, uint64(i*2)); err != nil {
			t.Fatal(err, "initial RegWrite() failed")
		}
	}

	// check first set
	for i, e := range enums {
		if val, err := regs.RegRead(e); err != nil {
			t.Fatal(err, "initial RegRead() failed")
		} else if val != uint64(i*2) {
			t.Fatalf("RegRead() returned %d, expecting %d", val, i*2)
		}
	}

	// restore context and check
	if err := regs.ContextRestore(ctx); err != nil {
		t.Fatal(err, "ContextRestore() failed")
	}
	for _, e := range enums {
		if val, err := regs.RegRead(e); err != nil {
			t.Fatal(err, "RegRead() failed")
		} else if val != 0 {
			t.Fatalf("RegRead() returned %d, expecting 0", val)
		}
	}

	// test reusing context
	if err := regs.RegWrite(enums[0], 1); err != nil {
		t.Fatal(err, "RegWrite() failed")
	}
	if _, err := regs.ContextSave(ctx); err != nil {
		t.Fatal(err, "ContextSave() failed")
	}
	if err := regs.RegWrite(enums[0], 0); err != nil {
		t.Fatal(err, "RegWrite() failed")
	}
	if err := regs.ContextRestore(ctx); err != nil {
		t.Fatal(err, "ContextRestore() failed")
	}
	if val, err := regs.RegRead(enums[0]); err != nil {
		t.Fatal(err, "RegRead() failed")
	} else if val != 1 {
		t.Fatalf("RegRead() returned %d, expecting 1", val)
	}

	if err := regs.ContextRestore("nope"); ErrnoOf(err) != ERR_ARG {
		t.Fatalf("ContextRestore(bad) = %v, expecting ERR_ARG", err)
	}
}

func TestRegs8(t *testing.T) {
	enums, regs := makeRegs(8)
	if err := regs.RegWrite(enums[0], 0xffff); err != nil {
		t.Fatal("RegWrite() failed")
	}
	if val, err := regs.RegRead(enums[0]); err != nil {
		t.Fatal("RegRead() failed")
	} else if val != 0xffff&0xff {
		t.Fatalf("RegRead() returned %d, expecting 255", val)
	}
}

func TestRegsUnknown(t *testing.T) {
	_, regs := makeRegs(64)
	if _, err := regs.RegRead(1000); ErrnoOf(err) != ERR_ARG {
		t.Fatalf("RegRead(unknown) = %v, expecting ERR_ARG", err)
	}
	if err := regs.RegWrite(1000, 1); ErrnoOf(err) != ERR_ARG {
		t.Fatalf("RegWrite(unknown) = %v, expecting ERR_ARG", err)
	}
	// batch writes are all-or-nothing
	if err := regs.RegWriteBatch([]int{1, 1000}, []uint64{5, 5}); ErrnoOf(err) != ERR_ARG {
		t.Fatalf("RegWriteBatch(unknown) = %v, expecting ERR_ARG", err)
	}
	if val, _ := regs.RegRead(1); val != 0 {
		t.Fatalf("partial batch write left %#x in reg 1", val)
	}
}

// views alias a 64-bit cell the way x86 aliases rax/eax/ax/ah/al
func TestRegViews(t *testing.T) {
	const (
		rax = iota
		eax
		ax
		ah
		al
	)
	regs := NewRegFile(1, map[int]View{
		rax: {Cell: 0, Bits: 64},
		eax: {Cell: 0, Bits: 32},
		ax:  {Cell: 0, Bits: 16},
		ah:  {Cell: 0, Shift: 8, Bits: 8},
		al:  {Cell: 0, Bits: 8},
	})
	regs.RegWrite(rax, 0x1122334455667788)
	regs.RegWrite(ah, 0xaa)
	regs.RegWrite(al, 0x1bb)
	table := map[int]uint64{
		rax: 0x112233445566aabb,
		eax: 0x5566aabb,
		ax:  0xaabb,
		ah:  0xaa,
		al:  0xbb,
	}
	for reg, want := range table {
		if got, err := regs.RegRead(reg); err != nil {
			t.Fatal(err)
		} else if got != want {
			t.Errorf("reg %d = %#x, expecting %#x", reg, got, want)
		}
	}
	// a 32-bit view write does not touch the upper half on its own
	regs.RegWrite(eax, 1)
	if got, _ := regs.RegRead(rax); got != 0x1122334400000001 {
		t.Errorf("rax = %#x after eax write", got)
	}
	vals, err := regs.RegReadBatch([]int{ax, al})
	if err != nil {
		t.Fatal(err)
	}
	if vals[0] != 1 || vals[1] != 1 {
		t.Errorf("RegReadBatch = %#x", vals)
	}
}
