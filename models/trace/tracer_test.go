package trace

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lunixbochs/minicorn/cpu/x86"
	"github.com/lunixbochs/minicorn/models/cpu"
)

func readAll(t *testing.T, buf *bytes.Buffer) (TraceHeader, []Op) {
	r, err := NewReader(buf)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	var ops []Op
	for {
		op, err := r.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		ops = append(ops, op)
	}
	return r.Header, ops
}

func TestTraceFile(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, "x86_64", 64)
	if err != nil {
		t.Fatal(err)
	}
	for _, op := range allOps {
		if err := w.Pack(op); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	header, ops := readAll(t, &buf)
	if header.Arch != "x86_64" || header.Bits != 64 {
		t.Errorf("header = %+v", header)
	}
	if diff := cmp.Diff(allOps, ops); diff != "" {
		t.Errorf("ops (-want +got):\n%s", diff)
	}
}

func TestBadMagic(t *testing.T) {
	if _, err := NewReader(bytes.NewReader(make([]byte, 64))); err == nil {
		t.Error("bad magic accepted")
	}
}

func TestTracer(t *testing.T) {
	const base = 0x1000
	// inc eax; mov [0x1100], eax; int 0x80
	code := []byte{0x40, 0xA3, 0x00, 0x11, 0x00, 0x00, 0xCD, 0x80}
	c, err := x86.New(32)
	if err != nil {
		t.Fatal(err)
	}
	c.MemMap(base, 0x1000)
	c.MemWrite(base, code)
	c.HookAdd(cpu.HOOK_INTR, func(cpu.Cpu, uint32) {}, 1, 0)

	var buf bytes.Buffer
	w, _ := NewWriter(&buf, "x86", 32)
	tr := NewTracer(w)
	if err := tr.Attach(c); err != nil {
		t.Fatal(err)
	}
	reason, err := c.Start(base, base+uint64(len(code)), 0, 0)
	last, _ := c.Last()
	tr.Exit(last.PC, last.Count, reason, err)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	_, ops := readAll(t, &buf)
	want := []Op{
		&OpMemMap{base, 0x1000, cpu.PROT_ALL},
		&OpJmp{base, 8},
		&OpStep{base, 1},
		&OpStep{base + 1, 5},
		&OpMemWrite{0x1100, []byte{1, 0, 0, 0}},
		&OpStep{base + 6, 2},
		&OpIntr{0x80},
		&OpExit{base + 8, 3, uint8(cpu.STOP_UNTIL), 0},
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("trace (-want +got):\n%s", diff)
	}
}

func TestTracerFaultedWrite(t *testing.T) {
	const base, data = 0x1000, 0x2000
	// mov [0x2000], eax
	code := []byte{0xA3, 0x00, 0x20, 0x00, 0x00}
	c, err := x86.New(32)
	if err != nil {
		t.Fatal(err)
	}
	c.MemMap(base, 0x1000)
	c.MemMap(data, 0x1000)
	c.MemWrite(base, code)
	// the write hook runs before the store lands, so revoking write access makes it fault
	c.HookAdd(cpu.HOOK_MEM_WRITE, func(c cpu.Cpu, access int, addr uint64, size int, val int64) {
		c.MemProt(data, 0x1000, cpu.PROT_READ)
	}, 1, 0)

	var buf bytes.Buffer
	w, _ := NewWriter(&buf, "x86", 32)
	tr := NewTracer(w)
	if err := tr.Attach(c); err != nil {
		t.Fatal(err)
	}
	reason, err := c.Start(base, base+uint64(len(code)), 0, 0)
	if cpu.ErrnoOf(err) != cpu.ERR_WRITE_PROT {
		t.Fatalf("write to revoked page: %v", err)
	}
	last, _ := c.Last()
	tr.Exit(last.PC, last.Count, reason, err)
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	_, ops := readAll(t, &buf)
	want := []Op{
		&OpMemMap{base, 0x1000, cpu.PROT_ALL},
		&OpMemMap{data, 0x1000, cpu.PROT_ALL},
		&OpJmp{base, 5},
		&OpStep{base, 5},
		&OpExit{base, 0, uint8(cpu.STOP_FAULT), uint16(cpu.ERR_WRITE_PROT)},
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("trace (-want +got):\n%s", diff)
	}
}

func TestTracerRegs(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, "x86", 32)
	if err != nil {
		t.Fatal(err)
	}
	tr := NewTracer(w)
	enums := []int{x86.EAX, x86.ECX, x86.EDX}
	tr.Regs(enums, []uint64{1, 0, 3})
	tr.Regs(enums, []uint64{1, 2, 3})
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	_, ops := readAll(t, &buf)
	want := []Op{
		&OpReg{Num: uint16(x86.EAX), Val: 1},
		&OpReg{Num: uint16(x86.EDX), Val: 3},
		&OpReg{Num: uint16(x86.ECX), Val: 2},
	}
	if diff := cmp.Diff(want, ops); diff != "" {
		t.Errorf("ops (-want +got):\n%s", diff)
	}
}
