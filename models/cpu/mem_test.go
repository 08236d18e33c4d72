package cpu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var asdf = []byte("asdf")

func TestMem16(t *testing.T) {
	mem := NewMem(16, binary.LittleEndian)
	if err := mem.MemMapProt(0xf000, 0x1000, 0); err != nil {
		t.Fatal("failed to map memory:", err)
	}
	if err := mem.MemMapProt(0x10000, 0x1000, 0); ErrnoOf(err) != ERR_ARG {
		t.Fatal("mapped memory outside range:", err)
	}
	if err := mem.MemWrite(0x10000, asdf); err == nil {
		t.Error("write succeeded above mapped memory")
	}
}

func TestMemMapErrors(t *testing.T) {
	mem := NewMem(64, binary.LittleEndian)
	if err := mem.MemMap(0x1000, 0x2000); err != nil {
		t.Fatal(err)
	}
	table := []struct {
		addr, size uint64
		prot       int
		errno      Errno
	}{
		{0x10000, 0, PROT_ALL, ERR_ARG},
		{0x10001, 0x1000, PROT_ALL, ERR_ARG},
		{0x10000, 0x1001, PROT_ALL, ERR_ARG},
		{0x10000, 0x1000, 8, ERR_ARG},
		{0xfffffffffffff000, 0x2000, PROT_ALL, ERR_ARG},
		{0x1000, 0x1000, PROT_ALL, ERR_MAP},
		{0x0, 0x2000, PROT_ALL, ERR_MAP},
		{0x2000, 0x2000, PROT_ALL, ERR_MAP},
		{0x3000, 0x1000, PROT_ALL, ERR_OK},
	}
	for _, v := range table {
		err := mem.MemMapProt(v.addr, v.size, v.prot)
		if errno := ErrnoOf(err); errno != v.errno {
			t.Errorf("MemMapProt(%#x, %#x, %d) = %v, expecting %v", v.addr, v.size, v.prot, errno, v.errno)
		}
	}
}

func TestMemUnmap(t *testing.T) {
	mem := NewMem(64, binary.LittleEndian)
	mem.MemMap(0x1000, 0x2000)
	mem.MemMap(0x3000, 0x1000)
	if err := mem.MemUnmap(0x1000, 0x1000); ErrnoOf(err) != ERR_MAP {
		t.Errorf("partial unmap = %v, expecting ERR_MAP", err)
	}
	if err := mem.MemUnmap(0x1000, 0x4000); ErrnoOf(err) != ERR_NOMEM {
		t.Errorf("unmap with hole = %v, expecting ERR_NOMEM", err)
	}
	if err := mem.MemUnmap(0x1800, 0x1000); ErrnoOf(err) != ERR_ARG {
		t.Errorf("misaligned unmap = %v, expecting ERR_ARG", err)
	}
	if err := mem.MemUnmap(0x1000, 0x3000); err != nil {
		t.Fatal(err)
	}
	if len(mem.MemRegions()) != 0 {
		t.Fatal("regions left after unmap")
	}
	if _, err := mem.MemRead(0x1000, 1); ErrnoOf(err) != ERR_READ_UNMAPPED {
		t.Errorf("read after unmap = %v", err)
	}
}

func TestMemProtRegions(t *testing.T) {
	mem := NewMem(64, binary.LittleEndian)
	mem.MemMap(0x1000, 0x3000)
	if err := mem.MemProt(0x2000, 0x1000, PROT_READ); err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, p := range mem.MemRegions() {
		got = append(got, p.String())
	}
	want := []string{"0x1000-0x2000 rwx", "0x2000-0x3000 r--", "0x3000-0x4000 rwx"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("regions mismatch (-want +got):\n%s", diff)
	}
	// the split pieces are whole regions now
	if err := mem.MemUnmap(0x2000, 0x1000); err != nil {
		t.Fatal(err)
	}
	if err := mem.MemProt(0x1000, 0x3000, PROT_READ); ErrnoOf(err) != ERR_NOMEM {
		t.Fatalf("MemProt over hole = %v", err)
	}
}

func TestMem(t *testing.T) {
	mappings := [][]uint64{
		{0x1000, 0x1000, PROT_READ | PROT_WRITE | PROT_EXEC},
		{0x2000, 0x1000, PROT_READ},
		{0x3000, 0x1000, PROT_READ | PROT_WRITE},
		{0x4000, 0x1000, PROT_READ | PROT_EXEC},
		{0x5000, 0x1000, PROT_EXEC},
	}

	mem := NewMem(16, binary.LittleEndian)
	for _, v := range mappings {
		if err := mem.MemMapProt(v[0], v[1], int(v[2])); err != nil {
			t.Fatalf("failed to map memory (%#x, %#x, %d): %v", v[0], v[1], v[2], err)
		}
	}
	// write outside bounds
	if err := mem.MemWrite(0, asdf); err == nil {
		t.Error("write succeeded below mapped memory")
	}
	if err := mem.MemWrite(0x6000, asdf); err == nil {
		t.Error("write succeeded above mapped memory")
	}
	// host writes ignore protections
	for _, v := range mappings {
		if err := mem.MemWrite(v[0], asdf); err != nil {
			t.Error("write failed inside mapped memory")
		}
	}
	// try to read our asdf from each mapping
	for _, v := range mappings {
		if tmp, err := mem.MemRead(v[0], uint64(len(asdf))); err != nil {
			t.Error("read failed inside mapped memory")
		} else if !bytes.Equal(tmp, asdf) {
			t.Error("read returned bad value")
		}
	}
	// now test memory protections
	for _, v := range mappings {
		prot := int(v[2])
		_, err := mem.ReadProt(v[0], v[1], PROT_READ)
		if (prot&PROT_READ != 0) != (err == nil) {
			t.Errorf("read mismatch on (%#x, %#x, %d): %v", v[0], v[1], v[2], err)
		}
		err = mem.WriteProt(v[0], asdf, PROT_WRITE)
		if (prot&PROT_WRITE != 0) != (err == nil) {
			t.Errorf("write mismatch on (%#x, %#x, %d): %v", v[0], v[1], v[2], err)
		}
		_, err = mem.Fetch(v[0], 16)
		if (prot&PROT_EXEC != 0) != (err == nil) {
			t.Errorf("fetch mismatch on (%#x, %#x, %d): %v", v[0], v[1], v[2], err)
		}
	}
	// fetch stops at the first non-executable page
	if p, err := mem.Fetch(0x1ffe, 16); err != nil || len(p) != 2 {
		t.Errorf("Fetch across exec boundary = %d bytes, %v", len(p), err)
	}
	if p := mem.Peek(0x4ffe, 16); len(p) != 16 {
		t.Errorf("Peek across adjacent exec pages = %d bytes", len(p))
	}
}

func TestMemHooks(t *testing.T) {
	mem := NewMem(32, binary.LittleEndian)
	h := NewHooks(nil, mem)
	mem.MemMapProt(0x1000, 0x1000, PROT_READ|PROT_WRITE)

	var events []string
	h.HookAdd(HOOK_MEM_READ|HOOK_MEM_WRITE, func(_ Cpu, access int, addr uint64, size int, val int64) {
		events = append(events, fmt.Sprintf("mem(%d, %#x, %d, %#x)", access, addr, size, val))
		// read hooks run before the access and may supply the value
		if access == MEM_READ {
			mem.MemWrite(addr, []byte{0x42})
		}
	}, 1, 0)
	if err := mem.WriteUint(0x1000, 2, PROT_WRITE, 0x1234); err != nil {
		t.Fatal(err)
	}
	if n, err := mem.ReadUint(0x1000, 2, PROT_READ); err != nil {
		t.Fatal(err)
	} else if n != 0x1242 {
		t.Fatalf("ReadUint = %#x, expecting 0x1242", n)
	}
	want := []string{"mem(17, 0x1000, 2, 0x1234)", "mem(16, 0x1000, 2, 0x0)"}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Fatalf("hook mismatch (-want +got):\n%s", diff)
	}
}

func TestMemFaultRetry(t *testing.T) {
	mem := NewMem(32, binary.LittleEndian)
	h := NewHooks(nil, mem)
	var faults []int
	h.HookAdd(HOOK_MEM_UNMAPPED, func(_ Cpu, access int, addr uint64, size int, val int64) bool {
		faults = append(faults, access)
		if access == MEM_WRITE_UNMAPPED {
			mem.MemMap(addr&^(PAGE_SIZE-1), PAGE_SIZE)
			return true
		}
		return false
	}, 1, 0)
	if err := mem.WriteUint(0x5000, 4, PROT_WRITE, 7); err != nil {
		t.Fatal("write should succeed after fault hook mapped the page:", err)
	}
	if _, err := mem.ReadUint(0x9000, 4, PROT_READ); ErrnoOf(err) != ERR_READ_UNMAPPED {
		t.Fatal("unhandled read fault:", err)
	}
	if diff := cmp.Diff([]int{MEM_WRITE_UNMAPPED, MEM_READ_UNMAPPED}, faults); diff != "" {
		t.Fatalf("fault mismatch (-want +got):\n%s", diff)
	}
}

func TestMemRollback(t *testing.T) {
	mem := NewMem(32, binary.LittleEndian)
	mem.MemMap(0x1000, 0x1000)
	mem.MemWrite(0x1000, asdf)
	mem.Begin()
	mem.WriteUint(0x1000, 1, PROT_WRITE, 'x')
	mem.WriteUint(0x1000, 2, PROT_WRITE, 0x7979)
	mem.Rollback()
	if p, _ := mem.MemRead(0x1000, 4); !bytes.Equal(p, asdf) {
		t.Fatalf("rollback left %q", p)
	}
	mem.Begin()
	mem.WriteUint(0x1000, 1, PROT_WRITE, 'x')
	mem.Commit()
	mem.Rollback()
	if p, _ := mem.MemRead(0x1000, 4); string(p) != "xsdf" {
		t.Fatalf("commit lost write: %q", p)
	}
}

func TestMemUint(t *testing.T) {
	rawtest := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	ltable := map[int]uint64{
		1: 0x1,
		2: 0x0201,
		4: 0x04030201,
		8: 0x0807060504030201,
	}
	btable := map[int]uint64{
		1: 0x1,
		2: 0x0102,
		4: 0x01020304,
		8: 0x0102030405060708,
	}

	meml := NewMem(32, binary.LittleEndian)
	memb := NewMem(32, binary.BigEndian)

	if err := meml.MemMapProt(0x1000, 0x1000, PROT_READ|PROT_WRITE); err != nil {
		t.Fatal("failed to map memory:", err)
	}
	if err := memb.MemMapProt(0x1000, 0x1000, PROT_READ|PROT_WRITE); err != nil {
		t.Fatal("failed to map memory:", err)
	}
	if err := meml.MemWrite(0x1000, rawtest); err != nil {
		t.Error("failed to write memory:", err)
	}
	if err := memb.MemWrite(0x1000, rawtest); err != nil {
		t.Error("failed to write memory:", err)
	}
	// test reading canned values
	for size, val := range ltable {
		if n, err := meml.ReadUint(0x1000, size, PROT_READ); err != nil {
			t.Error("failed to read uint:", err)
		} else if n != val {
			t.Error("inconsistent uint value:", n, val)
		}
	}
	for size, val := range btable {
		if n, err := memb.ReadUint(0x1000, size, PROT_READ); err != nil {
			t.Error("failed to read uint:", err)
		} else if n != val {
			t.Error("inconsistent uint value:", n, val)
		}
	}
	// test writing, then reading canned values
	for size, val := range ltable {
		if err := meml.WriteUint(0x1000, size, PROT_WRITE, val); err != nil {
			t.Error("failed to write uint:", err)
		}
		if n, err := meml.ReadUint(0x1000, size, PROT_READ); err != nil {
			t.Error("failed to read uint:", err)
		} else if n != val {
			t.Error("inconsistent uint value:", n, val)
		}
	}
	if got := SignExtend(0x80, 1); got != 0xffffffffffffff80 {
		t.Errorf("SignExtend(0x80, 1) = %#x", got)
	}
	if got := Mask(2); got != 0xffff {
		t.Errorf("Mask(2) = %#x", got)
	}
}
