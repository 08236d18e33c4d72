package cpu

import (
	"sort"
)

// MemSim is the backing store behind Mem: a sorted list of non-overlapping pages.
type MemSim struct {
	Mem Pages
}

// Checks whether the address range exists in the currently-mapped memory.
// If prot > 0, ensures that each region has the entire protection mask provided.
// Ranges that wrap the 64-bit address space are never valid.
func (m *MemSim) RangeValid(addr, size uint64, prot int) (mapGood bool, protGood bool) {
	if size == 0 {
		size = 1
	}
	end := addr + size
	if end < addr {
		return false, false
	}
	first := m.Mem.bsearch(addr)
	if first == -1 {
		return false, false
	}
	protGood = true
	for _, mm := range m.Mem[first:] {
		if !mm.Contains(addr) {
			break
		}
		if prot > 0 && mm.Prot&prot != prot {
			protGood = false
		}
		addr = mm.Addr + mm.Size
		if addr >= end {
			break
		}
	}
	return addr >= end, protGood
}

// Overlaps reports whether any mapped page intersects addr:addr+size.
func (m *MemSim) Overlaps(addr, size uint64) bool {
	for _, mm := range m.Mem {
		if mm.Overlaps(addr, size) {
			return true
		}
	}
	return false
}

// Covers reports whether addr:addr+size is fully mapped and made only of whole pages,
// so unmapping it would not split a region.
func (m *MemSim) Covers(addr, size uint64) bool {
	if mapped, _ := m.RangeValid(addr, size, 0); !mapped {
		return false
	}
	for _, mm := range m.Mem.FindRange(addr, size) {
		if mm.Addr < addr || mm.Addr+mm.Size > addr+size {
			return false
		}
	}
	return true
}

// Maps <addr> - <addr>+<size> and protects with prot.
// The caller is responsible for rejecting overlaps. The mapping list is kept sorted
// by address to allow binary search and simpler reads / bound checks.
func (m *MemSim) Map(addr, size uint64, prot int) *Page {
	page := &Page{Addr: addr, Size: size, Prot: prot, Data: make([]byte, size)}
	m.Mem = append(m.Mem, page)
	sort.Sort(m.Mem)
	return page
}

// this is *exactly* unmap, but the "middle" pages of each split are re-protected
func (m *MemSim) Prot(addr, size uint64, prot int) {
	tmp := make([]*Page, 0, len(m.Mem))
	for _, mm := range m.Mem {
		if oaddr, osize, ok := mm.Intersect(addr, size); ok {
			left, right := mm.Split(oaddr, osize)
			if left != nil {
				tmp = append(tmp, left)
			}
			tmp = append(tmp, mm)
			mm.Prot = prot
			if right != nil {
				tmp = append(tmp, right)
			}
		} else {
			tmp = append(tmp, mm)
		}
	}
	m.Mem = tmp
}

func (m *MemSim) Unmap(addr, size uint64) {
	// truncate entries overlapping addr, size
	tmp := make([]*Page, 0, len(m.Mem))
	for _, mm := range m.Mem {
		if oaddr, osize, ok := mm.Intersect(addr, size); ok {
			left, right := mm.Split(oaddr, osize)
			if left != nil {
				tmp = append(tmp, left)
			}
			if right != nil {
				tmp = append(tmp, right)
			}
		} else {
			tmp = append(tmp, mm)
		}
	}
	m.Mem = tmp
}

// check validates an access, returning the fault it would raise.
// prot selects the access kind: PROT_EXEC is a fetch, PROT_WRITE a write, anything else a read.
func (m *MemSim) check(addr uint64, size int, prot int, write bool) *Error {
	gmap, gprot := m.RangeValid(addr, uint64(size), prot)
	switch {
	case prot&PROT_EXEC == PROT_EXEC:
		if !gmap {
			return memError(ERR_FETCH_UNMAPPED, addr, size)
		} else if !gprot {
			return memError(ERR_FETCH_PROT, addr, size)
		}
	case write:
		if !gmap {
			return memError(ERR_WRITE_UNMAPPED, addr, size)
		} else if !gprot {
			return memError(ERR_WRITE_PROT, addr, size)
		}
	default:
		if !gmap {
			return memError(ERR_READ_UNMAPPED, addr, size)
		} else if !gprot {
			return memError(ERR_READ_PROT, addr, size)
		}
	}
	return nil
}

func (m *MemSim) Read(addr uint64, p []byte, prot int) error {
	if len(p) == 0 {
		return nil
	}
	if err := m.check(addr, len(p), prot, false); err != nil {
		return err
	}
	m.copyOut(addr, p)
	return nil
}

func (m *MemSim) Write(addr uint64, p []byte, prot int) error {
	if len(p) == 0 {
		return nil
	}
	if err := m.check(addr, len(p), prot, true); err != nil {
		return err
	}
	m.copyIn(addr, p)
	return nil
}

// copyOut and copyIn assume the range was validated
func (m *MemSim) copyOut(addr uint64, p []byte) {
	i := m.Mem.bsearch(addr)
	if i < 0 {
		return
	}
	for _, mm := range m.Mem[i:] {
		if len(p) == 0 || !mm.Contains(addr) {
			break
		}
		n := copy(p, mm.Data[addr-mm.Addr:])
		addr, p = addr+uint64(n), p[n:]
	}
}

func (m *MemSim) copyIn(addr uint64, p []byte) {
	i := m.Mem.bsearch(addr)
	if i < 0 {
		return
	}
	for _, mm := range m.Mem[i:] {
		if len(p) == 0 || !mm.Contains(addr) {
			break
		}
		n := copy(mm.Data[addr-mm.Addr:], p)
		addr, p = addr+uint64(n), p[n:]
	}
}
