package models

// MemReaderInto is the memory read half of a cpu.
type MemReaderInto interface {
	MemReadInto(p []byte, addr uint64) error
}

// MemReader adapts emulated memory to io.Reader, starting at Addr.
type MemReader struct {
	Mem  MemReaderInto
	Addr uint64
}

func (m *MemReader) Read(p []byte) (int, error) {
	if err := m.Mem.MemReadInto(p, m.Addr); err != nil {
		return 0, err
	}
	m.Addr += uint64(len(p))
	return len(p), nil
}
