package trace

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lunixbochs/minicorn/models/cpu"
)

// Tracer records a cpu's execution into a Writer through hooks.
type Tracer struct {
	w     *Writer
	c     cpu.Cpu
	hooks []cpu.Hook
	order binary.ByteOrder
	// register values as of the last Regs call
	regs map[int]uint64
	// ops of the instruction in flight, held until it commits
	pending []Op
	err     error
}

func NewTracer(w *Writer) *Tracer {
	return &Tracer{w: w, order: binary.LittleEndian, regs: make(map[int]uint64)}
}

func (t *Tracer) pack(op Op) {
	if t.err == nil {
		t.err = t.w.Pack(op)
	}
}

func (t *Tracer) hold(op Op) {
	t.pending = append(t.pending, op)
}

// queue packs op now unless an instruction's ops are pending, keeping the trace in order.
func (t *Tracer) queue(op Op) {
	if len(t.pending) > 0 {
		t.hold(op)
	} else {
		t.pack(op)
	}
}

func (t *Tracer) flush() {
	for _, op := range t.pending {
		t.pack(op)
	}
	t.pending = t.pending[:0]
}

// rollback drops the pending writes of an instruction that faulted.
func (t *Tracer) rollback() {
	kept := t.pending[:0]
	for _, op := range t.pending {
		if _, ok := op.(*OpMemWrite); !ok {
			kept = append(kept, op)
		}
	}
	t.pending = kept
	t.flush()
}

// Attach snapshots the current mappings and hooks blocks, instructions, data accesses and interrupts.
func (t *Tracer) Attach(c cpu.Cpu) error {
	if t.c != nil {
		return errors.New("tracer already attached")
	}
	for _, p := range c.MemRegions() {
		t.pack(&OpMemMap{Addr: p.Addr, Size: p.Size, Prot: uint8(p.Prot)})
	}
	add := func(htype int, cb interface{}) error {
		hh, err := c.HookAdd(htype, cb, 1, 0)
		if err != nil {
			return err
		}
		t.hooks = append(t.hooks, hh)
		return nil
	}
	t.c = c
	// a new block or instruction means the previous one committed
	err := add(cpu.HOOK_BLOCK, func(_ cpu.Cpu, addr uint64, size uint32) {
		t.flush()
		t.pack(&OpJmp{Addr: addr, Size: size})
	})
	if err == nil {
		err = add(cpu.HOOK_CODE, func(_ cpu.Cpu, addr uint64, size uint32) {
			t.flush()
			t.pack(&OpStep{Addr: addr, Size: uint8(size)})
		})
	}
	if err == nil {
		err = add(cpu.HOOK_MEM_READ|cpu.HOOK_MEM_WRITE, func(_ cpu.Cpu, access int, addr uint64, size int, val int64) {
			if access == cpu.MEM_WRITE {
				data, _ := cpu.PackUint(t.order, size, nil, uint64(val))
				t.hold(&OpMemWrite{Addr: addr, Data: data})
			} else {
				t.hold(&OpMemRead{Addr: addr, Size: uint32(size)})
			}
		})
	}
	if err == nil {
		err = add(cpu.HOOK_INTR, func(c cpu.Cpu, intno uint32) {
			t.hold(&OpIntr{Num: intno})
		})
	}
	if err != nil {
		t.Detach()
		return errors.Wrap(err, "trace attach")
	}
	return nil
}

// Detach removes the tracer's hooks.
func (t *Tracer) Detach() {
	if t.c == nil {
		return
	}
	for _, hh := range t.hooks {
		t.c.HookDel(hh)
	}
	t.hooks = nil
	t.c = nil
}

func (t *Tracer) MemMap(addr, size uint64, prot int) {
	t.queue(&OpMemMap{Addr: addr, Size: size, Prot: uint8(prot)})
}

func (t *Tracer) MemUnmap(addr, size uint64) {
	t.queue(&OpMemUnmap{Addr: addr, Size: size})
}

func (t *Tracer) MemProt(addr, size uint64, prot int) {
	t.queue(&OpMemProt{OpMemMap{Addr: addr, Size: size, Prot: uint8(prot)}})
}

// Regs records the registers that changed since the previous call. Registers start at zero.
func (t *Tracer) Regs(enums []int, vals []uint64) {
	for i, enum := range enums {
		if t.regs[enum] != vals[i] {
			t.regs[enum] = vals[i]
			t.pack(&OpReg{Num: uint16(enum), Val: vals[i]})
		}
	}
}

// Exit records the end of a run. Memory writes of an instruction that faulted
// during execution were rolled back and are left out of the trace.
func (t *Tracer) Exit(pc, count uint64, reason cpu.StopReason, err error) {
	switch cpu.ErrnoOf(err) {
	case cpu.ERR_OK, cpu.ERR_FETCH_UNMAPPED, cpu.ERR_FETCH_PROT, cpu.ERR_INSN_INVALID:
		// the last traced instruction committed, or nothing of the faulting one ran
		t.flush()
	default:
		t.rollback()
	}
	t.pack(&OpExit{PC: pc, Count: count, Reason: uint8(reason), Errno: uint16(cpu.ErrnoOf(err))})
}

// Err returns the first write error.
func (t *Tracer) Err() error {
	return t.err
}

// Close detaches and flushes the writer.
func (t *Tracer) Close() error {
	t.Detach()
	t.flush()
	if err := t.w.Close(); t.err == nil {
		t.err = err
	}
	return t.err
}
