package cpu

import (
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Stepper is the architecture half of an interpreter: it decodes and executes single instructions
// against the Regs, Mem and Hooks it shares with a Runner.
type Stepper interface {
	// Decode decodes the first instruction in code, which was fetched from addr.
	// It returns ErrTruncated when code ends mid-instruction.
	Decode(addr uint64, code []byte) (Ins, error)
	// Exec runs ins and returns the address of the next instruction.
	// Returning an error other than ErrHalt faults the run and undoes the instruction.
	Exec(ins Ins) (uint64, error)
}

// RunState is the transient state of one Start call.
type RunState struct {
	PC       uint64
	Until    uint64
	Count    uint64
	Budget   uint64
	Deadline time.Time
	Reason   StopReason
}

// Runner is the execution controller shared by interpreters.
type Runner struct {
	Stepper Stepper
	Regs    *Regs
	Mem     *Mem
	Hooks   *Hooks

	// PC is the register enum holding the program counter.
	PC int
	// MaxInsLen is the longest possible instruction encoding.
	MaxInsLen int
	// BlockLimit caps the number of instructions the block look-ahead decodes.
	BlockLimit int

	stop    int32
	running int32
	ctx     interface{}

	last RunState
	err  error
}

const defaultBlockLimit = 512

func (r *Runner) pc() uint64 {
	pc, _ := r.Regs.RegRead(r.PC)
	return pc
}

// Running reports whether a Start call is in progress.
func (r *Runner) Running() bool {
	return atomic.LoadInt32(&r.running) != 0
}

// Stop asks a run to halt before its next instruction. It is safe to call from any goroutine.
func (r *Runner) Stop() error {
	atomic.StoreInt32(&r.stop, 1)
	return nil
}

// Last returns the state and error of the most recent run.
func (r *Runner) Last() (RunState, error) {
	return r.last, r.err
}

// Start emulates from begin until the pc reaches until, the timeout elapses,
// count instructions have executed, Stop is called or an instruction faults.
// A zero timeout or count is unbounded.
func (r *Runner) Start(begin, until uint64, timeout time.Duration, count uint64) (StopReason, error) {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return STOP_NONE, newError(ERR_BUSY, "Start called during an active run")
	}
	defer atomic.StoreInt32(&r.running, 0)
	atomic.StoreInt32(&r.stop, 0)

	st := &RunState{PC: begin, Until: until, Budget: count}
	if timeout > 0 {
		st.Deadline = time.Now().Add(timeout)
	}
	if err := r.Regs.RegWrite(r.PC, begin); err != nil {
		return STOP_FAULT, err
	}
	err := r.run(st)
	if err != nil {
		st.Reason = STOP_FAULT
	}
	r.last, r.err = *st, err
	return st.Reason, err
}

func (r *Runner) run(st *RunState) error {
	newBlock := true
	for {
		pc := r.pc()
		st.PC = pc
		switch {
		case pc == st.Until:
			st.Reason = STOP_UNTIL
		case atomic.LoadInt32(&r.stop) != 0:
			st.Reason = STOP_REQUEST
		case !st.Deadline.IsZero() && !time.Now().Before(st.Deadline):
			st.Reason = STOP_TIMEOUT
		case st.Budget > 0 && st.Count >= st.Budget:
			st.Reason = STOP_COUNT
		}
		if st.Reason != STOP_NONE {
			return nil
		}

		if newBlock {
			newBlock = false
			if len(r.Hooks.block) > 0 {
				if size := r.blockSize(pc, st.Until); size > 0 {
					r.Hooks.OnBlock(pc, size)
				}
				if r.pc() != pc {
					newBlock = true
					continue
				}
			}
		}

		code, err := r.Mem.Fetch(pc, r.MaxInsLen)
		if err != nil {
			return err
		}
		ins, err := r.Stepper.Decode(pc, code)
		if errors.Cause(err) == ErrTruncated && len(code) < r.MaxInsLen {
			// the instruction runs into memory we cannot fetch
			if _, err := r.Mem.Fetch(pc+uint64(len(code)), 1); err != nil {
				return err
			}
			// a fault hook mapped the rest of it
			continue
		} else if err != nil {
			return &Error{Errno: ERR_INSN_INVALID, Addr: pc, Size: len(code), Err: err}
		}
		size := len(ins.Bytes())
		r.Hooks.OnMem(MEM_FETCH, pc, size, 0)

		r.Hooks.OnCode(pc, uint32(size))
		// a code hook redirected execution
		if r.pc() != pc {
			newBlock = true
			continue
		}

		r.ctx, _ = r.Regs.ContextSave(r.ctx)
		r.Mem.Begin()
		next, err := r.Stepper.Exec(ins)
		halt := errors.Cause(err) == ErrHalt
		if err != nil && !halt {
			r.Mem.Rollback()
			r.Regs.ContextRestore(r.ctx)
			return err
		}
		r.Mem.Commit()
		st.Count++
		r.Regs.RegWrite(r.PC, next)
		if halt {
			st.PC = next
			st.Reason = STOP_HALT
			return nil
		}
		newBlock = ins.Branch() || next != pc+uint64(size)
	}
}

// blockSize decodes ahead from pc without hooks or faults, returning the size of the basic block.
// The scan ends after a control transfer, at until, or at the first byte it cannot fetch or decode.
func (r *Runner) blockSize(pc, until uint64) uint32 {
	limit := r.BlockLimit
	if limit <= 0 {
		limit = defaultBlockLimit
	}
	addr := pc
	for i := 0; i < limit; i++ {
		if i > 0 && addr == until {
			break
		}
		code := r.Mem.Peek(addr, r.MaxInsLen)
		if len(code) == 0 {
			break
		}
		ins, err := r.Stepper.Decode(addr, code)
		if err != nil {
			break
		}
		addr += uint64(len(ins.Bytes()))
		if ins.Branch() {
			break
		}
	}
	return uint32(addr - pc)
}
