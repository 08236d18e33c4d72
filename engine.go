// Package minicorn is a pure-Go cpu emulator engine with a Unicorn-style api.
package minicorn

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lunixbochs/minicorn/arch"
	"github.com/lunixbochs/minicorn/log"
	"github.com/lunixbochs/minicorn/models"
	"github.com/lunixbochs/minicorn/models/cpu"
	"github.com/lunixbochs/minicorn/models/trace"
)

const (
	VERSION_MAJOR = 1
	VERSION_MINOR = 0
)

type Arch int

// values follow Unicorn's uc_arch
const (
	ARCH_X86 Arch = 4
)

type Mode int

// values follow Unicorn's uc_mode
const (
	MODE_16 Mode = 1 << 1
	MODE_32 Mode = 1 << 2
	MODE_64 Mode = 1 << 3
)

var archModes = map[Arch]map[Mode]string{
	ARCH_X86: {
		MODE_16: "x86_16",
		MODE_32: "x86",
		MODE_64: "x86_64",
	},
}

// Version returns the api version.
func Version() (major, minor int) {
	return VERSION_MAJOR, VERSION_MINOR
}

// ArchSupported reports whether Open accepts a.
func ArchSupported(a Arch) bool {
	_, ok := archModes[a]
	return ok
}

// runCpu is the cpu surface the engine drives, beyond cpu.Cpu.
type runCpu interface {
	cpu.Cpu
	RegReadBatch(enums []int) ([]uint64, error)
	RegWriteBatch(enums []int, vals []uint64) error
	Last() (cpu.RunState, error)
}

type Option func(*Engine)

// WithLogger sets the engine's logger. Engines log at debug level.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithTracer records every run of the engine, and its mapping changes, into tr.
func WithTracer(tr *trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tr
	}
}

// Engine is one emulated cpu with its memory and hooks.
// An Engine is not safe for concurrent use, except for Stop.
type Engine struct {
	arch Arch
	mode Mode
	info *models.Arch
	cpu  runCpu

	id     uuid.UUID
	log    *log.Logger
	tracer *trace.Tracer

	errno   cpu.Errno
	reason  cpu.StopReason
	closed  bool
	running bool
}

// Open creates an engine for an architecture and mode.
func Open(a Arch, mode Mode, opts ...Option) (*Engine, error) {
	modes, ok := archModes[a]
	if !ok {
		return nil, cpu.NewError(cpu.ERR_ARCH, "unsupported arch: %d", a)
	}
	name, ok := modes[mode]
	if !ok {
		return nil, cpu.NewError(cpu.ERR_MODE, "unsupported mode %d for arch %d", mode, a)
	}
	info, err := arch.GetArch(name)
	if err != nil {
		return nil, cpu.NewError(cpu.ERR_ARCH, "%v", err)
	}
	c, err := info.Cpu.New()
	if err != nil {
		return nil, err
	}
	rc, ok := c.(runCpu)
	if !ok {
		c.Close()
		return nil, cpu.NewError(cpu.ERR_ARCH, "%s cpu does not support runs", name)
	}
	e := &Engine{
		arch: a,
		mode: mode,
		info: info,
		cpu:  rc,
		id:   uuid.New(),
		log:  log.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.Engine(e.id.String())
	if e.tracer != nil {
		if err := e.tracer.Attach(rc); err != nil {
			c.Close()
			return nil, err
		}
	}
	e.log.Debug("open", zap.String("arch", name))
	return e, nil
}

// track records the errno of the last api call.
func (e *Engine) track(err error) error {
	e.errno = cpu.ErrnoOf(err)
	return err
}

func (e *Engine) check() error {
	if e.closed {
		return e.track(cpu.NewError(cpu.ERR_HANDLE, "engine is closed"))
	}
	return nil
}

// Close releases the engine's memory and detaches any tracer.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.tracer != nil {
		e.tracer.Detach()
	}
	e.log.Debug("close")
	return e.cpu.Close()
}

func (e *Engine) ID() string       { return e.id.String() }
func (e *Engine) Arch() Arch       { return e.arch }
func (e *Engine) Mode() Mode       { return e.mode }
func (e *Engine) Bits() int        { return e.info.Bits }
func (e *Engine) PageSize() uint64 { return cpu.PAGE_SIZE }

// Info returns the arch description: register names, pc and sp, disassembler.
func (e *Engine) Info() *models.Arch { return e.info }

// Cpu exposes the underlying cpu, as passed to hook callbacks.
func (e *Engine) Cpu() cpu.Cpu { return e.cpu }

// Errno returns the error code of the last api call.
func (e *Engine) Errno() cpu.Errno { return e.errno }

// Reason returns why the last run stopped.
func (e *Engine) Reason() cpu.StopReason { return e.reason }

func (e *Engine) MemMap(addr, size uint64, prot int) error {
	if err := e.check(); err != nil {
		return err
	}
	err := e.cpu.MemMapProt(addr, size, prot)
	if err == nil {
		e.log.Debug("map", log.Addr(addr), log.Size(size), zap.Int("prot", prot))
		if e.tracer != nil {
			e.tracer.MemMap(addr, size, prot)
		}
	}
	return e.track(err)
}

func (e *Engine) MemProt(addr, size uint64, prot int) error {
	if err := e.check(); err != nil {
		return err
	}
	err := e.cpu.MemProt(addr, size, prot)
	if err == nil {
		e.log.Debug("prot", log.Addr(addr), log.Size(size), zap.Int("prot", prot))
		if e.tracer != nil {
			e.tracer.MemProt(addr, size, prot)
		}
	}
	return e.track(err)
}

func (e *Engine) MemUnmap(addr, size uint64) error {
	if err := e.check(); err != nil {
		return err
	}
	err := e.cpu.MemUnmap(addr, size)
	if err == nil {
		e.log.Debug("unmap", log.Addr(addr), log.Size(size))
		if e.tracer != nil {
			e.tracer.MemUnmap(addr, size)
		}
	}
	return e.track(err)
}

func (e *Engine) MemRegions() (cpu.Pages, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	e.track(nil)
	return e.cpu.MemRegions(), nil
}

func (e *Engine) MemRead(addr, size uint64) ([]byte, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	p, err := e.cpu.MemRead(addr, size)
	return p, e.track(err)
}

func (e *Engine) MemReadInto(p []byte, addr uint64) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.track(e.cpu.MemReadInto(p, addr))
}

func (e *Engine) MemWrite(addr uint64, p []byte) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.track(e.cpu.MemWrite(addr, p))
}

func (e *Engine) RegRead(reg int) (uint64, error) {
	if err := e.check(); err != nil {
		return 0, err
	}
	val, err := e.cpu.RegRead(reg)
	return val, e.track(err)
}

func (e *Engine) RegWrite(reg int, val uint64) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.track(e.cpu.RegWrite(reg, val))
}

func (e *Engine) RegReadBatch(regs []int) ([]uint64, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	vals, err := e.cpu.RegReadBatch(regs)
	return vals, e.track(err)
}

func (e *Engine) RegWriteBatch(regs []int, vals []uint64) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.track(e.cpu.RegWriteBatch(regs, vals))
}

// HookAdd registers a callback over [begin, end). begin > end matches every address.
func (e *Engine) HookAdd(htype int, cb interface{}, begin, end uint64, extra ...int) (cpu.Hook, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	hh, err := e.cpu.HookAdd(htype, cb, begin, end, extra...)
	if err == nil {
		e.log.Debug("hook add", zap.Int("type", htype), log.Ptr("begin", begin), log.Ptr("end", end))
	}
	return hh, e.track(err)
}

func (e *Engine) HookDel(hh cpu.Hook) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.track(e.cpu.HookDel(hh))
}

// Start runs from begin until the pc reaches until, the timeout elapses,
// count instructions have run, Stop is called, or an error occurs.
// A zero timeout or count means no limit.
func (e *Engine) Start(begin, until uint64, timeout time.Duration, count uint64) (cpu.StopReason, error) {
	if err := e.check(); err != nil {
		return cpu.STOP_NONE, err
	}
	if e.running {
		// a nested start leaves the outer run's state alone
		return cpu.STOP_NONE, e.track(cpu.NewError(cpu.ERR_BUSY, "Start called during an active run"))
	}
	e.running = true
	defer func() { e.running = false }()
	e.log.Debug("start", log.Ptr("begin", begin), log.Ptr("until", until),
		zap.Duration("timeout", timeout), zap.Uint64("count", count))
	if e.tracer != nil {
		if err := e.traceRegs(); err != nil {
			return cpu.STOP_NONE, e.track(err)
		}
	}
	reason, err := e.cpu.Start(begin, until, timeout, count)
	e.reason = reason
	last, _ := e.cpu.Last()
	if err != nil {
		e.log.Debug("fault", log.Addr(last.PC), zap.Error(err))
	} else {
		e.log.Debug("stop", log.Addr(last.PC), zap.Stringer("reason", reason), zap.Uint64("count", last.Count))
	}
	if e.tracer != nil {
		e.tracer.Exit(last.PC, last.Count, reason, err)
	}
	return reason, e.track(err)
}

// traceRegs records the entry registers of a run.
func (e *Engine) traceRegs() error {
	dump, err := e.info.RegDump(e.cpu)
	if err != nil {
		return err
	}
	enums := make([]int, len(dump))
	vals := make([]uint64, len(dump))
	for i, r := range dump {
		enums[i], vals[i] = r.Enum, r.Val
	}
	e.tracer.Regs(enums, vals)
	return nil
}

// Stop asks a run in progress to stop before its next instruction. It is safe from any goroutine.
func (e *Engine) Stop() error {
	return e.cpu.Stop()
}

// Last returns the final state of the last run.
func (e *Engine) Last() (cpu.RunState, error) {
	return e.cpu.Last()
}

// ContextSave snapshots the registers. reuse may be a previous snapshot to overwrite.
func (e *Engine) ContextSave(reuse interface{}) (interface{}, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	ctx, err := e.cpu.ContextSave(reuse)
	return ctx, e.track(err)
}

func (e *Engine) ContextRestore(ctx interface{}) error {
	if err := e.check(); err != nil {
		return err
	}
	return e.track(e.cpu.ContextRestore(ctx))
}

// RegDump reads the arch's named registers in natural order.
func (e *Engine) RegDump() ([]models.RegVal, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	return e.info.RegDump(e.cpu)
}

// Dis disassembles size bytes of memory at addr.
func (e *Engine) Dis(addr, size uint64) ([]cpu.Ins, error) {
	mem, err := e.MemRead(addr, size)
	if err != nil {
		return nil, err
	}
	return e.info.Dis.Dis(mem, addr)
}

// ParseArch maps an arch name such as "x86_64" to its Open arguments.
func ParseArch(name string) (Arch, Mode, error) {
	for a, modes := range archModes {
		for mode, n := range modes {
			if n == name {
				return a, mode, nil
			}
		}
	}
	return 0, 0, cpu.NewError(cpu.ERR_ARCH, "unknown arch: %q", name)
}
