// Package script runs JavaScript hook scripts against a cpu.
//
// Scripts see these globals:
//
//	hook(type, fn, [begin, end]) -> id   type is code, block, intr, mem_read, mem_write, mem_fetch or fault
//	unhook(id)
//	reg.read(name), reg.write(name, value), reg.hex(name)
//	mem.read(addr, size) -> [bytes], mem.write(addr, [bytes])
//	stop()
//	print(...)
//
// Hook ranges default to every address. A fault hook returning true retries the access.
package script

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dop251/goja"
	"github.com/pkg/errors"

	"github.com/lunixbochs/minicorn/models/cpu"
)

var hookTypes = map[string]int{
	"code":      cpu.HOOK_CODE,
	"block":     cpu.HOOK_BLOCK,
	"intr":      cpu.HOOK_INTR,
	"mem_read":  cpu.HOOK_MEM_READ,
	"mem_write": cpu.HOOK_MEM_WRITE,
	"mem_fetch": cpu.HOOK_MEM_FETCH,
	"fault":     cpu.HOOK_MEM_ERR,
}

var accessNames = map[int]string{
	cpu.MEM_READ:           "read",
	cpu.MEM_WRITE:          "write",
	cpu.MEM_FETCH:          "fetch",
	cpu.MEM_READ_UNMAPPED:  "read_unmapped",
	cpu.MEM_WRITE_UNMAPPED: "write_unmapped",
	cpu.MEM_FETCH_UNMAPPED: "fetch_unmapped",
	cpu.MEM_READ_PROT:      "read_prot",
	cpu.MEM_WRITE_PROT:     "write_prot",
	cpu.MEM_FETCH_PROT:     "fetch_prot",
}

type Script struct {
	Out io.Writer

	vm    *goja.Runtime
	cpu   cpu.Cpu
	regs  map[string]int
	hooks map[int64]cpu.Hook
	next  int64
	// first exception thrown by a hook callback
	err error
}

// New binds a fresh runtime to c. regs maps the register names scripts may use.
func New(c cpu.Cpu, regs map[string]int) *Script {
	s := &Script{
		Out:   os.Stdout,
		vm:    goja.New(),
		cpu:   c,
		regs:  regs,
		hooks: make(map[int64]cpu.Hook),
	}
	s.bind()
	return s
}

// Run evaluates src. Hooks it registers stay active until Close.
func (s *Script) Run(name, src string) error {
	_, err := s.vm.RunScript(name, src)
	return errors.Wrap(err, "script")
}

// Err returns the first exception raised inside a hook callback. The run is stopped when one occurs.
func (s *Script) Err() error {
	return s.err
}

// Close removes every hook the script registered.
func (s *Script) Close() error {
	var first error
	for id, hh := range s.hooks {
		if err := s.cpu.HookDel(hh); err != nil && first == nil {
			first = err
		}
		delete(s.hooks, id)
	}
	return first
}

// throw raises err as a JavaScript exception.
func (s *Script) throw(err error) {
	panic(s.vm.NewGoError(err))
}

func (s *Script) reg(name string) int {
	enum, ok := s.regs[strings.ToLower(name)]
	if !ok {
		panic(s.vm.NewTypeError("unknown register %q", name))
	}
	return enum
}

// call invokes a script callback from inside a hook, stopping the cpu on exception.
func (s *Script) call(fn goja.Callable, args ...interface{}) goja.Value {
	vals := make([]goja.Value, len(args))
	for i, v := range args {
		vals[i] = s.vm.ToValue(v)
	}
	ret, err := fn(goja.Undefined(), vals...)
	if err != nil {
		if s.err == nil {
			s.err = errors.Wrap(err, "script hook")
		}
		s.cpu.Stop()
		return goja.Undefined()
	}
	return ret
}

func (s *Script) bind() {
	vm := s.vm
	vm.Set("print", func(call goja.FunctionCall) goja.Value {
		args := make([]string, len(call.Arguments))
		for i, v := range call.Arguments {
			args[i] = v.String()
		}
		fmt.Fprintln(s.Out, strings.Join(args, " "))
		return goja.Undefined()
	})
	vm.Set("hook", s.hookFunc)
	vm.Set("unhook", func(id int64) {
		hh, ok := s.hooks[id]
		if !ok {
			panic(vm.NewTypeError("unknown hook %d", id))
		}
		delete(s.hooks, id)
		if err := s.cpu.HookDel(hh); err != nil {
			s.throw(err)
		}
	})
	vm.Set("stop", func() {
		s.cpu.Stop()
	})

	reg := vm.NewObject()
	reg.Set("read", func(name string) uint64 {
		val, err := s.cpu.RegRead(s.reg(name))
		if err != nil {
			s.throw(err)
		}
		return val
	})
	reg.Set("hex", func(name string) string {
		val, err := s.cpu.RegRead(s.reg(name))
		if err != nil {
			s.throw(err)
		}
		return fmt.Sprintf("%#x", val)
	})
	reg.Set("write", func(name string, val goja.Value) {
		if err := s.cpu.RegWrite(s.reg(name), s.toUint(val)); err != nil {
			s.throw(err)
		}
	})
	vm.Set("reg", reg)

	mem := vm.NewObject()
	mem.Set("read", func(addr goja.Value, size int64) []interface{} {
		if size < 0 {
			panic(vm.NewTypeError("mem.read size must not be negative: %d", size))
		}
		p, err := s.cpu.MemRead(s.toUint(addr), uint64(size))
		if err != nil {
			s.throw(err)
		}
		out := make([]interface{}, len(p))
		for i, b := range p {
			out[i] = int64(b)
		}
		return out
	})
	mem.Set("write", func(addr goja.Value, data goja.Value) {
		var p []byte
		if err := vm.ExportTo(data, &p); err != nil {
			panic(vm.NewTypeError("mem.write wants an array of bytes: %v", err))
		}
		if err := s.cpu.MemWrite(s.toUint(addr), p); err != nil {
			s.throw(err)
		}
	})
	vm.Set("mem", mem)
}

// toUint accepts numbers, BigInts and numeric strings such as "0x1000".
func (s *Script) toUint(v goja.Value) uint64 {
	switch x := v.Export().(type) {
	case int64:
		return uint64(x)
	case float64:
		return uint64(x)
	case string:
		var n uint64
		if _, err := fmt.Sscan(x, &n); err != nil {
			panic(s.vm.NewTypeError("not a number: %q", x))
		}
		return n
	}
	return uint64(v.ToInteger())
}

func (s *Script) hookFunc(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	htype, ok := hookTypes[name]
	if !ok {
		panic(s.vm.NewTypeError("unknown hook type %q", name))
	}
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		panic(s.vm.NewTypeError("hook callback is not a function"))
	}
	begin, end := uint64(1), uint64(0)
	if len(call.Arguments) >= 4 {
		begin, end = s.toUint(call.Argument(2)), s.toUint(call.Argument(3))
	}

	var cb interface{}
	switch htype {
	case cpu.HOOK_CODE, cpu.HOOK_BLOCK:
		cb = func(_ cpu.Cpu, addr uint64, size uint32) {
			s.call(fn, addr, size)
		}
	case cpu.HOOK_INTR:
		cb = func(_ cpu.Cpu, intno uint32) {
			s.call(fn, intno)
		}
	case cpu.HOOK_MEM_ERR:
		cb = func(_ cpu.Cpu, access int, addr uint64, size int, val int64) bool {
			return s.call(fn, accessNames[access], addr, size, val).ToBoolean()
		}
	default:
		cb = func(_ cpu.Cpu, access int, addr uint64, size int, val int64) {
			s.call(fn, accessNames[access], addr, size, val)
		}
	}
	hh, err := s.cpu.HookAdd(htype, cb, begin, end)
	if err != nil {
		s.throw(err)
	}
	s.next++
	s.hooks[s.next] = hh
	return s.vm.ToValue(s.next)
}
