package cpu

// Hook is the handle returned by HookAdd.
type Hook interface{}

// callback shapes:
// block/code: func(Cpu, addr uint64, size uint32)
// intr:       func(Cpu, intno uint32)
// mem:        func(Cpu, access int, addr uint64, size int, value int64)
// fault:      func(Cpu, access int, addr uint64, size int, value int64) bool
// insn:       architecture-defined, checked by Hooks.InsnCheck

type hookInfo struct {
	htype int
	start uint64
	end   uint64
	// set by HookDel so a dispatch already in progress skips the hook
	deleted bool
}

func (h *hookInfo) Type() int {
	return h.htype
}

// Contains matches the half-open range [start, end). start > end matches every address.
func (h *hookInfo) Contains(addr uint64) bool {
	return h.start > h.end || addr >= h.start && addr < h.end
}

type codeHook struct {
	hookInfo
	cb func(Cpu, uint64, uint32)
}

type intrHook struct {
	hookInfo
	cb func(Cpu, uint32)
}

type memHook struct {
	hookInfo
	cb func(Cpu, int, uint64, int, int64)
}

type memFaultHook struct {
	hookInfo
	cb func(Cpu, int, uint64, int, int64) bool
}

type insnHook struct {
	hookInfo
	insn int
	cb   interface{}
}

// real code starts here
type Hooks struct {
	cpu Cpu

	// InsnCheck reports whether cb has the right shape for instruction id insn.
	// Instruction hooks are rejected while it is nil.
	InsnCheck func(insn int, cb interface{}) bool

	code     []*codeHook
	block    []*codeHook
	intr     []*intrHook
	mem      []*memHook
	memFault []*memFaultHook
	insn     []*insnHook
}

// creates &Hook{}, optionally attaching to a *Mem instance
func NewHooks(cpu Cpu, mem *Mem) *Hooks {
	h := &Hooks{cpu: cpu}
	if mem != nil {
		// mem will dispatch memory and fault hooks automatically
		mem.hooks = h
	}
	return h
}

func badCallback(htype int, cb interface{}) error {
	return newError(ERR_HOOK, "wrong callback type %T for hook type %d", cb, htype)
}

func (h *Hooks) HookAdd(htype int, cb interface{}, start uint64, end uint64, extra ...int) (Hook, error) {
	if start == end {
		return nil, newError(ERR_ARG, "empty hook range %#x-%#x", start, end)
	}
	info := hookInfo{htype: htype, start: start, end: end}
	var hook Hook
	switch {
	case htype == HOOK_BLOCK || htype == HOOK_CODE:
		fn, ok := cb.(func(Cpu, uint64, uint32))
		if !ok {
			return nil, badCallback(htype, cb)
		}
		hh := &codeHook{info, fn}
		if htype == HOOK_BLOCK {
			h.block = append(h.block, hh)
		} else {
			h.code = append(h.code, hh)
		}
		hook = hh

	case htype == HOOK_INTR:
		fn, ok := cb.(func(Cpu, uint32))
		if !ok {
			return nil, badCallback(htype, cb)
		}
		hh := &intrHook{info, fn}
		h.intr, hook = append(h.intr, hh), hh

	case htype == HOOK_INSN:
		if len(extra) < 1 {
			return nil, newError(ERR_ARG, "instruction hook without instruction id")
		}
		if h.InsnCheck == nil || !h.InsnCheck(extra[0], cb) {
			return nil, badCallback(htype, cb)
		}
		hh := &insnHook{info, extra[0], cb}
		h.insn, hook = append(h.insn, hh), hh

	case htype != 0 && htype&HOOK_MEM_VALID == htype:
		fn, ok := cb.(func(Cpu, int, uint64, int, int64))
		if !ok {
			return nil, badCallback(htype, cb)
		}
		hh := &memHook{info, fn}
		h.mem, hook = append(h.mem, hh), hh

	case htype != 0 && htype&HOOK_MEM_ERR == htype:
		fn, ok := cb.(func(Cpu, int, uint64, int, int64) bool)
		if !ok {
			return nil, badCallback(htype, cb)
		}
		hh := &memFaultHook{info, fn}
		h.memFault, hook = append(h.memFault, hh), hh

	default:
		return nil, newError(ERR_HOOK, "unknown hook type %d", htype)
	}
	return hook, nil
}

func remove[T comparable](list []T, v T) ([]T, bool) {
	for i, e := range list {
		if e == v {
			tmp := make([]T, 0, len(list)-1)
			tmp = append(tmp, list[:i]...)
			return append(tmp, list[i+1:]...), true
		}
	}
	return list, false
}

// HookDel removes a hook. Deleting a hook from inside a callback takes effect immediately.
func (h *Hooks) HookDel(hh Hook) error {
	var found bool
	switch v := hh.(type) {
	case *codeHook:
		if v.htype == HOOK_BLOCK {
			h.block, found = remove(h.block, v)
		} else {
			h.code, found = remove(h.code, v)
		}
		v.deleted = found || v.deleted
	case *intrHook:
		h.intr, found = remove(h.intr, v)
		v.deleted = found || v.deleted
	case *memHook:
		h.mem, found = remove(h.mem, v)
		v.deleted = found || v.deleted
	case *memFaultHook:
		h.memFault, found = remove(h.memFault, v)
		v.deleted = found || v.deleted
	case *insnHook:
		h.insn, found = remove(h.insn, v)
		v.deleted = found || v.deleted
	}
	if !found {
		return newError(ERR_HOOK, "unknown hook %v", hh)
	}
	return nil
}

// Count returns the number of hooks registered for a category mask.
func (h *Hooks) Count(htype int) int {
	n := 0
	if htype&HOOK_BLOCK != 0 {
		n += len(h.block)
	}
	if htype&HOOK_CODE != 0 {
		n += len(h.code)
	}
	if htype&HOOK_INTR != 0 {
		n += len(h.intr)
	}
	if htype&HOOK_INSN != 0 {
		n += len(h.insn)
	}
	for _, v := range h.mem {
		if v.htype&htype != 0 {
			n++
		}
	}
	for _, v := range h.memFault {
		if v.htype&htype != 0 {
			n++
		}
	}
	return n
}

func (h *Hooks) OnBlock(addr uint64, size uint32) {
	for _, v := range h.block {
		if !v.deleted && v.Contains(addr) {
			v.cb(h.cpu, addr, size)
		}
	}
}

func (h *Hooks) OnCode(addr uint64, size uint32) {
	for _, v := range h.code {
		if !v.deleted && v.Contains(addr) {
			v.cb(h.cpu, addr, size)
		}
	}
}

// OnIntr reports whether any interrupt hook handled intno.
func (h *Hooks) OnIntr(intno uint32) bool {
	handled := false
	for _, v := range h.intr {
		if !v.deleted {
			v.cb(h.cpu, intno)
			handled = true
		}
	}
	return handled
}

func (h *Hooks) OnMem(access int, addr uint64, size int, val int64) {
	mask := accessHookMask(access)
	for _, v := range h.mem {
		if !v.deleted && v.htype&mask != 0 && v.Contains(addr) {
			v.cb(h.cpu, access, addr, size, val)
		}
	}
}

// OnFault returns true as soon as one fault hook claims to have fixed the access.
func (h *Hooks) OnFault(access int, addr uint64, size int, val int64) bool {
	mask := accessHookMask(access)
	for _, v := range h.memFault {
		if !v.deleted && v.htype&mask != 0 && v.Contains(addr) {
			if v.cb(h.cpu, access, addr, size, val) {
				return true
			}
		}
	}
	return false
}

// OnInsn calls fn with the callback of each hook on instruction id insn whose range contains addr.
// It reports whether any hook matched.
func (h *Hooks) OnInsn(insn int, addr uint64, fn func(cb interface{})) bool {
	matched := false
	for _, v := range h.insn {
		if !v.deleted && v.insn == insn && v.Contains(addr) {
			fn(v.cb)
			matched = true
		}
	}
	return matched
}

// Cpu returns the value passed to callbacks.
func (h *Hooks) Cpu() Cpu {
	return h.cpu
}
