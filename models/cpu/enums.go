package cpu

// base hook enums on Unicorn's for simplicity
// https://github.com/unicorn-engine/unicorn/blob/master/bindings/go/unicorn/unicorn_const.go
const (
	// hook CPU interrupts
	HOOK_INTR = 1

	// hook one instruction (cpu-specific, filtered by instruction id)
	HOOK_INSN = 2

	// hook each executed instruction
	HOOK_CODE = 4

	// hook each executed basic block
	HOOK_BLOCK = 8

	// hook memory faults
	HOOK_MEM_READ_UNMAPPED  = 16
	HOOK_MEM_WRITE_UNMAPPED = 32
	HOOK_MEM_FETCH_UNMAPPED = 64
	HOOK_MEM_READ_PROT      = 128
	HOOK_MEM_WRITE_PROT     = 256
	HOOK_MEM_FETCH_PROT     = 512

	// hook (before) each memory read/write/fetch
	HOOK_MEM_READ  = 1024
	HOOK_MEM_WRITE = 2048
	HOOK_MEM_FETCH = 4096

	HOOK_MEM_UNMAPPED = HOOK_MEM_READ_UNMAPPED | HOOK_MEM_WRITE_UNMAPPED | HOOK_MEM_FETCH_UNMAPPED
	HOOK_MEM_PROT     = HOOK_MEM_READ_PROT | HOOK_MEM_WRITE_PROT | HOOK_MEM_FETCH_PROT

	// hook all memory errors
	HOOK_MEM_ERR = HOOK_MEM_UNMAPPED | HOOK_MEM_PROT

	HOOK_MEM_VALID = HOOK_MEM_READ | HOOK_MEM_WRITE | HOOK_MEM_FETCH
)

// these constants are passed as the access argument of memory hooks
const (
	MEM_READ           = 16
	MEM_WRITE          = 17
	MEM_FETCH          = 18
	MEM_READ_UNMAPPED  = 19
	MEM_WRITE_UNMAPPED = 20
	MEM_FETCH_UNMAPPED = 21
	MEM_WRITE_PROT     = 22
	MEM_READ_PROT      = 23
	MEM_FETCH_PROT     = 24
)

// these constants are used for memory protections
const (
	PROT_NONE  = 0
	PROT_READ  = 1
	PROT_WRITE = 2
	PROT_EXEC  = 4
	PROT_ALL   = 7
)

// PAGE_SIZE is the mapping granularity of Mem.
const PAGE_SIZE = 0x1000

// maps a memory access enum to the hook mask that observes it
func accessHookMask(access int) int {
	switch access {
	case MEM_READ:
		return HOOK_MEM_READ
	case MEM_WRITE:
		return HOOK_MEM_WRITE
	case MEM_FETCH:
		return HOOK_MEM_FETCH
	case MEM_READ_UNMAPPED:
		return HOOK_MEM_READ_UNMAPPED
	case MEM_WRITE_UNMAPPED:
		return HOOK_MEM_WRITE_UNMAPPED
	case MEM_FETCH_UNMAPPED:
		return HOOK_MEM_FETCH_UNMAPPED
	case MEM_READ_PROT:
		return HOOK_MEM_READ_PROT
	case MEM_WRITE_PROT:
		return HOOK_MEM_WRITE_PROT
	case MEM_FETCH_PROT:
		return HOOK_MEM_FETCH_PROT
	}
	return 0
}
