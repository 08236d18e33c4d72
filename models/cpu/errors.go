package cpu

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errno classifies why an operation or an emulation run failed.
// Values follow Unicorn's uc_err where one exists.
type Errno int

const (
	ERR_OK             Errno = 0
	ERR_NOMEM          Errno = 1
	ERR_ARCH           Errno = 2
	ERR_HANDLE         Errno = 3
	ERR_MODE           Errno = 4
	ERR_READ_UNMAPPED  Errno = 6
	ERR_WRITE_UNMAPPED Errno = 7
	ERR_FETCH_UNMAPPED Errno = 8
	ERR_HOOK           Errno = 9
	ERR_INSN_INVALID   Errno = 10
	ERR_MAP            Errno = 11
	ERR_WRITE_PROT     Errno = 12
	ERR_READ_PROT      Errno = 13
	ERR_FETCH_PROT     Errno = 14
	ERR_ARG            Errno = 15
	ERR_EXCEPTION      Errno = 21
	// Start was called while a run on the same cpu is active
	ERR_BUSY Errno = 64
)

var errnoNames = map[Errno]string{
	ERR_OK:             "ok",
	ERR_NOMEM:          "out of memory",
	ERR_ARCH:           "invalid architecture",
	ERR_HANDLE:         "invalid handle",
	ERR_MODE:           "invalid mode",
	ERR_READ_UNMAPPED:  "unmapped read",
	ERR_WRITE_UNMAPPED: "unmapped write",
	ERR_FETCH_UNMAPPED: "unmapped fetch",
	ERR_HOOK:           "invalid hook",
	ERR_INSN_INVALID:   "invalid instruction",
	ERR_MAP:            "invalid mapping",
	ERR_WRITE_PROT:     "protected write",
	ERR_READ_PROT:      "protected read",
	ERR_FETCH_PROT:     "protected exec",
	ERR_ARG:            "invalid argument",
	ERR_EXCEPTION:      "unhandled cpu exception",
	ERR_BUSY:           "emulation already running",
}

func (e Errno) String() string {
	if s, ok := errnoNames[e]; ok {
		return s
	}
	return fmt.Sprintf("errno(%d)", int(e))
}

// IsProtection reports whether e is a read, write or fetch protection fault.
func (e Errno) IsProtection() bool {
	return e == ERR_READ_PROT || e == ERR_WRITE_PROT || e == ERR_FETCH_PROT
}

// IsUnmapped reports whether e is an unmapped read, write or fetch.
func (e Errno) IsUnmapped() bool {
	return e == ERR_READ_UNMAPPED || e == ERR_WRITE_UNMAPPED || e == ERR_FETCH_UNMAPPED
}

// maps a memory fault errno to the access enum passed to fault hooks
func (e Errno) access() int {
	switch e {
	case ERR_READ_UNMAPPED:
		return MEM_READ_UNMAPPED
	case ERR_WRITE_UNMAPPED:
		return MEM_WRITE_UNMAPPED
	case ERR_FETCH_UNMAPPED:
		return MEM_FETCH_UNMAPPED
	case ERR_READ_PROT:
		return MEM_READ_PROT
	case ERR_WRITE_PROT:
		return MEM_WRITE_PROT
	case ERR_FETCH_PROT:
		return MEM_FETCH_PROT
	}
	return 0
}

// Error is a classified failure. Memory faults carry the faulting address and size.
type Error struct {
	Errno Errno
	Addr  uint64
	Size  int
	Err   error
}

func (e *Error) Error() string {
	if e.Errno.IsUnmapped() || e.Errno.IsProtection() {
		return fmt.Sprintf("%s at %#x(%d)", e.Errno, e.Addr, e.Size)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Errno, e.Err)
	}
	return e.Errno.String()
}

func (e *Error) Cause() error {
	return e.Err
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(errno Errno, format string, args ...interface{}) *Error {
	return &Error{Errno: errno, Err: errors.Errorf(format, args...)}
}

func memError(errno Errno, addr uint64, size int) *Error {
	return &Error{Errno: errno, Addr: addr, Size: size}
}

// NewError builds a classified error for use by cpu implementations.
func NewError(errno Errno, format string, args ...interface{}) error {
	return newError(errno, format, args...)
}

// ErrnoOf unwraps err and returns its classification.
// Unclassified errors map to ERR_EXCEPTION, nil maps to ERR_OK.
func ErrnoOf(err error) Errno {
	if err == nil {
		return ERR_OK
	}
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Errno
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			break
		}
		next := cause.Cause()
		if next == err {
			break
		}
		err = next
	}
	return ERR_EXCEPTION
}

var (
	// returned by a Stepper when the decoder ran out of bytes
	ErrTruncated = errors.New("truncated instruction")
	// returned by a Stepper to halt the cpu after committing the instruction
	ErrHalt = errors.New("cpu halted")
)

// StopReason explains why Start returned.
type StopReason int

const (
	STOP_NONE StopReason = iota
	// the pc reached the until address
	STOP_UNTIL
	// Stop() was called
	STOP_REQUEST
	// the timeout elapsed
	STOP_TIMEOUT
	// the instruction count budget was exhausted
	STOP_COUNT
	// the cpu executed a halt instruction
	STOP_HALT
	// the run ended with an error
	STOP_FAULT
)

func (s StopReason) String() string {
	switch s {
	case STOP_NONE:
		return "none"
	case STOP_UNTIL:
		return "until"
	case STOP_REQUEST:
		return "requested"
	case STOP_TIMEOUT:
		return "timeout"
	case STOP_COUNT:
		return "count"
	case STOP_HALT:
		return "halt"
	case STOP_FAULT:
		return "fault"
	}
	return fmt.Sprintf("stop(%d)", int(s))
}
