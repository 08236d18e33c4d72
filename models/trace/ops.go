package trace

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

var order = binary.LittleEndian

const (
	OP_NOP       = 0
	OP_JMP       = 3
	OP_STEP      = 4
	OP_REG       = 5
	OP_MEM_READ  = 7
	OP_MEM_WRITE = 8
	OP_MEM_MAP   = 9
	OP_MEM_UNMAP = 10
	OP_MEM_PROT  = 11
	OP_INTR      = 12
	OP_EXIT      = 13
)

// Op is one record of an execution trace.
type Op interface {
	Sizeof() int
	Pack(p []byte)
	Unpack(r io.Reader) (int, error)
	String() string
}

func Unpack(r io.Reader) (Op, int, error) {
	var tmp [1]byte
	if _, err := io.ReadFull(r, tmp[:]); err != nil {
		return nil, 0, err
	}
	var op Op
	switch tmp[0] {
	case OP_NOP:
		op = &OpNop{}
	case OP_JMP:
		op = &OpJmp{}
	case OP_STEP:
		op = &OpStep{}
	case OP_REG:
		op = &OpReg{}
	case OP_MEM_READ:
		op = &OpMemRead{}
	case OP_MEM_WRITE:
		op = &OpMemWrite{}
	case OP_MEM_MAP:
		op = &OpMemMap{}
	case OP_MEM_UNMAP:
		op = &OpMemUnmap{}
	case OP_MEM_PROT:
		op = &OpMemProt{}
	case OP_INTR:
		op = &OpIntr{}
	case OP_EXIT:
		op = &OpExit{}
	default:
		return nil, 1, errors.Errorf("unknown op: %d", tmp[0])
	}
	n, err := op.Unpack(r)
	return op, n + 1, err
}

type OpNop struct{}

func (o *OpNop) Sizeof() int    { return 1 }
func (o *OpNop) Pack(p []byte)  { p[0] = OP_NOP }
func (o *OpNop) String() string { return "nop" }

func (o *OpNop) Unpack(r io.Reader) (int, error) { return 0, nil }

// OpJmp starts a basic block.
type OpJmp struct {
	Addr uint64
	Size uint32
}

func (o *OpJmp) Sizeof() int { return 1 + 8 + 4 }
func (o *OpJmp) Pack(p []byte) {
	p[0] = OP_JMP
	order.PutUint64(p[1:], o.Addr)
	order.PutUint32(p[9:], o.Size)
}

func (o *OpJmp) Unpack(r io.Reader) (int, error) {
	var tmp [8 + 4]byte
	n, err := io.ReadFull(r, tmp[:])
	if err == nil {
		o.Addr = order.Uint64(tmp[:])
		o.Size = order.Uint32(tmp[8:])
	}
	return n, err
}

func (o *OpJmp) String() string { return fmt.Sprintf("block %#x +%d", o.Addr, o.Size) }

// OpStep executes one instruction.
type OpStep struct {
	Addr uint64
	Size uint8
}

func (o *OpStep) Sizeof() int { return 1 + 8 + 1 }
func (o *OpStep) Pack(p []byte) {
	p[0] = OP_STEP
	order.PutUint64(p[1:], o.Addr)
	p[9] = o.Size
}

func (o *OpStep) Unpack(r io.Reader) (int, error) {
	var tmp [8 + 1]byte
	n, err := io.ReadFull(r, tmp[:])
	if err == nil {
		o.Addr = order.Uint64(tmp[:])
		o.Size = tmp[8]
	}
	return n, err
}

func (o *OpStep) String() string { return fmt.Sprintf("step %#x +%d", o.Addr, o.Size) }

type OpReg struct {
	Num uint16
	Val uint64
}

func (o *OpReg) Sizeof() int { return 1 + 2 + 8 }
func (o *OpReg) Pack(p []byte) {
	p[0] = OP_REG
	order.PutUint16(p[1:], o.Num)
	order.PutUint64(p[3:], o.Val)
}

func (o *OpReg) Unpack(r io.Reader) (int, error) {
	var tmp [2 + 8]byte
	n, err := io.ReadFull(r, tmp[:])
	if err == nil {
		o.Num = order.Uint16(tmp[:])
		o.Val = order.Uint64(tmp[2:])
	}
	return n, err
}

func (o *OpReg) String() string { return fmt.Sprintf("reg %d = %#x", o.Num, o.Val) }

type OpMemRead struct {
	Addr uint64
	Size uint32
}

func (o *OpMemRead) Sizeof() int { return 1 + 8 + 4 }
func (o *OpMemRead) Pack(p []byte) {
	p[0] = OP_MEM_READ
	order.PutUint64(p[1:], o.Addr)
	order.PutUint32(p[9:], o.Size)
}

func (o *OpMemRead) Unpack(r io.Reader) (int, error) {
	var tmp [8 + 4]byte
	total, err := io.ReadFull(r, tmp[:])
	if err == nil {
		o.Addr = order.Uint64(tmp[:])
		o.Size = order.Uint32(tmp[8:])
	}
	return total, err
}

func (o *OpMemRead) String() string { return fmt.Sprintf("read %#x +%d", o.Addr, o.Size) }

type OpMemWrite struct {
	Addr uint64
	Data []byte
}

func (o *OpMemWrite) Sizeof() int { return 1 + 8 + 4 + len(o.Data) }
func (o *OpMemWrite) Pack(p []byte) {
	p[0] = OP_MEM_WRITE
	order.PutUint64(p[1:], o.Addr)
	order.PutUint32(p[9:], uint32(len(o.Data)))
	copy(p[13:], o.Data)
}

func (o *OpMemWrite) Unpack(r io.Reader) (int, error) {
	var tmp [8 + 4]byte
	total, err := io.ReadFull(r, tmp[:])
	if err != nil {
		return total, err
	}
	o.Addr = order.Uint64(tmp[:])
	o.Data = make([]byte, order.Uint32(tmp[8:]))
	n, err := io.ReadFull(r, o.Data)
	return total + n, err
}

func (o *OpMemWrite) String() string { return fmt.Sprintf("write %#x %x", o.Addr, o.Data) }

type OpMemMap struct {
	Addr uint64
	Size uint64
	Prot uint8
}

func (o *OpMemMap) Sizeof() int { return 1 + 8 + 8 + 1 }
func (o *OpMemMap) Pack(p []byte) {
	p[0] = OP_MEM_MAP
	order.PutUint64(p[1:], o.Addr)
	order.PutUint64(p[9:], o.Size)
	p[17] = o.Prot
}

func (o *OpMemMap) Unpack(r io.Reader) (int, error) {
	var tmp [8 + 8 + 1]byte
	n, err := io.ReadFull(r, tmp[:])
	if err == nil {
		o.Addr = order.Uint64(tmp[:])
		o.Size = order.Uint64(tmp[8:])
		o.Prot = tmp[16]
	}
	return n, err
}

func (o *OpMemMap) String() string {
	return fmt.Sprintf("map %#x +%#x %s", o.Addr, o.Size, protString(o.Prot))
}

type OpMemUnmap struct {
	Addr uint64
	Size uint64
}

func (o *OpMemUnmap) Sizeof() int { return 1 + 8 + 8 }
func (o *OpMemUnmap) Pack(p []byte) {
	p[0] = OP_MEM_UNMAP
	order.PutUint64(p[1:], o.Addr)
	order.PutUint64(p[9:], o.Size)
}

func (o *OpMemUnmap) Unpack(r io.Reader) (int, error) {
	var tmp [8 + 8]byte
	n, err := io.ReadFull(r, tmp[:])
	if err == nil {
		o.Addr = order.Uint64(tmp[:])
		o.Size = order.Uint64(tmp[8:])
	}
	return n, err
}

func (o *OpMemUnmap) String() string { return fmt.Sprintf("unmap %#x +%#x", o.Addr, o.Size) }

type OpMemProt struct {
	OpMemMap
}

func (o *OpMemProt) Pack(p []byte) {
	o.OpMemMap.Pack(p)
	p[0] = OP_MEM_PROT
}

func (o *OpMemProt) String() string {
	return fmt.Sprintf("prot %#x +%#x %s", o.Addr, o.Size, protString(o.Prot))
}

type OpIntr struct {
	Num uint32
}

func (o *OpIntr) Sizeof() int { return 1 + 4 }
func (o *OpIntr) Pack(p []byte) {
	p[0] = OP_INTR
	order.PutUint32(p[1:], o.Num)
}

func (o *OpIntr) Unpack(r io.Reader) (int, error) {
	var tmp [4]byte
	n, err := io.ReadFull(r, tmp[:])
	if err == nil {
		o.Num = order.Uint32(tmp[:])
	}
	return n, err
}

func (o *OpIntr) String() string { return fmt.Sprintf("intr %d", o.Num) }

// OpExit ends a run.
type OpExit struct {
	PC     uint64
	Count  uint64
	Reason uint8
	Errno  uint16
}

func (o *OpExit) Sizeof() int { return 1 + 8 + 8 + 1 + 2 }
func (o *OpExit) Pack(p []byte) {
	p[0] = OP_EXIT
	order.PutUint64(p[1:], o.PC)
	order.PutUint64(p[9:], o.Count)
	p[17] = o.Reason
	order.PutUint16(p[18:], o.Errno)
}

func (o *OpExit) Unpack(r io.Reader) (int, error) {
	var tmp [8 + 8 + 1 + 2]byte
	n, err := io.ReadFull(r, tmp[:])
	if err == nil {
		o.PC = order.Uint64(tmp[:])
		o.Count = order.Uint64(tmp[8:])
		o.Reason = tmp[16]
		o.Errno = order.Uint16(tmp[17:])
	}
	return n, err
}

func (o *OpExit) String() string {
	return fmt.Sprintf("exit pc=%#x count=%d reason=%d errno=%d", o.PC, o.Count, o.Reason, o.Errno)
}

func protString(prot uint8) string {
	b := []byte("---")
	if prot&1 != 0 {
		b[0] = 'r'
	}
	if prot&2 != 0 {
		b[1] = 'w'
	}
	if prot&4 != 0 {
		b[2] = 'x'
	}
	return string(b)
}
