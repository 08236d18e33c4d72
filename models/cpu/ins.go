package cpu

// Ins is one decoded instruction, as produced by a Stepper.
type Ins interface {
	Addr() uint64
	Bytes() []byte
	Mnemonic() string
	OpStr() string
	// Branch reports whether the instruction may transfer control, ending a basic block.
	Branch() bool
}
