package models

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lunixbochs/fvbommel-util/sortorder"

	"github.com/lunixbochs/minicorn/models/cpu"
)

type Reg struct {
	Enum    int
	Name    string
	Default bool
}

type RegVal struct {
	Reg
	Val uint64
}

type regList []Reg

func (r regList) Len() int           { return len(r) }
func (r regList) Swap(i, j int)      { r[i], r[j] = r[j], r[i] }
func (r regList) Less(i, j int) bool { return sortorder.NaturalLess(r[i].Name, r[j].Name) }

// Disassembler renders machine code for traces and the cli.
type Disassembler interface {
	Dis(mem []byte, addr uint64) ([]cpu.Ins, error)
}

// RegReader is the part of a cpu RegDump needs.
type RegReader interface {
	RegRead(enum int) (uint64, error)
}

type Arch struct {
	Name string
	Bits int

	Cpu cpu.Builder
	Dis Disassembler

	PC   int
	SP   int
	Regs map[string]int
	// registers shown by default in status output
	DefaultRegs []string

	// sorted for RegDump
	regList regList
	regOnce sync.Once
}

func (a *Arch) String() string {
	return fmt.Sprintf("<Arch %s>", a.Name)
}

// RegEnum looks up a register by name, ignoring case.
func (a *Arch) RegEnum(name string) (int, bool) {
	enum, ok := a.Regs[strings.ToLower(name)]
	return enum, ok
}

func (a *Arch) RegNames() map[int]string {
	ret := make(map[int]string, len(a.Regs))
	for name, enum := range a.Regs {
		ret[enum] = name
	}
	return ret
}

func (a *Arch) regs() regList {
	a.regOnce.Do(func() {
		defaults := make(map[string]bool, len(a.DefaultRegs))
		for _, name := range a.DefaultRegs {
			defaults[name] = true
		}
		rl := make(regList, 0, len(a.Regs))
		for name, enum := range a.Regs {
			rl = append(rl, Reg{enum, name, defaults[name]})
		}
		sort.Sort(rl)
		a.regList = rl
	})
	return a.regList
}

// RegDump reads every named register in natural name order.
func (a *Arch) RegDump(c RegReader) ([]RegVal, error) {
	rl := a.regs()
	ret := make([]RegVal, len(rl))
	for i, r := range rl {
		val, err := c.RegRead(r.Enum)
		if err != nil {
			return nil, err
		}
		ret[i] = RegVal{r, val}
	}
	return ret, nil
}
