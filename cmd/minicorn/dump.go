package main

import (
	"fmt"
	"io"

	"github.com/lunixbochs/minicorn/arch"
	"github.com/lunixbochs/minicorn/models"
	"github.com/lunixbochs/minicorn/models/cpu"
	"github.com/lunixbochs/minicorn/models/trace"
)

func formatIns(ins cpu.Ins) string {
	return fmt.Sprintf("%#x: %-20x %s %s", ins.Addr(), ins.Bytes(), ins.Mnemonic(), ins.OpStr())
}

func dis(w io.Writer, d models.Disassembler, code []byte, addr uint64) error {
	inss, err := d.Dis(code, addr)
	if err != nil {
		return err
	}
	n := 0
	for _, ins := range inss {
		fmt.Fprintln(w, formatIns(ins))
		n += len(ins.Bytes())
	}
	if n < len(code) {
		fmt.Fprintf(w, "%#x: %x (undecoded)\n", addr+uint64(n), code[n:])
	}
	return nil
}

// dumpTrace prints every op in r, naming registers and stop reasons where the arch is known.
func dumpTrace(w io.Writer, r *trace.Reader) error {
	fmt.Fprintf(w, "trace v%d: %s (%d-bit)\n", r.Header.Version, r.Header.Arch, r.Header.Bits)
	var regNames map[int]string
	if a, err := arch.GetArch(r.Header.Arch); err == nil {
		regNames = a.RegNames()
	}
	count := 0
	for {
		op, err := r.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return err
		}
		count++
		switch o := op.(type) {
		case *trace.OpReg:
			if name, ok := regNames[int(o.Num)]; ok {
				fmt.Fprintf(w, "reg %s = %#x\n", name, o.Val)
				continue
			}
		case *trace.OpExit:
			fmt.Fprintf(w, "exit pc=%#x count=%d reason=%s", o.PC, o.Count, cpu.StopReason(o.Reason))
			if o.Errno != 0 {
				fmt.Fprintf(w, " err=%s", cpu.Errno(o.Errno))
			}
			fmt.Fprintln(w)
			continue
		}
		fmt.Fprintln(w, op.String())
	}
	fmt.Fprintf(w, "%d ops\n", count)
	return nil
}
