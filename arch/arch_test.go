package arch

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// TestSmoke creates a cpu for every arch and round-trips the stack pointer.
func TestSmoke(t *testing.T) {
	for _, name := range Names() {
		a, err := GetArch(name)
		if err != nil {
			t.Fatal(err)
		}
		c, err := a.Cpu.New()
		if err != nil {
			t.Fatal(err)
		}
		if err := c.RegWrite(a.SP, 0x1000); err != nil {
			t.Fatal(err)
		}
		val, err := c.RegRead(a.SP)
		if err != nil {
			t.Fatal(err)
		}
		if val != 0x1000 {
			t.Errorf("%s failed to read/write stack pointer", name)
		}
		for reg, enum := range a.Regs {
			if _, err := c.RegRead(enum); err != nil {
				t.Errorf("%s: %s: %v", name, reg, err)
			}
		}
		c.Close()
	}
}

func TestNames(t *testing.T) {
	if diff := cmp.Diff([]string{"x86", "x86_16", "x86_64"}, Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	if _, err := GetArch("arm"); err == nil {
		t.Error("unknown arch accepted")
	}
}

func TestRegDump(t *testing.T) {
	a, _ := GetArch("x86_64")
	c, err := a.Cpu.New()
	if err != nil {
		t.Fatal(err)
	}
	regs, err := a.RegDump(c)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range regs[:6] {
		names = append(names, r.Name)
	}
	// natural order puts r8 before r10
	if diff := cmp.Diff([]string{"cs", "ds", "es", "fs", "gs", "r8"}, names); diff != "" {
		t.Errorf("order (-want +got):\n%s", diff)
	}
}
