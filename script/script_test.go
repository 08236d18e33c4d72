package script

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/lunixbochs/minicorn/cpu/x86"
	"github.com/lunixbochs/minicorn/models/cpu"
)

const base = 0x1000

func newCpu(t *testing.T, code []byte) (*x86.X86Cpu, *Script, *bytes.Buffer) {
	c, err := x86.New(32)
	if err != nil {
		t.Fatal(err)
	}
	c.MemMap(base, 0x1000)
	c.MemWrite(base, code)
	s := New(c, x86.RegNames(32))
	var out bytes.Buffer
	s.Out = &out
	return c, s, &out
}

func TestCodeHook(t *testing.T) {
	// inc eax; inc eax; inc eax
	code := []byte{0x40, 0x40, 0x40}
	c, s, out := newCpu(t, code)
	err := s.Run("trace.js", `
		hook("code", function(addr, size) {
			print("exec", addr.toString(16), size, reg.read("eax"));
			if (addr == 0x1001) stop();
		});
	`)
	if err != nil {
		t.Fatal(err)
	}
	reason, err := c.Start(base, base+3, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if reason != cpu.STOP_REQUEST {
		t.Errorf("reason = %v", reason)
	}
	want := "exec 1000 1 0\nexec 1001 1 1\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestRegMem(t *testing.T) {
	c, s, out := newCpu(t, nil)
	err := s.Run("regs.js", `
		reg.write("ebx", 0x1234);
		reg.write("ECX", "0x10");
		mem.write(0x1800, [1, 2, 3]);
		print(reg.hex("ebx"), reg.read("cl"), mem.read(0x1800, 3).join(","));
	`)
	if err != nil {
		t.Fatal(err)
	}
	if ebx, _ := c.RegRead(x86.EBX); ebx != 0x1234 {
		t.Errorf("ebx = %#x", ebx)
	}
	if diff := cmp.Diff("0x1234 16 1,2,3\n", out.String()); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestFaultHook(t *testing.T) {
	// mov ecx, [0x5000]
	code := []byte{0x8B, 0x0D, 0x00, 0x50, 0x00, 0x00}
	c, s, _ := newCpu(t, code)
	err := s.Run("fault.js", `
		var seen = [];
		hook("fault", function(access, addr, size) {
			seen.push(access);
			return false;
		});
	`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Start(base, base+6, 0, 0)
	if cpu.ErrnoOf(err) != cpu.ERR_READ_UNMAPPED {
		t.Errorf("errno = %v", cpu.ErrnoOf(err))
	}
	v, err := s.vm.RunString(`seen.join(",")`)
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "read_unmapped" {
		t.Errorf("seen = %s", v)
	}
}

func TestHookException(t *testing.T) {
	code := []byte{0x40, 0x40}
	c, s, _ := newCpu(t, code)
	if err := s.Run("boom.js", `hook("block", function() { throw new Error("boom"); });`); err != nil {
		t.Fatal(err)
	}
	reason, _ := c.Start(base, base+2, 0, 0)
	if reason != cpu.STOP_REQUEST {
		t.Errorf("reason = %v", reason)
	}
	if s.Err() == nil {
		t.Error("hook exception not recorded")
	}
}

func TestUnhook(t *testing.T) {
	code := []byte{0x40, 0x40}
	c, s, out := newCpu(t, code)
	err := s.Run("unhook.js", `
		var id = hook("code", function(addr) { print(addr); unhook(id); }, 0x1000, 0x2000);
	`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Start(base, base+2, 0, 0); err != nil {
		t.Fatal(err)
	}
	if out.String() != "4096\n" {
		t.Errorf("output = %q", out.String())
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestErrors(t *testing.T) {
	_, s, _ := newCpu(t, nil)
	for _, src := range []string{
		`hook("nope", function() {})`,
		`hook("code", 1)`,
		`reg.read("rax")`,
		`mem.read(0x9000, 4)`,
		`mem.read(0x1000, -1)`,
		`unhook(42)`,
	} {
		if err := s.Run("bad.js", src); err == nil {
			t.Errorf("%s: no error", src)
		}
	}
}
