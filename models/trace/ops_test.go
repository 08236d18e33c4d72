package trace

import (
	"bytes"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var allOps = []Op{
	&OpNop{},
	&OpMemMap{0x1000, 0x1000, 7},
	&OpMemProt{OpMemMap{0x1000, 0x1000, 5}},
	&OpMemWrite{0x1000, []byte{0x48, 0xc7, 0xc0, 0x01, 0x00, 0x00, 0x00}}, // mov rax, 1
	&OpJmp{0x1000, 0x7},
	&OpStep{0x1000, 0x7},
	&OpReg{35, 1},
	&OpMemRead{0x1000, 1},
	&OpIntr{0x80},
	&OpMemUnmap{0x1000, 0x1000},
	&OpExit{0x1007, 1, 1, 0},
}

func packAll(ops []Op) []byte {
	var buf []byte
	for _, op := range ops {
		p := make([]byte, op.Sizeof())
		op.Pack(p)
		buf = append(buf, p...)
	}
	return buf
}

func TestOps(t *testing.T) {
	r := bytes.NewReader(packAll(allOps))
	var got []Op
	for {
		op, _, err := Unpack(r)
		if err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		got = append(got, op)
	}
	if diff := cmp.Diff(allOps, got); diff != "" {
		t.Errorf("ops (-want +got):\n%s", diff)
	}
}

func TestUnpackErrors(t *testing.T) {
	if _, _, err := Unpack(bytes.NewReader([]byte{0xff})); err == nil {
		t.Error("unknown op accepted")
	}
	buf := packAll([]Op{&OpMemWrite{0x1000, []byte{1, 2, 3, 4}}})
	if _, _, err := Unpack(bytes.NewReader(buf[:len(buf)-1])); err == nil {
		t.Error("short write op accepted")
	}
}

func TestOpString(t *testing.T) {
	if s := (&OpMemProt{OpMemMap{0x1000, 0x2000, 5}}).String(); s != "prot 0x1000 +0x2000 r-x" {
		t.Errorf("got %q", s)
	}
}

func BenchmarkPack(b *testing.B) {
	w, _ := NewWriter(io.Discard, "x86", 32)
	op := &OpStep{0x1000, 4}
	for i := 0; i < b.N; i++ {
		w.Pack(op)
	}
}
