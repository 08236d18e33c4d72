package trace

import (
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

var TRACE_MAGIC = "MCTR"

const TRACE_VERSION = 1

type TraceHeader struct {
	// MAGIC ("MCTR")
	Magic string `struc:"[4]byte"`
	// file format version
	Version uint32

	// emulated architecture, right-null-padded. one of "x86_16", "x86", "x86_64".
	Arch string `struc:"[32]byte"`
	Bits uint8
}

// Writer packs ops into a snappy-framed stream after a raw header.
type Writer struct {
	w  io.Writer
	zw *snappy.Writer
	// scratch buffer reused across ops
	buf []byte
}

func NewWriter(w io.Writer, arch string, bits int) (*Writer, error) {
	header := &TraceHeader{
		Magic:   TRACE_MAGIC,
		Version: TRACE_VERSION,
		Arch:    arch,
		Bits:    uint8(bits),
	}
	if err := struc.Pack(w, header); err != nil {
		return nil, errors.Wrap(err, "failed to pack header")
	}
	return &Writer{w: w, zw: snappy.NewBufferedWriter(w)}, nil
}

func (t *Writer) Pack(op Op) error {
	size := op.Sizeof()
	if cap(t.buf) < size {
		t.buf = make([]byte, size)
	}
	p := t.buf[:size]
	op.Pack(p)
	_, err := t.zw.Write(p)
	return err
}

// Close flushes the stream. It closes the underlying writer if it is an io.Closer.
func (t *Writer) Close() error {
	err := t.zw.Close()
	if c, ok := t.w.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type Reader struct {
	r      io.Reader
	zr     *snappy.Reader
	Header TraceHeader
}

func NewReader(r io.Reader) (*Reader, error) {
	t := &Reader{r: r}
	if err := struc.Unpack(r, &t.Header); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if t.Header.Magic != TRACE_MAGIC {
		return nil, errors.New("invalid trace file magic")
	}
	if t.Header.Version != TRACE_VERSION {
		return nil, errors.Errorf("unsupported trace version %d", t.Header.Version)
	}
	t.Header.Arch = strings.TrimRight(t.Header.Arch, "\x00")
	t.zr = snappy.NewReader(r)
	return t, nil
}

// Next returns the next op, or io.EOF at the end of the stream.
func (t *Reader) Next() (Op, error) {
	op, _, err := Unpack(t.zr)
	return op, err
}

func (t *Reader) Close() error {
	t.zr.Reset(nil)
	if c, ok := t.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
