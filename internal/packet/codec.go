package packet

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/samber/oops"
)

// Writer appends little-endian fields to a frame.
type Writer struct {
	buf []byte
}

func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

func (w *Writer) Bytes() []byte {
	return w.buf
}

func (w *Writer) WriteByte(v byte) error {
	w.buf = append(w.buf, v)
	return nil
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteUint16(v uint16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteUint64(v uint64) {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *Writer) WriteFloat32(v float32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
}

// WriteString writes the byte length as an unsigned LEB128 varint followed
// by the UTF-8 bytes.
func (w *Writer) WriteString(s string) {
	w.buf = binary.AppendUvarint(w.buf, uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *Writer) WriteStrings(list []string) {
	w.WriteInt32(int32(len(list)))
	for _, s := range list {
		w.WriteString(s)
	}
}

func (w *Writer) WriteInt32s(list []int32) {
	w.WriteInt32(int32(len(list)))
	for _, v := range list {
		w.WriteInt32(v)
	}
}

// Reader consumes fields written by Writer. The first failure sticks: every
// later read returns a zero value and Err reports the original problem.
type Reader struct {
	buf []byte
	off int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) fail(field string, need int) {
	if r.err != nil {
		return
	}
	r.err = oops.In("packet").
		Code(CodeMalformed).
		With("field", field).
		With("offset", r.off).
		With("need", need).
		With("have", r.Remaining()).
		Errorf("truncated %s", field)
}

func (r *Reader) take(field string, n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.fail(field, n)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) ReadByte() (byte, error) {
	b := r.take("byte", 1)
	if b == nil {
		return 0, r.err
	}
	return b[0], nil
}

func (r *Reader) Byte() byte {
	v, _ := r.ReadByte()
	return v
}

func (r *Reader) Bool() bool {
	return r.Byte() != 0
}

func (r *Reader) Uint16() uint16 {
	b := r.take("uint16", 2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) Int32() int32 {
	b := r.take("int32", 4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (r *Reader) Uint64() uint64 {
	b := r.take("uint64", 8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) Float32() float32 {
	b := r.take("float32", 4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// Text reads a length-prefixed UTF-8 string.
func (r *Reader) Text() string {
	if r.err != nil {
		return ""
	}
	n, size := binary.Uvarint(r.buf[r.off:])
	if size <= 0 {
		r.fail("string length", 1)
		return ""
	}
	if n > uint64(r.Remaining()-size) {
		r.fail("string", int(min(n, math.MaxInt32)))
		return ""
	}
	r.off += size
	b := r.take("string", int(n))
	if !utf8.Valid(b) {
		r.err = oops.In("packet").
			Code(CodeMalformed).
			With("offset", r.off).
			Errorf("string is not valid UTF-8")
		return ""
	}
	return string(b)
}

// count reads a list length and checks it against the bytes left, given the
// smallest possible encoded size of one item.
func (r *Reader) count(field string, itemSize int) int {
	n := r.Int32()
	if r.err != nil {
		return 0
	}
	if n < 0 || int(n)*itemSize > r.Remaining() {
		r.err = oops.In("packet").
			Code(CodeMalformed).
			With("field", field).
			With("count", n).
			With("have", r.Remaining()).
			Errorf("invalid %s count %d", field, n)
		return 0
	}
	return int(n)
}

func (r *Reader) Strings() []string {
	n := r.count("strings", 1)
	list := make([]string, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		list = append(list, r.Text())
	}
	return list
}

func (r *Reader) Int32s() []int32 {
	n := r.count("int32s", 4)
	list := make([]int32, 0, n)
	for i := 0; i < n && r.err == nil; i++ {
		list = append(list, r.Int32())
	}
	return list
}
