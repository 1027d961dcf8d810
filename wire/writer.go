package wire

import (
	"fmt"
	"math"

	"github.com/anirudhraja/protocodec/pool"
)

// Framing selects how a sub-message is delimited on the wire.
type Framing uint8

const (
	// FramingLengthPrefixed writes a varint byte count before the payload.
	FramingLengthPrefixed Framing = iota
	// FramingGroup writes matching start and end group tags around the payload.
	FramingGroup
)

// Writer accumulates wire-format output. Its buffer is either supplied by the
// caller (SetBuffer) or rented from the slab pool and grown on demand.
//
// Length prefixes of sub-messages are resolved in one of two ways. After
// Measure has run the encode logic once in accounting mode, every
// StartSubItem of the following write pass takes its length from the size
// cache filled by that pass, in the same order. Without a measurement the
// Writer reserves one byte for the prefix and back-patches it in EndSubItem,
// shifting the payload when the length needs more than one byte.
//
// A Writer is not safe for concurrent use.
type Writer struct {
	buf   []byte
	base  int
	lease *pool.Lease

	measuring bool
	measured  bool
	count     int
	sizes     []int
	cursor    int

	depth int
	err   error
	opts  *Options
}

// WriteToken captures the state saved by StartSubItem.
type WriteToken struct {
	framing  Framing
	field    FieldNumber
	start    int
	slot     int
	expected int
}

// NewWriter creates a writer with default options
func NewWriter() *Writer {
	opts := DefaultOptions()
	return NewWriterWithOptions(&opts)
}

// NewWriterWithOptions creates a writer with the given options. opts must
// outlive the writer.
func NewWriterWithOptions(opts *Options) *Writer {
	return &Writer{opts: opts}
}

// Bytes returns the encoded bytes, including any prefix passed to SetBuffer.
// The slice is only valid until the next write, Reset or Release.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Len returns the number of bytes written, or accounted while measuring.
func (w *Writer) Len() int {
	if w.measuring {
		return w.count
	}
	return len(w.buf) - w.base
}

// Err returns the first error that stopped the writer.
func (w *Writer) Err() error {
	return w.err
}

// SetBuffer makes the writer append to b. The writer never modifies b[:len(b)].
func (w *Writer) SetBuffer(b []byte) {
	w.releaseLease()
	w.buf = b
	w.base = len(b)
}

// Grow ensures room for n more bytes without further allocation.
func (w *Writer) Grow(n int) {
	w.ensure(n)
}

// Reset clears written data and errors but keeps a rented slab for reuse.
func (w *Writer) Reset() {
	if w.lease != nil {
		w.buf = w.lease.Bytes()[:0]
		w.base = 0
	} else {
		w.buf = w.buf[:w.base]
	}
	w.measuring, w.measured = false, false
	w.count, w.cursor, w.depth = 0, 0, 0
	w.sizes = w.sizes[:0]
	w.err = nil
}

// Release discards everything written and returns the slab to the pool. The
// writer may be reused afterwards.
func (w *Writer) Release() {
	w.releaseLease()
	w.buf = nil
	w.base = 0
	w.Reset()
}

func (w *Writer) releaseLease() {
	if w.lease != nil {
		w.lease.Release()
		w.lease = nil
	}
}

// Measure runs fn in accounting mode: writes only add to a byte count and
// every length-prefixed sub-item records its payload size. It returns the
// total size fn would write. The next pass of fn in normal mode reuses the
// recorded sizes and must produce exactly the same structure.
func (w *Writer) Measure(fn func(*Writer) error) (int, error) {
	if w.depth != 0 {
		return 0, fmt.Errorf("wire: Measure called with %d open sub-items", w.depth)
	}
	w.measuring, w.measured = true, false
	w.count, w.cursor = 0, 0
	w.sizes = w.sizes[:0]
	err := fn(w)
	w.measuring = false
	if err == nil {
		err = w.err
	}
	if err == nil && w.depth != 0 {
		err = fmt.Errorf("wire: %d sub-items left open", w.depth)
	}
	if err != nil {
		w.err = err
		return 0, err
	}
	if w.count > w.opts.maxMessageSize() {
		w.err = fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrMessageTooLarge, w.count, w.opts.maxMessageSize())
		return 0, w.err
	}
	w.measured = true
	return w.count, nil
}

// Finish checks that every sub-item was closed and, after a measured pass,
// that the whole size cache was consumed. Output of a writer whose Finish
// fails must be discarded.
func (w *Writer) Finish() error {
	if w.err != nil {
		return w.err
	}
	if w.depth != 0 {
		return w.fail(fmt.Errorf("wire: %d sub-items left open", w.depth))
	}
	if w.measured {
		if w.cursor != len(w.sizes) {
			return w.fail(fmt.Errorf("%w: %d measured sub-items, %d written", ErrLengthMismatch, len(w.sizes), w.cursor))
		}
		w.measured = false
	}
	return nil
}

// WriteFieldHeader writes the tag for fieldNumber and wireType.
func (w *Writer) WriteFieldHeader(fieldNumber FieldNumber, wireType WireType) error {
	if !fieldNumber.Valid() {
		return w.fail(fmt.Errorf("%w: %d", ErrInvalidFieldNumber, fieldNumber))
	}
	if !wireType.Valid() {
		return w.fail(fmt.Errorf("%w: %d", ErrInvalidWireType, wireType))
	}
	w.WriteVarint(uint64(MakeTag(fieldNumber, wireType)))
	return w.err
}

// StartSubItem writes the header of a sub-message for fieldNumber and opens
// its frame.
func (w *Writer) StartSubItem(fieldNumber FieldNumber, framing Framing) (WriteToken, error) {
	if w.depth >= w.opts.maxDepth() {
		return WriteToken{}, w.fail(fmt.Errorf("%w: field %d", ErrDepthExceeded, fieldNumber))
	}
	tok := WriteToken{framing: framing, field: fieldNumber, expected: -1}
	if framing == FramingGroup {
		if err := w.WriteFieldHeader(fieldNumber, WireStartGroup); err != nil {
			return WriteToken{}, err
		}
		w.depth++
		return tok, nil
	}

	if err := w.WriteFieldHeader(fieldNumber, WireBytes); err != nil {
		return WriteToken{}, err
	}
	switch {
	case w.measuring:
		tok.slot = len(w.sizes)
		tok.start = w.count
		w.sizes = append(w.sizes, 0)
	case w.measured:
		if w.cursor >= len(w.sizes) {
			return WriteToken{}, w.fail(fmt.Errorf("%w: field %d has no measured size", ErrLengthMismatch, fieldNumber))
		}
		tok.expected = w.sizes[w.cursor]
		w.cursor++
		w.WriteVarint(uint64(tok.expected))
		tok.start = len(w.buf)
	default:
		// one byte placeholder, back-patched in EndSubItem
		if !w.reserve(1) {
			return WriteToken{}, w.err
		}
		w.buf = append(w.buf, 0)
		tok.start = len(w.buf)
	}
	w.depth++
	return tok, w.err
}

// EndSubItem closes the frame opened by StartSubItem.
func (w *Writer) EndSubItem(tok WriteToken) error {
	if w.err != nil {
		return w.err
	}
	if w.depth == 0 {
		return w.fail(fmt.Errorf("wire: EndSubItem without open sub-item (field %d)", tok.field))
	}
	w.depth--
	if tok.framing == FramingGroup {
		return w.WriteFieldHeader(tok.field, WireEndGroup)
	}

	switch {
	case w.measuring:
		size := w.count - tok.start
		w.sizes[tok.slot] = size
		w.count += VarintSize(uint64(size))
	case tok.expected >= 0:
		if got := len(w.buf) - tok.start; got != tok.expected {
			return w.fail(fmt.Errorf("%w: field %d measured %d bytes, wrote %d", ErrLengthMismatch, tok.field, tok.expected, got))
		}
	default:
		length := len(w.buf) - tok.start
		prefix := VarintSize(uint64(length))
		if prefix > 1 {
			if !w.reserve(prefix - 1) {
				return w.err
			}
			w.buf = w.buf[:len(w.buf)+prefix-1]
			copy(w.buf[tok.start+prefix-1:], w.buf[tok.start:tok.start+length])
		}
		PutVarint(w.buf[tok.start-1:], uint64(length))
	}
	return w.err
}

// ===== PRIMITIVE WRITES =====

// WriteVarint writes v as a minimal varint.
func (w *Writer) WriteVarint(v uint64) {
	if w.measuring {
		w.count += VarintSize(v)
		return
	}
	if !w.reserve(VarintSize(v)) {
		return
	}
	w.buf = AppendVarint(w.buf, v)
}

// WriteInt32 writes v in two's complement; negative values take ten bytes.
func (w *Writer) WriteInt32(v int32) {
	w.WriteVarint(uint64(v))
}

// WriteInt64 writes v in two's complement.
func (w *Writer) WriteInt64(v int64) {
	w.WriteVarint(uint64(v))
}

// WriteUint32 writes v as a varint.
func (w *Writer) WriteUint32(v uint32) {
	w.WriteVarint(uint64(v))
}

// WriteUint64 writes v as a varint.
func (w *Writer) WriteUint64(v uint64) {
	w.WriteVarint(v)
}

// WriteSint32 writes v zigzag-encoded.
func (w *Writer) WriteSint32(v int32) {
	w.WriteVarint(EncodeZigZag32(v))
}

// WriteSint64 writes v zigzag-encoded.
func (w *Writer) WriteSint64(v int64) {
	w.WriteVarint(EncodeZigZag64(v))
}

// WriteBool writes v as a one-byte varint.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteVarint(1)
	} else {
		w.WriteVarint(0)
	}
}

// WriteFixed32 writes v little-endian.
func (w *Writer) WriteFixed32(v uint32) {
	if w.measuring {
		w.count += 4
		return
	}
	if !w.reserve(4) {
		return
	}
	w.buf = AppendFixed32(w.buf, v)
}

// WriteFixed64 writes v little-endian.
func (w *Writer) WriteFixed64(v uint64) {
	if w.measuring {
		w.count += 8
		return
	}
	if !w.reserve(8) {
		return
	}
	w.buf = AppendFixed64(w.buf, v)
}

// WriteSfixed32 writes v little-endian.
func (w *Writer) WriteSfixed32(v int32) {
	w.WriteFixed32(uint32(v))
}

// WriteSfixed64 writes v little-endian.
func (w *Writer) WriteSfixed64(v int64) {
	w.WriteFixed64(uint64(v))
}

// WriteFloat writes v as IEEE 754 single precision.
func (w *Writer) WriteFloat(v float32) {
	w.WriteFixed32(math.Float32bits(v))
}

// WriteDouble writes v as IEEE 754 double precision.
func (w *Writer) WriteDouble(v float64) {
	w.WriteFixed64(math.Float64bits(v))
}

// WriteRaw copies already-encoded bytes to the output.
func (w *Writer) WriteRaw(p []byte) {
	if w.measuring {
		w.count += len(p)
		return
	}
	if !w.reserve(len(p)) {
		return
	}
	w.buf = append(w.buf, p...)
}

func (w *Writer) fail(err error) error {
	if w.err == nil {
		w.err = err
	}
	return w.err
}

// reserve checks the quota and makes room for n bytes.
func (w *Writer) reserve(n int) bool {
	if w.err != nil {
		return false
	}
	if len(w.buf)-w.base+n > w.opts.maxMessageSize() {
		w.fail(fmt.Errorf("%w: limit is %d bytes", ErrMessageTooLarge, w.opts.maxMessageSize()))
		return false
	}
	w.ensure(n)
	return true
}

// ensure grows the buffer into a larger pooled slab when n more bytes do
// not fit.
func (w *Writer) ensure(n int) {
	need := len(w.buf) + n
	if need <= cap(w.buf) {
		return
	}
	newCap := 2 * cap(w.buf)
	if newCap < need {
		newCap = need
	}
	l := w.opts.pool().Rent(newCap)
	nb := append(l.Bytes()[:0], w.buf...)
	w.releaseLease()
	w.lease = l
	w.buf = nb
}
