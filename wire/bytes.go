package wire

import (
	"strings"
	"unicode/utf8"

	"github.com/anirudhraja/protocodec/pool"
)

// DECODER METHODS

// ReadBytesAlias reads a length-delimited payload and returns a slice that
// shares the reader's buffer. The result is only valid while the input is.
func (r *Reader) ReadBytesAlias() ([]byte, error) {
	if r.wireType != WireBytes {
		return nil, newDecodeError(ErrUnexpectedWireType, r.tagStart, r.field)
	}
	n, err := r.readLength()
	if err != nil {
		return nil, err
	}
	data := r.buf[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return data, nil
}

// ReadBytes reads a length-delimited payload into a new slice.
func (r *Reader) ReadBytes() ([]byte, error) {
	raw, err := r.ReadBytesAlias()
	if err != nil {
		return nil, err
	}
	// Copy the data to avoid sharing the underlying buffer
	data := make([]byte, len(raw))
	copy(data, raw)
	return data, nil
}

// ReadBytesScratch reads a length-delimited payload into dst when it is large
// enough, otherwise into a slab rented from the pool. A non-nil lease must be
// released by the caller once the bytes are no longer needed.
func (r *Reader) ReadBytesScratch(dst []byte) ([]byte, *pool.Lease, error) {
	raw, err := r.ReadBytesAlias()
	if err != nil {
		return nil, nil, err
	}
	if cap(dst) >= len(raw) {
		dst = dst[:len(raw)]
		copy(dst, raw)
		return dst, nil, nil
	}
	l := r.opts.pool().Rent(len(raw))
	copy(l.Bytes(), raw)
	return l.Bytes(), l, nil
}

// ReadString reads a length-delimited UTF-8 string. Under UTF8Strict invalid
// input is an error; under UTF8Replace bad sequences become U+FFFD.
func (r *Reader) ReadString() (string, error) {
	start := r.tagStart
	raw, err := r.ReadBytesAlias()
	if err != nil {
		return "", err
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	if r.opts != nil && r.opts.UTF8 == UTF8Replace {
		return strings.ToValidUTF8(string(raw), string(utf8.RuneError)), nil
	}
	return "", newDecodeError(ErrInvalidUTF8, start, r.field)
}

// ENCODER METHODS

// WriteBytes writes data with a varint length prefix.
func (w *Writer) WriteBytes(data []byte) {
	w.WriteVarint(uint64(len(data)))
	w.WriteRaw(data)
}

// WriteString writes s as UTF-8 with a varint length prefix.
func (w *Writer) WriteString(s string) {
	w.WriteVarint(uint64(len(s)))
	if w.measuring {
		w.count += len(s)
		return
	}
	if !w.reserve(len(s)) {
		return
	}
	w.buf = append(w.buf, s...)
}

// UTILITY FUNCTIONS

// BytesSize returns the size needed to encode the given bytes
func BytesSize(data []byte) int {
	return VarintSize(uint64(len(data))) + len(data)
}

// StringSize returns the size needed to encode the given string
func StringSize(s string) int {
	return VarintSize(uint64(len(s))) + len(s)
}
