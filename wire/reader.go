package wire

import (
	"math"
)

// Reader is a cursor over an encoded message. It tracks the end of the
// innermost open length-delimited frame (objectEnd) and the innermost open
// group, so that ReadFieldHeader reports a clean end of message with 0 at
// either boundary.
//
// A Reader is not safe for concurrent use.
type Reader struct {
	buf       []byte
	pos       int
	objectEnd int

	field    FieldNumber // last header read
	wireType WireType
	tagStart int // offset of the last header

	group        FieldNumber // innermost open group at the current level, 0 when none
	groupDone    bool        // the matching end tag of group has been read
	endGroupFrom int         // offset of the last end-group tag

	depth int
	opts  *Options
}

type frameKind uint8

const (
	frameLength frameKind = iota + 1
	frameGroup
)

// SubItemToken captures the enclosing frame state saved by StartSubItem.
// It must be passed back to EndSubItem exactly once.
type SubItemToken struct {
	kind      frameKind
	field     FieldNumber
	start     int
	prevEnd   int
	prevGroup FieldNumber
	prevDone  bool
}

// NewReader creates a reader over data with default options
func NewReader(data []byte) *Reader {
	opts := DefaultOptions()
	return NewReaderWithOptions(data, &opts)
}

// NewReaderWithOptions creates a reader over data with the given options.
// opts must outlive the reader.
func NewReaderWithOptions(data []byte, opts *Options) *Reader {
	return &Reader{
		buf:       data,
		objectEnd: len(data),
		opts:      opts,
	}
}

// Pos returns the current byte offset.
func (r *Reader) Pos() int {
	return r.pos
}

// Depth returns the number of open sub-items.
func (r *Reader) Depth() int {
	return r.depth
}

// FieldNumber returns the field number of the last header read.
func (r *Reader) FieldNumber() FieldNumber {
	return r.field
}

// WireType returns the wire type of the last header read.
func (r *Reader) WireType() WireType {
	return r.wireType
}

// HasMore reports whether unread bytes remain in the current length-delimited frame.
func (r *Reader) HasMore() bool {
	return r.pos < r.objectEnd
}

// ReadFieldHeader reads the next field tag and returns its field number. It
// returns 0 with a nil error at the end of the current frame, and when the
// end tag of the innermost open group is read. A field number outside the
// valid range, an illegal wire type or an end tag for any other group is an
// error.
func (r *Reader) ReadFieldHeader() (FieldNumber, error) {
	if r.groupDone || r.pos >= r.objectEnd {
		return 0, nil
	}
	start := r.pos
	v, n, err := ConsumeVarint(r.buf[r.pos:r.objectEnd])
	if err != nil {
		return 0, newDecodeError(err, start, 0)
	}
	if v>>3 > uint64(MaxFieldNumber) || v>>3 == 0 {
		return 0, newDecodeError(ErrInvalidFieldNumber, start, 0)
	}
	fn, wt := ParseTag(Tag(v))
	if !wt.Valid() {
		return 0, newDecodeError(ErrInvalidWireType, start, fn)
	}
	r.pos += n
	r.tagStart = start
	r.field, r.wireType = fn, wt

	if wt == WireEndGroup {
		if r.group == 0 || fn != r.group {
			return 0, &DecodeError{Offset: start, Field: fn, Expected: int(r.group), Actual: int(fn), Err: ErrWrongGroupClosed}
		}
		r.groupDone = true
		r.endGroupFrom = start
		return 0, nil
	}
	return fn, nil
}

// StartSubItem enters the sub-message or group introduced by the last header.
// For length-delimited frames the length prefix is read and the frame end
// becomes the new object end; for groups the field number is remembered so
// that only its own end tag closes it.
func (r *Reader) StartSubItem() (SubItemToken, error) {
	if r.depth >= r.opts.maxDepth() {
		return SubItemToken{}, newDecodeError(ErrDepthExceeded, r.pos, r.field)
	}
	tok := SubItemToken{
		field:     r.field,
		prevEnd:   r.objectEnd,
		prevGroup: r.group,
		prevDone:  r.groupDone,
	}
	switch r.wireType {
	case WireBytes:
		length, err := r.readLength()
		if err != nil {
			return SubItemToken{}, err
		}
		tok.kind = frameLength
		tok.start = r.pos
		r.objectEnd = r.pos + length
		r.group = 0
	case WireStartGroup:
		tok.kind = frameGroup
		tok.start = r.pos
		r.group = r.field
	default:
		return SubItemToken{}, newDecodeError(ErrUnexpectedWireType, r.tagStart, r.field)
	}
	r.groupDone = false
	r.depth++
	return tok, nil
}

// EndSubItem leaves the frame opened by StartSubItem. A length-delimited
// frame must have been consumed exactly; a group must have seen its own end
// tag.
func (r *Reader) EndSubItem(tok SubItemToken) error {
	switch tok.kind {
	case frameLength:
		if r.pos != r.objectEnd {
			return newBoundaryError(ErrUnterminatedSubItem, tok.field, r.objectEnd, r.pos)
		}
	case frameGroup:
		if !r.groupDone {
			return newDecodeError(ErrUnterminatedGroup, r.pos, tok.field)
		}
	default:
		return newDecodeError(ErrUnterminatedSubItem, r.pos, tok.field)
	}
	r.objectEnd = tok.prevEnd
	r.group = tok.prevGroup
	r.groupDone = tok.prevDone
	r.depth--
	return nil
}

// SkipField advances past the payload of the field whose header was just
// read. Groups are skipped recursively up to their matching end tag.
func (r *Reader) SkipField() error {
	switch r.wireType {
	case WireVarint:
		_, err := r.ReadVarint()
		return err
	case WireFixed64:
		return r.advance(8)
	case WireFixed32:
		return r.advance(4)
	case WireBytes:
		length, err := r.readLength()
		if err != nil {
			return err
		}
		r.pos += length
		return nil
	case WireStartGroup:
		tok, err := r.StartSubItem()
		if err != nil {
			return err
		}
		for {
			fn, err := r.ReadFieldHeader()
			if err != nil {
				return err
			}
			if fn == 0 {
				break
			}
			if err := r.SkipField(); err != nil {
				return err
			}
		}
		return r.EndSubItem(tok)
	default:
		return newDecodeError(ErrInvalidWireType, r.tagStart, r.field)
	}
}

// SkipFieldRaw skips the current field and returns its complete encoding,
// header included. The returned slice aliases the input.
func (r *Reader) SkipFieldRaw() ([]byte, error) {
	start := r.tagStart
	if err := r.SkipField(); err != nil {
		return nil, err
	}
	return r.buf[start:r.pos], nil
}

// ReadRawField reads the payload of the current field without a schema.
// Length-delimited and group payloads alias the input.
func (r *Reader) ReadRawField() (RawValue, error) {
	rv := RawValue{FieldNumber: r.field, WireType: r.wireType}
	var err error
	switch r.wireType {
	case WireVarint:
		rv.Varint, err = r.ReadVarint()
	case WireFixed32:
		var v uint32
		v, err = r.ReadFixed32()
		rv.Varint = uint64(v)
	case WireFixed64:
		rv.Varint, err = r.ReadFixed64()
	case WireBytes:
		rv.RawData, err = r.ReadBytesAlias()
	case WireStartGroup:
		start := r.pos
		if err = r.SkipField(); err == nil {
			rv.RawData = r.buf[start:r.endGroupFrom]
		}
	default:
		err = newDecodeError(ErrInvalidWireType, r.tagStart, r.field)
	}
	return rv, err
}

// ===== PRIMITIVE READS =====

// ReadVarint reads a raw 64-bit varint.
func (r *Reader) ReadVarint() (uint64, error) {
	v, n, err := ConsumeVarint(r.buf[r.pos:r.objectEnd])
	if err != nil {
		return 0, newDecodeError(err, r.pos, r.field)
	}
	r.pos += n
	return v, nil
}

// ReadUint32 reads a varint holding a 32-bit unsigned value.
func (r *Reader) ReadUint32() (uint32, error) {
	v, n, err := ConsumeVarint32(r.buf[r.pos:r.objectEnd])
	if err != nil {
		return 0, newDecodeError(err, r.pos, r.field)
	}
	r.pos += n
	return v, nil
}

// ReadInt32 reads a two's-complement int32 varint.
func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadInt64 reads a two's-complement int64 varint.
func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadVarint()
	return int64(v), err
}

// ReadUint64 reads an unsigned 64-bit varint.
func (r *Reader) ReadUint64() (uint64, error) {
	return r.ReadVarint()
}

// ReadSint32 reads a zigzag-encoded int32.
func (r *Reader) ReadSint32() (int32, error) {
	v, err := r.ReadVarint()
	return DecodeZigZag32(v), err
}

// ReadSint64 reads a zigzag-encoded int64.
func (r *Reader) ReadSint64() (int64, error) {
	v, err := r.ReadVarint()
	return DecodeZigZag64(v), err
}

// ReadBool reads a varint as bool.
func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadVarint()
	return v != 0, err
}

// ReadFixed32 reads a little-endian 32-bit value.
func (r *Reader) ReadFixed32() (uint32, error) {
	v, n, err := ConsumeFixed32(r.buf[r.pos:r.objectEnd])
	if err != nil {
		return 0, newDecodeError(err, r.pos, r.field)
	}
	r.pos += n
	return v, nil
}

// ReadFixed64 reads a little-endian 64-bit value.
func (r *Reader) ReadFixed64() (uint64, error) {
	v, n, err := ConsumeFixed64(r.buf[r.pos:r.objectEnd])
	if err != nil {
		return 0, newDecodeError(err, r.pos, r.field)
	}
	r.pos += n
	return v, nil
}

// ReadSfixed32 reads a little-endian signed 32-bit value.
func (r *Reader) ReadSfixed32() (int32, error) {
	v, err := r.ReadFixed32()
	return int32(v), err
}

// ReadSfixed64 reads a little-endian signed 64-bit value.
func (r *Reader) ReadSfixed64() (int64, error) {
	v, err := r.ReadFixed64()
	return int64(v), err
}

// ReadFloat reads a 32-bit IEEE 754 value.
func (r *Reader) ReadFloat() (float32, error) {
	v, err := r.ReadFixed32()
	return math.Float32frombits(v), err
}

// ReadDouble reads a 64-bit IEEE 754 value.
func (r *Reader) ReadDouble() (float64, error) {
	v, err := r.ReadFixed64()
	return math.Float64frombits(v), err
}

// readLength reads a length prefix and checks it against the quota and the
// bytes left in the current frame.
func (r *Reader) readLength() (int, error) {
	start := r.pos
	v, n, err := ConsumeVarint(r.buf[r.pos:r.objectEnd])
	if err != nil {
		return 0, newDecodeError(err, start, r.field)
	}
	if v > maxLengthPrefix {
		return 0, newDecodeError(ErrNegativeLength, start, r.field)
	}
	if int(v) > r.opts.maxMessageSize() {
		return 0, newDecodeError(ErrMessageTooLarge, start, r.field)
	}
	r.pos += n
	if int(v) > r.objectEnd-r.pos {
		err := newBoundaryError(ErrTruncated, r.field, r.pos+int(v), r.objectEnd)
		err.Offset = start
		return 0, err
	}
	return int(v), nil
}

func (r *Reader) advance(n int) error {
	if r.objectEnd-r.pos < n {
		return newDecodeError(ErrTruncated, r.pos, r.field)
	}
	r.pos += n
	return nil
}
