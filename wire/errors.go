package wire

import (
	"errors"
	"fmt"
	"strings"
)

// Decode and encode failures. Every error returned by a Reader, Writer or the
// schema engine wraps exactly one of these, so callers can test with errors.Is.
var (
	ErrMalformedVarint      = errors.New("malformed varint")
	ErrTruncated            = errors.New("unexpected end of data")
	ErrInvalidWireType      = errors.New("invalid wire type")
	ErrInvalidFieldNumber   = errors.New("invalid field number")
	ErrUnterminatedSubItem  = errors.New("sub-item not fully consumed")
	ErrUnterminatedGroup    = errors.New("unterminated group")
	ErrWrongGroupClosed     = errors.New("wrong group closed")
	ErrUnexpectedWireType   = errors.New("unexpected wire type")
	ErrMessageTooLarge      = errors.New("message too large")
	ErrNegativeLength       = errors.New("negative length")
	ErrUnknownEnumValue     = errors.New("unknown enum value")
	ErrDepthExceeded        = errors.New("maximum nesting depth exceeded")
	ErrInvalidUTF8          = errors.New("string field contains invalid UTF-8")
	ErrLengthMismatch       = errors.New("sub-message length does not match measured length")
	ErrRequiredFieldMissing = errors.New("required field missing")
	ErrOneofConflict        = errors.New("more than one oneof member set")
)

// DecodeError carries the position and framing context of a wire failure.
type DecodeError struct {
	Offset   int         // byte offset into the input where the failure was detected
	Field    FieldNumber // field being processed, 0 if unknown
	Expected int         // expected boundary offset, -1 if not applicable
	Actual   int         // actual cursor offset, -1 if not applicable
	Err      error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	fmt.Fprintf(&b, " at offset %d", e.Offset)
	if e.Field != 0 {
		fmt.Fprintf(&b, " (field %d)", e.Field)
	}
	if e.Expected >= 0 && e.Actual >= 0 {
		fmt.Fprintf(&b, ": expected boundary %d, cursor at %d", e.Expected, e.Actual)
	}
	return b.String()
}

// Unwrap returns the sentinel error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newDecodeError(err error, offset int, field FieldNumber) *DecodeError {
	return &DecodeError{Offset: offset, Field: field, Expected: -1, Actual: -1, Err: err}
}

func newBoundaryError(err error, field FieldNumber, expected, actual int) *DecodeError {
	return &DecodeError{Offset: actual, Field: field, Expected: expected, Actual: actual, Err: err}
}

// FieldError represents an encoding/decoding error with a field path.
type FieldError struct {
	FieldPath []string // e.g., ["order", "lines", "sku"]
	Err       error    // underlying error
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	if len(e.FieldPath) == 0 {
		return e.Err.Error()
	}

	return fmt.Sprintf("error at proto path %s: %v", strings.Join(e.FieldPath, "."), e.Err)
}

// Unwrap returns the underlying error.
func (e *FieldError) Unwrap() error {
	return e.Err
}

// wrapWithField prepends fieldName to the error's path
func wrapWithField(err error, fieldName string) error {
	if err == nil {
		return nil
	}

	if fe, ok := err.(*FieldError); ok {
		return &FieldError{
			FieldPath: append([]string{fieldName}, fe.FieldPath...),
			Err:       fe.Err,
		}
	}

	return &FieldError{
		FieldPath: []string{fieldName},
		Err:       err,
	}
}
