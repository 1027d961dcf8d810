package wire

import (
	"os"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/anirudhraja/protocodec/pool"
)

// UTF8Policy selects how string fields with invalid UTF-8 are decoded.
type UTF8Policy int

const (
	// UTF8Strict fails the decode with ErrInvalidUTF8.
	UTF8Strict UTF8Policy = iota
	// UTF8Replace substitutes U+FFFD for each invalid sequence.
	UTF8Replace
)

// EnumPolicy selects how enum numbers without a declared member are decoded.
type EnumPolicy int

const (
	// EnumPassThrough surfaces the raw number as an int32.
	EnumPassThrough EnumPolicy = iota
	// EnumFail fails the decode with ErrUnknownEnumValue.
	EnumFail
)

// UnknownFieldsKey is the result key holding preserved unknown field bytes
// when Options.PreserveUnknown is set.
const UnknownFieldsKey = "__unknown"

// Options controls limits and optional behaviours of the Reader, Writer and
// schema engine. Options values are read-only once handed to a codec call and
// may be shared between goroutines.
type Options struct {
	// MaxMessageSize bounds the total encoded size of a message and every
	// length prefix read from the wire.
	MaxMessageSize int

	// MaxDepth bounds nesting of sub-messages and groups on both decode and
	// encode.
	MaxDepth int

	// UTF8 selects strict or lossy string decoding.
	UTF8 UTF8Policy

	// UnknownEnums selects whether undeclared enum numbers fail the decode.
	UnknownEnums EnumPolicy

	// PopulateDefaults fills absent non-repeated scalar and enum fields with
	// their default value on decode. Encoding omits those same defaults, so
	// turning this off yields proto3-style sparse results.
	PopulateDefaults bool

	// PreserveUnknown keeps the raw bytes of unknown fields under
	// UnknownFieldsKey and re-emits them on encode.
	PreserveUnknown bool

	// Pool supplies scratch slabs. Nil means pool.Default.
	Pool *pool.Pool

	// Logger receives trace events for skipped fields. The zero value
	// discards everything.
	Logger zerolog.Logger
}

// Environment toggles applied by DefaultOptions.
const (
	EnvMaxMessageSize   = "PROTOCODEC_MAX_MESSAGE_SIZE"
	EnvMaxDepth         = "PROTOCODEC_MAX_DEPTH"
	EnvStrictEnums      = "PROTOCODEC_STRICT_ENUMS"
	EnvLossyUTF8        = "PROTOCODEC_LOSSY_UTF8"
	EnvPopulateDefaults = "PROTOCODEC_POPULATE_DEFAULTS"
	EnvPreserveUnknown  = "PROTOCODEC_PRESERVE_UNKNOWN"
)

// DefaultOptions returns the library defaults with environment overrides
// applied.
func DefaultOptions() Options {
	opts := Options{
		MaxMessageSize:   defaultMaxMessageSize,
		MaxDepth:         defaultMaxDepth,
		UTF8:             UTF8Strict,
		UnknownEnums:     EnumPassThrough,
		PopulateDefaults: true,
		Logger:           zerolog.Nop(),
	}
	ApplyEnv(&opts)
	return opts
}

// ApplyEnv overlays environment toggles onto opts. Unset or unparsable
// variables leave the field unchanged.
func ApplyEnv(opts *Options) {
	if v, ok := envInt(EnvMaxMessageSize); ok && v > 0 {
		opts.MaxMessageSize = v
	}
	if v, ok := envInt(EnvMaxDepth); ok && v > 0 {
		opts.MaxDepth = v
	}
	if v, ok := envBool(EnvStrictEnums); ok {
		if v {
			opts.UnknownEnums = EnumFail
		} else {
			opts.UnknownEnums = EnumPassThrough
		}
	}
	if v, ok := envBool(EnvLossyUTF8); ok {
		if v {
			opts.UTF8 = UTF8Replace
		} else {
			opts.UTF8 = UTF8Strict
		}
	}
	if v, ok := envBool(EnvPopulateDefaults); ok {
		opts.PopulateDefaults = v
	}
	if v, ok := envBool(EnvPreserveUnknown); ok {
		opts.PreserveUnknown = v
	}
}

func (o *Options) pool() *pool.Pool {
	if o == nil || o.Pool == nil {
		return pool.Default
	}
	return o.Pool
}

func (o *Options) maxMessageSize() int {
	if o == nil || o.MaxMessageSize <= 0 {
		return defaultMaxMessageSize
	}
	return o.MaxMessageSize
}

func (o *Options) maxDepth() int {
	if o == nil || o.MaxDepth <= 0 {
		return defaultMaxDepth
	}
	return o.MaxDepth
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
