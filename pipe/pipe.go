// Package pipe streams messages as a sequence of frames, each a varint
// length prefix followed by that many bytes of encoded message.
package pipe

import (
	"bufio"
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/anirudhraja/protocodec/pool"
	"github.com/anirudhraja/protocodec/schema"
	"github.com/anirudhraja/protocodec/wire"
)

const maxPrefixLen = 10

var (
	ErrFrameTooLarge = errors.New("pipe: frame too large")
	ErrBadPrefix     = errors.New("pipe: malformed length prefix")
)

// Limits constrains frame sizes in both directions.
type Limits struct {
	MaxMessageSize int // zero or negative means the default
}

// DefaultLimits matches the codec's default message quota.
func DefaultLimits() Limits {
	return Limits{MaxMessageSize: wire.DefaultOptions().MaxMessageSize}
}

type config struct {
	limits Limits
	codec  *wire.Options
	pool   *pool.Pool
	logger zerolog.Logger
}

// Option configures a Reader or Writer.
type Option func(*config)

// WithLimits overrides DefaultLimits.
func WithLimits(l Limits) Option {
	return func(c *config) { c.limits = l }
}

// WithCodecOptions sets the options used to encode and decode messages. They
// are copied; a nil Pool in them is replaced by the pipe's pool.
func WithCodecOptions(o *wire.Options) Option {
	return func(c *config) { c.codec = o }
}

// WithPool sets the pool frames are read into.
func WithPool(p *pool.Pool) Option {
	return func(c *config) { c.pool = p }
}

// WithLogger sets the logger for frame events.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) { c.logger = l }
}

func newConfig(opts []Option) config {
	c := config{
		limits: DefaultLimits(),
		pool:   pool.Default,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	o := wire.DefaultOptions()
	if c.codec != nil {
		o = *c.codec
	}
	if o.Pool == nil {
		o.Pool = c.pool
	}
	c.codec = &o
	if c.limits.MaxMessageSize <= 0 {
		c.limits = DefaultLimits()
	}
	return c
}

// Writer writes frames to an underlying io.Writer. It is not safe for
// concurrent use.
type Writer struct {
	w        io.Writer
	provider schema.Provider
	enc      *wire.Encoder
	cfg      config
	frames   uint64
}

// NewWriter creates a Writer. provider resolves the message names passed to
// WriteMessage.
func NewWriter(w io.Writer, provider schema.Provider, opts ...Option) *Writer {
	cfg := newConfig(opts)
	return &Writer{
		w:        w,
		provider: provider,
		enc:      wire.NewEncoder(provider, cfg.codec),
		cfg:      cfg,
	}
}

// WriteFrame writes payload behind its length prefix.
func (w *Writer) WriteFrame(payload []byte) error {
	if len(payload) > w.cfg.limits.MaxMessageSize {
		w.cfg.logger.Warn().Int("size", len(payload)).Int("limit", w.cfg.limits.MaxMessageSize).Msg("frame rejected")
		return errors.Wrapf(ErrFrameTooLarge, "%d bytes exceeds limit %d", len(payload), w.cfg.limits.MaxMessageSize)
	}
	var prefix [maxPrefixLen]byte
	n := wire.PutVarint(prefix[:], uint64(len(payload)))
	if _, err := w.w.Write(prefix[:n]); err != nil {
		return errors.Wrap(err, "pipe: write length prefix")
	}
	if _, err := w.w.Write(payload); err != nil {
		return errors.Wrap(err, "pipe: write frame")
	}
	w.frames++
	w.cfg.logger.Debug().Uint64("frame", w.frames).Int("size", len(payload)).Msg("frame written")
	return nil
}

// WriteMessage encodes data as the message called msgName and writes it as
// one frame.
func (w *Writer) WriteMessage(data map[string]interface{}, msgName string) error {
	msg, err := w.provider.GetMessage(msgName)
	if err != nil {
		return errors.Wrapf(err, "pipe: resolve %s", msgName)
	}
	lease, err := w.enc.EncodeLease(data, msg)
	if err != nil {
		return err
	}
	defer lease.Release()
	return w.WriteFrame(lease.Bytes())
}

// Frames returns the number of frames written so far.
func (w *Writer) Frames() uint64 {
	return w.frames
}

// Reader reads frames from an underlying io.Reader. It is not safe for
// concurrent use.
type Reader struct {
	br       *bufio.Reader
	provider schema.Provider
	cfg      config
	frames   uint64
}

// NewReader creates a Reader. provider resolves the message names passed to
// ReadMessage.
func NewReader(r io.Reader, provider schema.Provider, opts ...Option) *Reader {
	return &Reader{
		br:       bufio.NewReader(r),
		provider: provider,
		cfg:      newConfig(opts),
	}
}

// ReadFrame reads the next frame into a pooled lease which the caller must
// release. It returns io.EOF when the stream ends on a frame boundary and
// io.ErrUnexpectedEOF when it ends inside one.
func (r *Reader) ReadFrame(ctx context.Context) (*pool.Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size, err := r.readPrefix()
	if err != nil {
		return nil, err
	}
	if size > uint64(r.cfg.limits.MaxMessageSize) {
		r.cfg.logger.Warn().Uint64("size", size).Int("limit", r.cfg.limits.MaxMessageSize).Msg("frame rejected")
		return nil, errors.Wrapf(ErrFrameTooLarge, "frame %d announces %d bytes, limit %d", r.frames+1, size, r.cfg.limits.MaxMessageSize)
	}

	lease := r.cfg.pool.Rent(int(size))
	if _, err := io.ReadFull(r.br, lease.Bytes()); err != nil {
		lease.Release()
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, errors.Wrapf(err, "pipe: frame %d", r.frames+1)
	}
	r.frames++
	r.cfg.logger.Debug().Uint64("frame", r.frames).Uint64("size", size).Msg("frame read")
	return lease, nil
}

// ReadMessage reads the next frame and decodes it as the message called
// msgName.
func (r *Reader) ReadMessage(ctx context.Context, msgName string) (map[string]interface{}, error) {
	msg, err := r.provider.GetMessage(msgName)
	if err != nil {
		return nil, errors.Wrapf(err, "pipe: resolve %s", msgName)
	}
	lease, err := r.ReadFrame(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	return wire.DecodeMessage(lease.Bytes(), msg, r.provider, r.cfg.codec)
}

// ReadMessageLease is ReadMessage without copying bytes fields: they alias
// the pooled frame. The returned lease, when non-nil, keeps the frame alive
// and must be released once the message is no longer used.
func (r *Reader) ReadMessageLease(ctx context.Context, msgName string) (map[string]interface{}, *pool.Lease, error) {
	msg, err := r.provider.GetMessage(msgName)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "pipe: resolve %s", msgName)
	}
	frame, err := r.ReadFrame(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer frame.Release()
	return wire.DecodeLease(frame, msg, r.provider, r.cfg.codec)
}

// Frames returns the number of frames read so far.
func (r *Reader) Frames() uint64 {
	return r.frames
}

func (r *Reader) readPrefix() (uint64, error) {
	var buf [maxPrefixLen]byte
	for i := range buf {
		b, err := r.br.ReadByte()
		if err != nil {
			if err == io.EOF && i > 0 {
				return 0, errors.Wrap(io.ErrUnexpectedEOF, "pipe: truncated length prefix")
			}
			return 0, err
		}
		buf[i] = b
		if b < 0x80 {
			v, _, err := wire.ConsumeVarint(buf[:i+1])
			if err != nil {
				return 0, errors.Wrap(ErrBadPrefix, err.Error())
			}
			return v, nil
		}
	}
	return 0, ErrBadPrefix
}
