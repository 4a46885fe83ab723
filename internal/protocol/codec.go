package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/oxtoacart/bpool"
)

var (
	// ErrUnknownKind is returned when a message names no known kind
	ErrUnknownKind = errors.New("protocol: unknown event kind")

	// ErrMessageTooLarge is returned when a message exceeds MaxMessageSize
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrMissingArg is returned by Message.Arg for a missing argument
	ErrMissingArg = errors.New("protocol: missing argument")
)

// Codec turns events into zstd-compressed JSON and back. Encoder and decoder
// are shared; both are safe for concurrent use.
type Codec struct {
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	pool *bpool.SizedBufferPool
}

// NewCodec creates a codec whose output buffers come from a pool of
// poolSize buffers of bufSize initial capacity.
func NewCodec(poolSize, bufSize int) (*Codec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("protocol: create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(MaxMessageSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("protocol: create zstd decoder: %w", err)
	}
	return &Codec{
		enc:  enc,
		dec:  dec,
		pool: bpool.NewSizedBufferPool(poolSize, bufSize),
	}, nil
}

// Compress encodes kind and args into a pooled buffer. The caller owns the
// buffer and must Release it.
func (c *Codec) Compress(kind Kind, args []any) (*Buffer, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(Outbound{Kind: kind, Args: args})
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", kind, err)
	}
	if len(raw) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrMessageTooLarge, kind, len(raw))
	}

	b := c.pool.Get()
	out := c.enc.EncodeAll(raw, b.AvailableBuffer())
	b.Write(out)
	return &Buffer{buf: b, pool: c.pool}, nil
}

// Marshal compresses an event into a caller-owned slice.
func (c *Codec) Marshal(kind Kind, args ...any) ([]byte, error) {
	b, err := c.Compress(kind, args)
	if err != nil {
		return nil, err
	}
	defer b.Release()
	return bytes.Clone(b.Bytes()), nil
}

// Decode decompresses and parses one message.
func (c *Codec) Decode(data []byte) (Message, error) {
	if len(data) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: %d compressed bytes", ErrMessageTooLarge, len(data))
	}
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return Message{}, fmt.Errorf("%w: %w", ErrMessageTooLarge, err)
		}
		return Message{}, fmt.Errorf("protocol: decompress: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("protocol: unmarshal: %w", err)
	}
	if !msg.Kind.Valid() {
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	return msg, nil
}

// Close releases the encoder and decoder.
func (c *Codec) Close() {
	c.enc.Close()
	c.dec.Close()
}

// Buffer is a compressed message in pooled storage.
type Buffer struct {
	buf      *bytes.Buffer
	pool     *bpool.SizedBufferPool
	released atomic.Bool
}

// NewBuffer wraps data in an unpooled Buffer.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{buf: bytes.NewBuffer(data)}
}

// Bytes returns the compressed message. The slice is only valid until
// Release.
func (b *Buffer) Bytes() []byte {
	return b.buf.Bytes()
}

// Len returns the compressed size.
func (b *Buffer) Len() int {
	return b.buf.Len()
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	return b.released.Load()
}

// Release returns the storage to its pool. Only the first call has an effect.
func (b *Buffer) Release() {
	if !b.released.CompareAndSwap(false, true) {
		return
	}
	if b.pool != nil {
		b.pool.Put(b.buf)
	}
}
