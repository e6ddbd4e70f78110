// Package memory implements bounds-checked access to target memory: raw
// reads, scalar and pointer reads, terminated string reads and pattern
// search. It is the only package that issues reads against the engine.
package memory

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/typescope/internal/config"
	"github.com/coral-mesh/typescope/internal/constants"
	"github.com/coral-mesh/typescope/internal/safe"
	"github.com/coral-mesh/typescope/pkg/errkind"
	"github.com/coral-mesh/typescope/pkg/target"
)

// Limits bounds every request the reader accepts.
type Limits struct {
	// MaxReadSize is the hard ceiling for one read, in bytes.
	MaxReadSize int
	// StringScanChars caps default-mode string scans, in characters.
	StringScanChars int
	// ChunkSize is the page granularity of chunked scans.
	ChunkSize int
	// MaxSearchRegion bounds one search, in bytes.
	MaxSearchRegion uint64
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{
		MaxReadSize:     constants.DefaultMaxReadSize,
		StringScanChars: constants.DefaultStringScanChars,
		ChunkSize:       constants.DefaultReadChunkSize,
		MaxSearchRegion: constants.DefaultMaxSearchRegion,
	}
}

// LimitsFromConfig converts the configuration section.
func LimitsFromConfig(cfg config.LimitsConfig) Limits {
	return Limits{
		MaxReadSize:     cfg.MaxReadSize,
		StringScanChars: cfg.StringScanChars,
		ChunkSize:       cfg.ReadChunkSize,
		MaxSearchRegion: cfg.MaxSearchRegion,
	}
}

// page returns the chunk granularity, clamped so one chunk never exceeds
// a single read.
func (l Limits) page() uint64 {
	c := uint64(max(l.ChunkSize, 1))
	if m := uint64(max(l.MaxReadSize, 1)); c > m {
		c = m
	}
	return c
}

// Reader performs validated reads against target memory.
type Reader struct {
	mem    target.Memory
	arch   target.Arch
	limits Limits
	logger zerolog.Logger
}

// NewReader creates a reader over mem.
func NewReader(mem target.Memory, arch target.Arch, limits Limits, logger zerolog.Logger) *Reader {
	return &Reader{
		mem:    mem,
		arch:   arch,
		limits: limits,
		logger: logger.With().Str("component", "memory-reader").Logger(),
	}
}

// Limits returns the limits the reader enforces.
func (r *Reader) Limits() Limits {
	return r.limits
}

// Arch returns the target machine description.
func (r *Reader) Arch() target.Arch {
	return r.arch
}

// Read returns exactly length bytes at addr. length must be in
// [1, MaxReadSize]. The read is atomic: either every byte is returned or
// the call fails with ReadFailed.
func (r *Reader) Read(ctx context.Context, addr uint64, length int) ([]byte, error) {
	const op = "read"
	if length <= 0 {
		r.logger.Debug().Uint64("addr", addr).Int("length", length).Msg("Rejected non-positive read length")
		return nil, errkind.New(errkind.InvalidArgument, op, "length %d must be positive", length)
	}
	if length > r.limits.MaxReadSize {
		r.logger.Debug().Uint64("addr", addr).Int("length", length).Msg("Rejected read above ceiling")
		return nil, errkind.New(errkind.InvalidArgument, op, "length %d exceeds ceiling %d", length, r.limits.MaxReadSize)
	}
	if _, ok := safe.AddrRange(addr, uint64(length)); !ok {
		return nil, errkind.New(errkind.InvalidArgument, op, "range 0x%x+%d wraps the address space", addr, length)
	}
	return r.fetch(ctx, op, addr, length)
}

// fetch issues one engine read. Callers have validated the length.
func (r *Reader) fetch(ctx context.Context, op string, addr uint64, length int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errkind.Wrap(errkind.ReadFailed, op, err)
	}
	buf := make([]byte, length)
	if err := r.mem.ReadMemory(ctx, addr, buf); err != nil {
		r.logger.Debug().Err(err).Uint64("addr", addr).Int("length", length).Msg("Target read failed")
		return nil, errkind.Wrap(errkind.ReadFailed, op, err)
	}
	return buf, nil
}

// ReadUint reads an unsigned integer of size 1, 2, 4 or 8 bytes in the
// target's byte order.
func (r *Reader) ReadUint(ctx context.Context, addr uint64, size int) (uint64, error) {
	switch size {
	case 1, 2, 4, 8:
	default:
		return 0, errkind.New(errkind.InvalidArgument, "read uint", "unsupported integer size %d", size)
	}
	buf, err := r.Read(ctx, addr, size)
	if err != nil {
		return 0, err
	}
	return r.DecodeUint(buf), nil
}

// DecodeUint decodes a 1, 2, 4 or 8 byte buffer in the target's byte order.
// Other lengths decode to zero.
func (r *Reader) DecodeUint(buf []byte) uint64 {
	order := r.arch.ByteOrder
	switch len(buf) {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(order.Uint16(buf))
	case 4:
		return uint64(order.Uint32(buf))
	case 8:
		return order.Uint64(buf)
	default:
		return 0
	}
}

// ReadPointer reads a pointer-sized value at addr.
func (r *Reader) ReadPointer(ctx context.Context, addr uint64) (uint64, error) {
	return r.ReadUint(ctx, addr, r.arch.PointerSize)
}
