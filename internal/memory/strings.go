package memory

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"github.com/coral-mesh/typescope/internal/safe"
	"github.com/coral-mesh/typescope/pkg/errkind"
)

// Length selects how many characters a string read may consume.
//
// The zero value is Default: scan for a terminator up to the reader's
// safety cap. Bounded(n) reads at most n characters. A zero or negative
// bound is rejected by the read.
type Length struct {
	n       int
	bounded bool
}

// Default returns the unbounded-by-caller length.
func Default() Length {
	return Length{}
}

// Bounded returns an explicit maximum of n characters.
func Bounded(n int) Length {
	return Length{n: n, bounded: true}
}

// CharCount maps the integer convention used by script front ends:
// negative means Default, anything else is an explicit bound (so 0 is
// rejected by the read).
func CharCount(n int) Length {
	if n < 0 {
		return Default()
	}
	return Bounded(n)
}

// IsDefault reports whether l is the Default length.
func (l Length) IsDefault() bool {
	return !l.bounded
}

// Max returns the explicit bound, if any.
func (l Length) Max() (int, bool) {
	return l.n, l.bounded
}

func (l Length) String() string {
	if !l.bounded {
		return "default"
	}
	return fmt.Sprintf("%d", l.n)
}

const (
	ansiCharSize = 1
	wideCharSize = 2
)

// ReadString reads a NUL-terminated single-byte string. The result is the
// target bytes up to, not including, the terminator.
func (r *Reader) ReadString(ctx context.Context, addr uint64, length Length) (string, error) {
	raw, err := r.readChars(ctx, "read string", addr, ansiCharSize, length)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ReadWideString reads a NUL-terminated UTF-16 string in the target's byte
// order.
func (r *Reader) ReadWideString(ctx context.Context, addr uint64, length Length) (string, error) {
	const op = "read wide string"
	raw, err := r.readChars(ctx, op, addr, wideCharSize, length)
	if err != nil {
		return "", err
	}

	endianness := unicode.LittleEndian
	if r.arch.ByteOrder == binary.ByteOrder(binary.BigEndian) {
		endianness = unicode.BigEndian
	}
	decoded, err := unicode.UTF16(endianness, unicode.IgnoreBOM).NewDecoder().Bytes(raw)
	if err != nil {
		return "", errkind.Wrap(errkind.ReadFailed, op, err)
	}
	return string(decoded), nil
}

// readChars returns the raw bytes of at most maxChars characters, cut at
// the first all-zero character. It validates the request before issuing
// any read and reads page-aligned chunks so a terminated string that ends
// before an unmapped page is still readable.
func (r *Reader) readChars(ctx context.Context, op string, addr uint64, charSize int, length Length) ([]byte, error) {
	ceiling := r.limits.MaxReadSize / charSize

	maxChars := r.limits.StringScanChars
	if n, bounded := length.Max(); bounded {
		switch {
		case n == 0:
			r.logger.Debug().Uint64("addr", addr).Msg("Rejected zero-length string read")
			return nil, errkind.New(errkind.InvalidArgument, op, "explicit length 0 is not allowed")
		case n < 0:
			return nil, errkind.New(errkind.InvalidArgument, op, "explicit length %d must be positive", n)
		case n > ceiling:
			r.logger.Debug().Uint64("addr", addr).Int("length", n).Int("ceiling", ceiling).Msg("Rejected string read above ceiling")
			return nil, errkind.New(errkind.InvalidArgument, op, "length %d exceeds ceiling %d characters", n, ceiling)
		}
		maxChars = n
	}
	if maxChars > ceiling {
		maxChars = ceiling
	}

	total := maxChars * charSize
	if _, ok := safe.AddrRange(addr, uint64(total)); !ok {
		return nil, errkind.New(errkind.InvalidArgument, op, "range 0x%x+%d wraps the address space", addr, total)
	}

	chunk := r.limits.page()
	buf := make([]byte, 0, min(uint64(total), chunk))
	cur := addr
	remaining := total
	scanned := 0

	for remaining > 0 {
		step := int(chunk - cur%chunk)
		if step > remaining {
			step = remaining
		}

		data, err := r.fetch(ctx, op, cur, step)
		if err != nil {
			return nil, err
		}
		buf = append(buf, data...)

		for ; scanned+charSize <= len(buf); scanned += charSize {
			if isZero(buf[scanned : scanned+charSize]) {
				return buf[:scanned], nil
			}
		}

		cur += uint64(step)
		remaining -= step
	}

	if length.IsDefault() {
		r.logger.Debug().Uint64("addr", addr).Int("chars", maxChars).Msg("String scan reached safety cap without terminator")
	}
	return buf[:scanned], nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
