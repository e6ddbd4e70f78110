package memory

import (
	"bytes"
	"context"

	"github.com/coral-mesh/typescope/internal/safe"
	"github.com/coral-mesh/typescope/pkg/errkind"
)

// searchWindowPages is how many pages one search read covers.
const searchWindowPages = 16

// Searcher scans target memory for byte patterns.
type Searcher struct {
	r *Reader
}

// NewSearcher creates a searcher that reads through r.
func NewSearcher(r *Reader) *Searcher {
	return &Searcher{r: r}
}

// Find returns every address start+k*granularity inside
// [start, start+regionLen) where pattern matches in full. Matches are
// ascending and may overlap. An empty result is not an error.
func (s *Searcher) Find(ctx context.Context, start, regionLen uint64, pattern []byte, granularity uint64) ([]uint64, error) {
	return s.scan(ctx, "find memory", start, regionLen, pattern, granularity)
}

// Search is Find for callers that require a match: an empty result is
// reported as PatternNotFound.
func (s *Searcher) Search(ctx context.Context, start, regionLen uint64, pattern []byte, granularity uint64) ([]uint64, error) {
	const op = "search memory"
	matches, err := s.scan(ctx, op, start, regionLen, pattern, granularity)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errkind.New(errkind.PatternNotFound, op,
			"%d-byte pattern not found in 0x%x+0x%x at granularity %d", len(pattern), start, regionLen, granularity)
	}
	return matches, nil
}

func (s *Searcher) validate(op string, start, regionLen uint64, pattern []byte, granularity uint64) error {
	limits := s.r.limits
	switch {
	case len(pattern) == 0:
		return errkind.New(errkind.InvalidArgument, op, "empty pattern")
	case len(pattern) > limits.MaxReadSize:
		return errkind.New(errkind.InvalidArgument, op, "pattern length %d exceeds ceiling %d", len(pattern), limits.MaxReadSize)
	case granularity == 0:
		return errkind.New(errkind.InvalidArgument, op, "granularity must be positive")
	case uint64(len(pattern))%granularity != 0:
		return errkind.New(errkind.InvalidArgument, op, "granularity %d does not divide pattern length %d", granularity, len(pattern))
	case regionLen == 0:
		return errkind.New(errkind.InvalidArgument, op, "empty region")
	case regionLen > limits.MaxSearchRegion:
		return errkind.New(errkind.InvalidArgument, op, "region length 0x%x exceeds ceiling 0x%x", regionLen, limits.MaxSearchRegion)
	}
	if _, ok := safe.AddrRange(start, regionLen); !ok {
		return errkind.New(errkind.InvalidArgument, op, "region 0x%x+0x%x wraps the address space", start, regionLen)
	}
	return nil
}

func (s *Searcher) scan(ctx context.Context, op string, start, regionLen uint64, pattern []byte, granularity uint64) ([]uint64, error) {
	if err := s.validate(op, start, regionLen, pattern, granularity); err != nil {
		s.r.logger.Debug().Err(err).Msg("Rejected search request")
		return nil, err
	}

	var matches []uint64
	plen := uint64(len(pattern))
	if plen > regionLen {
		return matches, nil
	}

	chunk := s.r.limits.page()
	window := chunk * searchWindowPages
	if window > uint64(s.r.limits.MaxReadSize) {
		window = uint64(s.r.limits.MaxReadSize)
	}
	// window >= chunk, so every step is in [1, window].

	end := start + regionLen
	cur := start
	// carry holds the last plen-1 bytes of the previous window so matches
	// straddling a window boundary are seen exactly once.
	var carry []byte

	for cur < end {
		step := window - cur%chunk
		if step > end-cur {
			step = end - cur
		}

		data, err := s.r.fetch(ctx, op, cur, int(step))
		if err != nil {
			return nil, err
		}

		buf := append(carry, data...)
		base := cur - uint64(len(carry))

		for i := 0; i+len(pattern) <= len(buf); {
			k := bytes.Index(buf[i:], pattern)
			if k < 0 {
				break
			}
			at := base + uint64(i+k)
			if (at-start)%granularity == 0 {
				matches = append(matches, at)
			}
			i += k + 1
		}

		keep := len(pattern) - 1
		if keep > len(buf) {
			keep = len(buf)
		}
		carry = append([]byte(nil), buf[len(buf)-keep:]...)
		cur += step
	}

	s.r.logger.Debug().
		Uint64("start", start).
		Uint64("length", regionLen).
		Int("pattern_len", len(pattern)).
		Uint64("granularity", granularity).
		Int("matches", len(matches)).
		Msg("Memory search complete")

	return matches, nil
}
