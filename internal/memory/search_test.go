package memory

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/typescope/internal/testutil"
	"github.com/coral-mesh/typescope/pkg/errkind"
	"github.com/coral-mesh/typescope/pkg/target/targettest"
)

func TestSearch_Car(t *testing.T) {
	start := uint64(nameAddr - 16)
	pattern := []byte("FooCar")

	tests := []struct {
		name        string
		pattern     []byte
		granularity uint64
		wantKind    errkind.Kind
	}{
		{name: "byte granularity", pattern: pattern, granularity: 1},
		{name: "two byte granularity", pattern: pattern, granularity: 2},
		{name: "granularity does not divide pattern", pattern: pattern, granularity: 4, wantKind: errkind.InvalidArgument},
		{name: "absent pattern", pattern: []byte("AbcDefAb"), granularity: 4, wantKind: errkind.PatternNotFound},
		{name: "only at misaligned offset", pattern: pattern, granularity: 3, wantKind: errkind.PatternNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			car := testutil.NewCarTarget()
			s := NewSearcher(newTestReader(car.Target, DefaultLimits()))

			matches, err := s.Search(context.Background(), start, 100, tt.pattern, tt.granularity)
			if tt.wantKind != errkind.Unknown {
				assert.ErrorIs(t, err, tt.wantKind)
				assert.Nil(t, matches)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []uint64{nameAddr}, matches)
		})
	}
}

func TestSearch_InvalidGranularityIssuesNoRead(t *testing.T) {
	car := testutil.NewCarTarget()
	s := NewSearcher(newTestReader(car.Target, DefaultLimits()))

	_, err := s.Search(context.Background(), nameAddr-16, 100, []byte("FooCar"), 4)
	assert.ErrorIs(t, err, errkind.InvalidArgument)
	assert.Zero(t, car.Reads())
}

func TestFind_MayBeEmpty(t *testing.T) {
	car := testutil.NewCarTarget()
	s := NewSearcher(newTestReader(car.Target, DefaultLimits()))

	matches, err := s.Find(context.Background(), nameAddr-16, 100, []byte("FooCar"), 3)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFind_OverlappingMatches(t *testing.T) {
	tgt := targettest.New()
	tgt.Map(0x1000, []byte("xaaaaay"))
	s := NewSearcher(newTestReader(tgt, DefaultLimits()))

	matches, err := s.Find(context.Background(), 0x1000, 7, []byte("aa"), 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1001, 0x1002, 0x1003, 0x1004}, matches)

	// Alignment is relative to the region start, not to absolute addresses.
	matches, err = s.Find(context.Background(), 0x1001, 6, []byte("aa"), 2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1001, 0x1003}, matches)
}

func TestFind_PatternMustFitInRegion(t *testing.T) {
	tgt := targettest.New()
	tgt.Map(0x1000, []byte("abcdef"))
	s := NewSearcher(newTestReader(tgt, DefaultLimits()))

	matches, err := s.Find(context.Background(), 0x1000, 5, []byte("ef"), 1)
	require.NoError(t, err)
	assert.Empty(t, matches)

	before := tgt.Reads()
	matches, err = s.Find(context.Background(), 0x1000, 2, []byte("abcdef"), 1)
	require.NoError(t, err)
	assert.Empty(t, matches)
	assert.Equal(t, before, tgt.Reads(), "a pattern longer than the region issues no read")
}

func TestFind_AcrossWindows(t *testing.T) {
	tgt := targettest.New()
	region := make([]byte, 1024)
	// Place matches so several straddle the 64-byte windows used below.
	offsets := []int{0, 62, 126, 300, 1020}
	for _, off := range offsets {
		copy(region[off:], "MAGI")
	}
	tgt.Map(0x8000, region)

	limits := DefaultLimits()
	limits.ChunkSize = 4 // 64-byte search windows
	r := newTestReader(tgt, limits)
	s := NewSearcher(r)

	matches, err := s.Find(context.Background(), 0x8000, uint64(len(region)), []byte("MAGI"), 2)
	require.NoError(t, err)

	want := make([]uint64, 0, len(offsets))
	for _, off := range offsets {
		want = append(want, 0x8000+uint64(off))
	}
	assert.Equal(t, want, matches)
	assert.Greater(t, tgt.Reads(), int64(1))
}

func TestSearch_UnreadableRegion(t *testing.T) {
	tgt := targettest.New()
	tgt.Map(0x1000, []byte("needle"))
	s := NewSearcher(newTestReader(tgt, DefaultLimits()))

	_, err := s.Search(context.Background(), 0x1000, 64, []byte("needle"), 1)
	assert.ErrorIs(t, err, errkind.ReadFailed)
}

func TestSearch_Validation(t *testing.T) {
	tests := []struct {
		name        string
		start       uint64
		regionLen   uint64
		pattern     []byte
		granularity uint64
	}{
		{name: "empty pattern", start: 0x1000, regionLen: 16, pattern: nil, granularity: 1},
		{name: "zero granularity", start: 0x1000, regionLen: 16, pattern: []byte("ab"), granularity: 0},
		{name: "empty region", start: 0x1000, regionLen: 0, pattern: []byte("ab"), granularity: 1},
		{name: "region too large", start: 0x1000, regionLen: 1 << 40, pattern: []byte("ab"), granularity: 1},
		{name: "region wraps", start: ^uint64(0) - 4, regionLen: 16, pattern: []byte("ab"), granularity: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt := targettest.New()
			s := NewSearcher(newTestReader(tgt, DefaultLimits()))

			_, err := s.Find(context.Background(), tt.start, tt.regionLen, tt.pattern, tt.granularity)
			assert.ErrorIs(t, err, errkind.InvalidArgument)
			assert.Zero(t, tgt.Reads())
		})
	}
}

// sizeRecorder remembers the largest read issued through it.
type sizeRecorder struct {
	*targettest.Target
	largest int
}

func (r *sizeRecorder) ReadMemory(ctx context.Context, addr uint64, buf []byte) error {
	r.largest = max(r.largest, len(buf))
	return r.Target.ReadMemory(ctx, addr, buf)
}

func TestFind_CeilingBelowChunk(t *testing.T) {
	tgt := targettest.New()
	region := make([]byte, 8192)
	copy(region[0:], "needle")
	copy(region[4097:], "needle")
	copy(region[8186:], "needle")
	tgt.Map(0x10000, region)

	limits := DefaultLimits()
	limits.MaxReadSize = 1000
	limits.StringScanChars = 500
	rec := &sizeRecorder{Target: tgt}
	s := NewSearcher(NewReader(rec, tgt.Arch(), limits, zerolog.Nop()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	matches, err := s.Find(ctx, 0x10000, uint64(len(region)), []byte("needle"), 1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x10000, 0x10000 + 4097, 0x10000 + 8186}, matches)
	assert.LessOrEqual(t, rec.largest, limits.MaxReadSize)
	assert.Less(t, tgt.Reads(), int64(64), "the scan advances by whole windows")
}

func TestReadString_CeilingBelowChunk(t *testing.T) {
	tgt := targettest.New()
	text := make([]byte, 1500)
	for i := range text {
		text[i] = 'a'
	}
	text[1200] = 0
	tgt.Map(0x20000, text)

	limits := DefaultLimits()
	limits.MaxReadSize = 1024
	limits.StringScanChars = 1024
	rec := &sizeRecorder{Target: tgt}
	r := NewReader(rec, tgt.Arch(), limits, zerolog.Nop())

	got, err := r.ReadString(context.Background(), 0x20000, Default())
	require.NoError(t, err)
	assert.Len(t, got, 1024, "scan stops at the cap")
	assert.LessOrEqual(t, rec.largest, limits.MaxReadSize)
}
