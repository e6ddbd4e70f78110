package memory

import (
	"context"
	"encoding/binary"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/typescope/internal/testutil"
	"github.com/coral-mesh/typescope/pkg/errkind"
	"github.com/coral-mesh/typescope/pkg/target"
	"github.com/coral-mesh/typescope/pkg/target/targettest"
)

const (
	nameAddr     = testutil.CarAddr + testutil.CarNameOffset
	wideNameAddr = testutil.CarAddr + testutil.CarWideNameOffset
)

func TestReadString_Car(t *testing.T) {
	car := testutil.NewCarTarget()
	r := newTestReader(car.Target, DefaultLimits())
	ctx := testutil.NewTestContext(t)

	tests := []struct {
		name   string
		length Length
		want   string
	}{
		{name: "default", length: Default(), want: "FooCar"},
		{name: "one char", length: Bounded(1), want: "F"},
		{name: "two chars", length: Bounded(2), want: "Fo"},
		{name: "five chars", length: Bounded(5), want: "FooCa"},
		{name: "negative means default", length: CharCount(-1), want: "FooCar"},
		{name: "longer than buffer", length: Bounded(1000), want: "FooCar"},
		{name: "five hundred", length: CharCount(500), want: "FooCar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ReadString(ctx, nameAddr, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "\x00")
		})
	}
}

func TestReadWideString_Car(t *testing.T) {
	car := testutil.NewCarTarget()
	r := newTestReader(car.Target, DefaultLimits())
	ctx := testutil.NewTestContext(t)

	tests := []struct {
		name   string
		length Length
		want   string
	}{
		{name: "default", length: Default(), want: "Wide FooCar"},
		{name: "one char", length: Bounded(1), want: "W"},
		{name: "two chars", length: Bounded(2), want: "Wi"},
		{name: "five chars", length: Bounded(5), want: "Wide "},
		{name: "negative means default", length: CharCount(-1), want: "Wide FooCar"},
		{name: "longer than buffer", length: Bounded(1000), want: "Wide FooCar"},
		{name: "five hundred", length: Bounded(500), want: "Wide FooCar"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.ReadWideString(ctx, wideNameAddr, tt.length)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadString_RejectedWithoutReading(t *testing.T) {
	tests := []struct {
		name   string
		wide   bool
		length Length
	}{
		{name: "ansi zero", length: Bounded(0)},
		{name: "ansi zero via count", length: CharCount(0)},
		{name: "ansi ten million", length: Bounded(10000000)},
		{name: "ansi hundred million", length: Bounded(100000000)},
		{name: "ansi negative bound", length: Bounded(-3)},
		{name: "wide zero", wide: true, length: Bounded(0)},
		{name: "wide one million", wide: true, length: Bounded(1000000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			car := testutil.NewCarTarget()
			r := newTestReader(car.Target, DefaultLimits())

			var err error
			if tt.wide {
				_, err = r.ReadWideString(context.Background(), wideNameAddr, tt.length)
			} else {
				_, err = r.ReadString(context.Background(), nameAddr, tt.length)
			}
			assert.ErrorIs(t, err, errkind.InvalidArgument)
			assert.Zero(t, car.Reads(), "no read may be issued for a rejected request")
		})
	}
}

func TestReadString_BoundWithoutTerminator(t *testing.T) {
	tgt := targettest.New()
	tgt.Map(0x3000, []byte("ABCDEFGH"))
	r := newTestReader(tgt, DefaultLimits())
	ctx := context.Background()

	got, err := r.ReadString(ctx, 0x3000, Bounded(4))
	require.NoError(t, err)
	assert.Equal(t, "ABCD", got)

	// Text that runs exactly to the end of the window is returned whole and
	// nothing past the bound is touched.
	got, err = r.ReadString(ctx, 0x3000, Bounded(8))
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGH", got)

	_, err = r.ReadString(ctx, 0x3000, Bounded(9))
	assert.ErrorIs(t, err, errkind.ReadFailed)
}

func TestReadString_StopsBeforeUnmappedPage(t *testing.T) {
	tgt := targettest.New()
	// "hello\0" ends exactly at a page boundary; the next page is unmapped.
	tgt.Map(0x1ffa, []byte("hello\x00"))
	r := newTestReader(tgt, DefaultLimits())

	got, err := r.ReadString(context.Background(), 0x1ffa, Default())
	require.NoError(t, err)
	assert.Equal(t, "hello", got)

	got, err = r.ReadString(context.Background(), 0x1ffa, Bounded(4000))
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestReadString_UnterminatedIntoUnmappedMemory(t *testing.T) {
	tgt := targettest.New()
	tgt.Map(0x1ffc, []byte("abcd"))
	r := newTestReader(tgt, DefaultLimits())

	_, err := r.ReadString(context.Background(), 0x1ffc, Default())
	assert.ErrorIs(t, err, errkind.ReadFailed)
}

func TestReadString_DefaultCap(t *testing.T) {
	tgt := targettest.New()
	tgt.Map(0x4000, []byte("0123456789abcdef"))
	limits := DefaultLimits()
	limits.StringScanChars = 8
	r := newTestReader(tgt, limits)

	got, err := r.ReadString(context.Background(), 0x4000, Default())
	require.NoError(t, err)
	assert.Equal(t, "01234567", got)

	// An explicit bound may exceed the default cap.
	got, err = r.ReadString(context.Background(), 0x4000, Bounded(16))
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", got)
}

func TestReadWideString_AcrossChunks(t *testing.T) {
	tgt := targettest.New()
	text := "Hi there, wide world"
	raw := make([]byte, 0, 2*len(text)+2)
	for _, c := range utf16.Encode([]rune(text)) {
		raw = binary.LittleEndian.AppendUint16(raw, c)
	}
	raw = append(raw, make([]byte, 18)...)
	// Odd start address so characters straddle the 16-byte chunks.
	tgt.Map(0x100b, raw)

	limits := DefaultLimits()
	limits.ChunkSize = 16
	r := newTestReader(tgt, limits)

	got, err := r.ReadWideString(context.Background(), 0x100b, Default())
	require.NoError(t, err)
	assert.Equal(t, text, got)
	assert.Greater(t, tgt.Reads(), int64(2))
}

func TestReadWideString_ZeroByteInsideCharacter(t *testing.T) {
	tgt := targettest.New()
	// 'A' (0x0041) has a zero high byte; only a full zero unit terminates.
	tgt.Map(0x5000, page([]byte{0x41, 0x00, 0x00, 0x01, 0x00, 0x00}))
	r := newTestReader(tgt, DefaultLimits())

	got, err := r.ReadWideString(context.Background(), 0x5000, Default())
	require.NoError(t, err)
	assert.Equal(t, "AĀ", got)
}

func TestReadWideString_BigEndian(t *testing.T) {
	tgt := targettest.NewWithArch(target.Arch{Name: "s390x", PointerSize: 8, ByteOrder: binary.BigEndian})
	tgt.Map(0x6000, page([]byte{0x00, 0x4f, 0x00, 0x4b, 0x00, 0x00}))
	r := newTestReader(tgt, DefaultLimits())

	got, err := r.ReadWideString(context.Background(), 0x6000, Default())
	require.NoError(t, err)
	assert.Equal(t, "OK", got)
}

func TestLengthString(t *testing.T) {
	assert.Equal(t, "default", Default().String())
	assert.Equal(t, "12", Bounded(12).String())
	assert.True(t, CharCount(-5).IsDefault())
	n, bounded := CharCount(0).Max()
	assert.True(t, bounded)
	assert.Zero(t, n)
}

// page pads data to a full 4 KiB page.
func page(data []byte) []byte {
	p := make([]byte, 4096)
	copy(p, data)
	return p
}
