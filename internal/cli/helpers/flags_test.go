package helpers

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFormat(t *testing.T) {
	for _, f := range []string{"table", "json"} {
		got, err := ValidateFormat(f)
		require.NoError(t, err)
		assert.Equal(t, OutputFormat(f), got)
	}

	_, err := ValidateFormat("xml")
	assert.ErrorContains(t, err, "must be one of: table, json")
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{in: "0x7ffe0100", want: 0x7ffe0100},
		{in: "0X10", want: 0x10},
		{in: "4096", want: 4096},
		{in: "0xffffffffffffffff", want: ^uint64(0)},
		{in: "0x1_0000_0000", want: 1 << 32},
		{in: "-1", wantErr: true},
		{in: "0x", wantErr: true},
		{in: "rip", wantErr: true},
		{in: "0x10000000000000000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHex(t *testing.T) {
	assert.Equal(t, "0x0", Hex(0))
	assert.Equal(t, "0x7ffe0100", Hex(0x7ffe0100))
}

func TestAddFormatFlag(t *testing.T) {
	var format string
	cmd := &cobra.Command{Use: "x"}
	AddFormatFlag(cmd, &format)

	require.NoError(t, cmd.ParseFlags([]string{"-o", "json"}))
	assert.Equal(t, "json", format)
	assert.Equal(t, "table", cmd.Flags().Lookup("format").DefValue)
}

func TestAddSessionFlags(t *testing.T) {
	var f SessionFlags
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	AddSessionFlags(fs, &f)

	require.NoError(t, fs.Parse([]string{"--core", "core.1", "--exe", "./server"}))
	assert.Equal(t, SessionFlags{Core: "core.1", Exe: "./server", LogLevel: "warn"}, f)

	_, _, err := CoreOpener(&SessionFlags{Core: "core.1"})(t.Context())
	assert.ErrorContains(t, err, "--core and --exe are required")
}
