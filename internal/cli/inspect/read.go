package inspect

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/typescope/internal/cli/helpers"
	"github.com/coral-mesh/typescope/pkg/introspect"
)

// NewReadCmd reads raw memory: a string by default, or a hex dump with
// --bytes.
func NewReadCmd(open helpers.Opener) *cobra.Command {
	var (
		wide      bool
		maxChars  int
		byteCount int
	)

	cmd := &cobra.Command{
		Use:   "read <address>",
		Short: "Read a string or raw bytes from memory",
		Example: `  typescope read 0x7ffe0108
  typescope read 0x7ffe016c --wide --max 32
  typescope read 0x404000 --bytes 24`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := helpers.ParseAddress(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, release, err := open(ctx)
			if err != nil {
				return err
			}
			defer release()

			out := cmd.OutOrStdout()
			if cmd.Flags().Changed("bytes") {
				data, err := s.ReadBytes(ctx, addr, byteCount)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(out, hex.Dump(data))
				return err
			}

			length := introspect.DefaultLength()
			if cmd.Flags().Changed("max") {
				length = introspect.CharCount(maxChars)
			}
			if wide {
				str, err := s.ReadWideString(ctx, addr, length)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, "L"+strconv.Quote(str))
				return err
			}
			str, err := s.ReadString(ctx, addr, length)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, strconv.Quote(str))
			return err
		},
	}

	cmd.Flags().BoolVar(&wide, "wide", false, "Read a UTF-16 string")
	cmd.Flags().IntVar(&maxChars, "max", -1, "Maximum number of characters; negative uses the configured scan cap")
	cmd.Flags().IntVar(&byteCount, "bytes", 0, "Dump this many raw bytes instead of reading a string")
	return cmd
}
