package inspect

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/typescope/internal/cli/helpers"
)

type matchRow struct {
	Address string `header:"ADDRESS" json:"address"`
	Offset  string `header:"OFFSET" json:"offset"`
}

// NewSearchCmd scans a memory range for a byte pattern.
func NewSearchCmd(open helpers.Opener) *cobra.Command {
	var (
		format      string
		hexPattern  bool
		granularity uint64
		first       bool
	)

	cmd := &cobra.Command{
		Use:   "search <start> <length> <pattern>",
		Short: "Search a memory range for a byte pattern",
		Long: `Search a memory range for a byte pattern.

The pattern is taken literally unless --hex is given, in which case it is
decoded as hex digits (spaces allowed). Only matches whose offset from
start is a multiple of --granularity are reported. A range with no
match is an error.`,
		Example: `  typescope search 0x7ffe0100 0x200 Herbie
  typescope search 0x400000 0x10000 "de ad be ef" --hex --granularity 4 --first`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := helpers.ValidateFormat(format)
			if err != nil {
				return err
			}
			start, err := helpers.ParseAddress(args[0])
			if err != nil {
				return err
			}
			length, err := helpers.ParseAddress(args[1])
			if err != nil {
				return fmt.Errorf("invalid length: %w", err)
			}
			pattern := []byte(args[2])
			if hexPattern {
				pattern, err = hex.DecodeString(strings.ReplaceAll(args[2], " ", ""))
				if err != nil {
					return fmt.Errorf("invalid hex pattern: %w", err)
				}
			}

			ctx := cmd.Context()
			s, release, err := open(ctx)
			if err != nil {
				return err
			}
			defer release()

			matches, err := s.SearchMemory(ctx, start, length, pattern, granularity)
			if err != nil {
				return err
			}
			if first {
				matches = matches[:1]
			}

			rows := make([]matchRow, 0, len(matches))
			for _, m := range matches {
				rows = append(rows, matchRow{Address: helpers.Hex(m), Offset: helpers.Hex(m - start)})
			}
			return helpers.Format(cmd.OutOrStdout(), outFormat, rows)
		},
	}

	helpers.AddFormatFlag(cmd, &format)
	cmd.Flags().BoolVar(&hexPattern, "hex", false, "Decode the pattern as hex bytes")
	cmd.Flags().Uint64Var(&granularity, "granularity", 1, "Match alignment relative to start")
	cmd.Flags().BoolVar(&first, "first", false, "Report only the lowest match")
	return cmd
}
