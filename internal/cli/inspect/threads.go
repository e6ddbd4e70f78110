package inspect

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/typescope/internal/cli/helpers"
)

type threadRow struct {
	EngineID uint32 `header:"ENGINE ID" json:"engine_id"`
	SystemID uint32 `header:"SYSTEM ID" json:"system_id"`
	TEB      string `header:"TEB" json:"teb"`
	Current  string `header:"CURRENT" json:"current"`
}

// NewThreadsCmd lists the threads of the snapshot.
func NewThreadsCmd(open helpers.Opener) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "threads",
		Short: "List threads with their environment blocks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFormat, err := helpers.ValidateFormat(format)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s, release, err := open(ctx)
			if err != nil {
				return err
			}
			defer release()

			current, err := s.CurrentThread(ctx)
			if err != nil {
				return err
			}
			threads, err := s.Threads(ctx)
			if err != nil {
				return err
			}

			rows := make([]threadRow, 0, len(threads))
			for _, th := range threads {
				teb, err := th.EnvironmentBlock(ctx)
				if err != nil {
					return err
				}
				row := threadRow{EngineID: th.EngineID(), SystemID: th.SystemID(), TEB: helpers.Hex(teb)}
				if th.Handle() == current.Handle() {
					row.Current = "*"
				}
				rows = append(rows, row)
			}
			return helpers.Format(cmd.OutOrStdout(), outFormat, rows)
		},
	}

	helpers.AddFormatFlag(cmd, &format)
	return cmd
}
