package inspect

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/typescope/internal/cli/helpers"
)

type fieldRow struct {
	Field   string `header:"FIELD" json:"field"`
	Type    string `header:"TYPE" json:"type"`
	Address string `header:"ADDRESS" json:"address"`
	Value   string `header:"VALUE" json:"value"`
}

// NewGlobalCmd resolves a global variable and prints it. Struct globals
// are expanded one level, one row per member.
func NewGlobalCmd(open helpers.Opener) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "global <module!name[.field...]>",
		Short: "Resolve a global variable and print its value",
		Example: `  typescope global --core core.1234 --exe ./server 'server!g_garage'
  typescope global --core core.1234 --exe ./server 'server!g_garage.first' -o json`,
		Args: cobra.ExactArgs(1),
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

			obj, err := s.GetGlobal(ctx, args[0])
			if err != nil {
				return err
			}

			rows := []fieldRow{{
				Field:   obj.Name(),
				Type:    obj.Type(),
				Address: helpers.Hex(obj.Address()),
				Value:   Render(ctx, obj),
			}}
			for _, name := range obj.FieldNames() {
				f, err := obj.Field(name)
				if err != nil {
					return err
				}
				rows = append(rows, fieldRow{
					Field:   "." + name,
					Type:    f.Type(),
					Address: helpers.Hex(f.Address()),
					Value:   Render(ctx, f),
				})
			}
			return helpers.Format(cmd.OutOrStdout(), outFormat, rows)
		},
	}

	helpers.AddFormatFlag(cmd, &format)
	return cmd
}
