package inspect

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/typescope/internal/cli/helpers"
	"github.com/coral-mesh/typescope/pkg/introspect"
)

type frameRow struct {
	Number uint32 `header:"#" json:"number"`
	PC     string `header:"PC" json:"pc"`
	Symbol string `header:"SYMBOL" json:"symbol"`
	Return string `header:"RETURN" json:"return"`
	Frame  string `header:"FRAME" json:"frame"`
	Stack  string `header:"STACK" json:"stack"`
}

type variableRow struct {
	Kind    string `header:"KIND" json:"kind"`
	Name    string `header:"NAME" json:"name"`
	Type    string `header:"TYPE" json:"type"`
	Address string `header:"ADDRESS" json:"address"`
	Value   string `header:"VALUE" json:"value"`
}

// selectThread returns the thread with engine ID id, or the current
// thread when id is negative.
func selectThread(ctx context.Context, s *introspect.Session, id int) (*introspect.Thread, error) {
	if id < 0 {
		return s.CurrentThread(ctx)
	}
	threads, err := s.Threads(ctx)
	if err != nil {
		return nil, err
	}
	for _, th := range threads {
		if int64(th.EngineID()) == int64(id) {
			return th, nil
		}
	}
	return nil, fmt.Errorf("no thread with engine ID %d", id)
}

// NewStackCmd prints the call stack of one thread.
func NewStackCmd(open helpers.Opener) *cobra.Command {
	var (
		format string
		thread int
	)

	cmd := &cobra.Command{
		Use:   "stack",
		Short: "Show the call stack of a thread, innermost frame first",
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

			th, err := selectThread(ctx, s, thread)
			if err != nil {
				return err
			}
			stack, err := th.Stack(ctx)
			if err != nil {
				return err
			}

			rows := make([]frameRow, 0, stack.Len())
			for _, f := range stack.All() {
				sym, err := f.Symbol(ctx)
				if err != nil {
					sym = "?"
				}
				rows = append(rows, frameRow{
					Number: f.Number(),
					PC:     helpers.Hex(f.InstructionOffset()),
					Symbol: sym,
					Return: helpers.Hex(f.ReturnOffset()),
					Frame:  helpers.Hex(f.FrameOffset()),
					Stack:  helpers.Hex(f.StackOffset()),
				})
			}
			return helpers.Format(cmd.OutOrStdout(), outFormat, rows)
		},
	}

	helpers.AddFormatFlag(cmd, &format)
	cmd.Flags().IntVarP(&thread, "thread", "t", -1, "Engine ID of the thread (default: current thread)")
	return cmd
}

// NewLocalsCmd prints the arguments and locals of one frame.
func NewLocalsCmd(open helpers.Opener) *cobra.Command {
	var (
		format string
		thread int
		frame  int
	)

	cmd := &cobra.Command{
		Use:   "locals",
		Short: "Show the arguments and locals of a stack frame",
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

			th, err := selectThread(ctx, s, thread)
			if err != nil {
				return err
			}
			stack, err := th.Stack(ctx)
			if err != nil {
				return err
			}
			f, err := stack.Frame(frame)
			if err != nil {
				return err
			}

			argObjs, err := f.Args(ctx)
			if err != nil {
				return err
			}
			localObjs, err := f.Locals(ctx)
			if err != nil {
				return err
			}

			var rows []variableRow
			for _, o := range argObjs {
				rows = append(rows, variableRow{Kind: "arg", Name: o.Name(), Type: o.Type(), Address: helpers.Hex(o.Address()), Value: Render(ctx, o)})
			}
			for _, o := range localObjs {
				rows = append(rows, variableRow{Kind: "local", Name: o.Name(), Type: o.Type(), Address: helpers.Hex(o.Address()), Value: Render(ctx, o)})
			}
			if rows == nil {
				rows = []variableRow{}
			}
			return helpers.Format(cmd.OutOrStdout(), outFormat, rows)
		},
	}

	helpers.AddFormatFlag(cmd, &format)
	cmd.Flags().IntVarP(&thread, "thread", "t", -1, "Engine ID of the thread (default: current thread)")
	cmd.Flags().IntVarP(&frame, "frame", "f", 0, "Frame number")
	return cmd
}
