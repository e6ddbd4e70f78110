package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/typescope/internal/cli/helpers"
	"github.com/coral-mesh/typescope/pkg/introspect"
)

const shellPrompt = "typescope> "

// lineReader is the part of *readline.Instance the shell loop uses.
type lineReader interface {
	Readline() (string, error)
}

func newShellCmd(flags *helpers.SessionFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Open the snapshot once and inspect it interactively",
		Long: `Open the snapshot once and run inspection commands against it.

Every inspection command is available without the --core and --exe flags,
for example "stack --thread 1" or "global server!g_config". Type "exit"
or press Ctrl+D to quit. Ctrl+C discards the current line.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, release, err := helpers.CoreOpener(flags)(ctx)
			if err != nil {
				return err
			}
			defer release()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          shellPrompt,
				HistoryFile:     historyFile(),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
				Stdout:          cmd.OutOrStdout(),
				Stderr:          cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("failed to initialize readline: %w", err)
			}
			defer func() { _ = rl.Close() }()

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Session %s. Type 'help' for commands, 'exit' to quit.\n\n", s.ID())
			return runShell(ctx, rl, out, s)
		},
	}
}

// historyFile keeps shell history next to the user's other dotfiles. An
// empty path disables history.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".typescope_history")
}

// runShell reads commands until EOF or "exit" and runs each against s.
// Command failures are printed and do not end the loop.
func runShell(ctx context.Context, rl lineReader, out io.Writer, s *introspect.Session) error {
	open := helpers.SharedOpener(s)
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			} else if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("readline error: %w", err)
		}

		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "exit", "quit":
			return nil
		}

		// Flags keep their values between executions, so every line gets a
		// fresh tree.
		cmd := &cobra.Command{
			Use:           "",
			SilenceUsage:  true,
			SilenceErrors: true,
		}
		addInspectCmds(cmd, open)
		cmd.SetOut(out)
		cmd.SetErr(out)
		cmd.SetArgs(args)
		if err := cmd.ExecuteContext(ctx); err != nil {
			_, _ = fmt.Fprintf(out, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}
