// Package cli wires the typescope command tree.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/typescope/internal/cli/helpers"
	"github.com/coral-mesh/typescope/internal/cli/inspect"
	"github.com/coral-mesh/typescope/internal/config"
	"github.com/coral-mesh/typescope/pkg/version"
)

// NewRootCmd builds the typescope command tree.
func NewRootCmd() *cobra.Command {
	flags := &helpers.SessionFlags{}

	root := &cobra.Command{
		Use:   "typescope",
		Short: "Typed inspection of process snapshots",
		Long: `Inspect a process snapshot through its debug information.

Globals, locals and raw memory are read as typed objects: structs expand
into their members, enums print their enumerator names and character
arrays print as strings. The snapshot is an ELF core file together with
the executable it was dumped from.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	helpers.AddSessionFlags(root.PersistentFlags(), flags)

	addInspectCmds(root, helpers.CoreOpener(flags))
	root.AddCommand(newShellCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}

// addInspectCmds attaches the inspection commands, all sharing open.
func addInspectCmds(parent *cobra.Command, open helpers.Opener) {
	parent.AddCommand(
		inspect.NewThreadsCmd(open),
		inspect.NewStackCmd(open),
		inspect.NewLocalsCmd(open),
		inspect.NewGlobalCmd(open),
		inspect.NewReadCmd(open),
		inspect.NewSearchCmd(open),
	)
}

func newConfigCmd(flags *helpers.SessionFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration a session would use: built-in defaults, then
the file given by --config or $TYPESCOPE_CONFIG, then TYPESCOPE_*
environment overrides.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flags.Config)
			if err != nil {
				return err
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("typescope version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
