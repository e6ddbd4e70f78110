package helpers

import (
	"context"
	"errors"

	"github.com/spf13/pflag"

	"github.com/coral-mesh/typescope/internal/logging"
	"github.com/coral-mesh/typescope/pkg/introspect"
)

// SessionFlags select the target every command works on.
type SessionFlags struct {
	Core     string
	Exe      string
	Config   string
	LogLevel string
}

// AddSessionFlags registers the target selection flags on fs, normally
// the root command's persistent flags.
func AddSessionFlags(fs *pflag.FlagSet, f *SessionFlags) {
	fs.StringVar(&f.Core, "core", "", "Core file to inspect")
	fs.StringVar(&f.Exe, "exe", "", "Executable the core was dumped from (provides DWARF)")
	fs.StringVar(&f.Config, "config", "", "Config file (defaults to $TYPESCOPE_CONFIG)")
	fs.StringVar(&f.LogLevel, "log-level", "warn", "Log level (trace, debug, info, warn, error, disabled)")
}

// Opener hands a command the session to work on and a release function to
// call when the command is done with it.
type Opener func(ctx context.Context) (*introspect.Session, func(), error)

// CoreOpener opens a fresh session over the core named by f on every call.
func CoreOpener(f *SessionFlags) Opener {
	return func(ctx context.Context) (*introspect.Session, func(), error) {
		if f.Core == "" || f.Exe == "" {
			return nil, nil, errors.New("--core and --exe are required")
		}
		lc := logging.DefaultConfig()
		lc.Level = f.LogLevel
		s, err := introspect.OpenCore(ctx, f.Core, f.Exe,
			introspect.WithConfigFile(f.Config),
			introspect.WithLogger(logging.New(lc)))
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
}

// SharedOpener always returns s and leaves closing it to the caller.
func SharedOpener(s *introspect.Session) Opener {
	return func(context.Context) (*introspect.Session, func(), error) {
		return s, func() {}, nil
	}
}
