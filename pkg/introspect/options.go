package introspect

import (
	"github.com/rs/zerolog"

	"github.com/coral-mesh/typescope/internal/config"
)

// Option configures a Session.
type Option func(*options)

type options struct {
	cfg        *config.Config
	configPath string
	logger     *zerolog.Logger
}

// WithConfig uses cfg instead of loading one. cfg is validated.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// WithConfigFile loads the configuration from path, layered over the
// defaults and under environment overrides.
func WithConfigFile(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithLogger sets the session logger. Without it the logger is built from
// the logging section of the configuration.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

func (o *options) config() (*config.Config, error) {
	if o.cfg != nil {
		if err := o.cfg.Validate(); err != nil {
			return nil, err
		}
		return o.cfg, nil
	}
	return config.Load(o.configPath)
}
