// Package errors provides cleanup helpers for engine adapters that hold
// file handles and mappings.
package errors

import (
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// DeferClose properly closes an io.Closer with logging.
// Use this in defer statements to avoid suppressing close errors.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// CloseOnError closes closer when *errp is non-nil. It is meant for
// constructors that acquire several resources:
//
//	f, err := open(path)
//	defer CloseOnError(logger, &err, f, "failed to release core file")
func CloseOnError(logger zerolog.Logger, errp *error, closer io.Closer, msg string) {
	if errp == nil || *errp == nil {
		return
	}
	DeferClose(logger, closer, msg)
}

// CloseAll closes every closer in reverse order and joins the failures.
func CloseAll(closers ...io.Closer) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if closers[i] == nil {
			continue
		}
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
