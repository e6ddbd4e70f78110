// Package execctx exposes the threads of a stopped target, their call
// stacks and the locals and arguments of each frame as typed objects.
//
// Threads and frames are thin views over engine handles. They do not own
// engine state and stay valid only while the target remains stopped.
package execctx

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/typescope/internal/object"
	"github.com/coral-mesh/typescope/pkg/errkind"
	"github.com/coral-mesh/typescope/pkg/target"
)

// Walker enumerates threads and walks their stacks.
type Walker struct {
	engine    target.Threads
	binding   *object.Binding
	maxFrames int
	logger    zerolog.Logger
}

// NewWalker creates a walker. Stacks are truncated to maxFrames frames;
// zero or less keeps every frame the engine reports.
func NewWalker(engine target.Threads, b *object.Binding, maxFrames int, logger zerolog.Logger) *Walker {
	return &Walker{
		engine:    engine,
		binding:   b,
		maxFrames: maxFrames,
		logger:    logger.With().Str("component", "context-walker").Logger(),
	}
}

// CurrentThread returns the thread the engine considers current.
func (w *Walker) CurrentThread(ctx context.Context) (*Thread, error) {
	h, err := w.engine.CurrentThread(ctx)
	if err != nil {
		return nil, classify("current thread", err)
	}
	return &Thread{h: h, w: w}, nil
}

// Threads returns every thread of the target in engine order.
func (w *Walker) Threads(ctx context.Context) ([]*Thread, error) {
	handles, err := w.engine.Threads(ctx)
	if err != nil {
		return nil, classify("threads", err)
	}
	threads := make([]*Thread, 0, len(handles))
	for _, h := range handles {
		threads = append(threads, &Thread{h: h, w: w})
	}
	return threads, nil
}

// Thread returns a view over a handle obtained earlier.
func (w *Walker) Thread(h target.ThreadHandle) *Thread {
	return &Thread{h: h, w: w}
}

// classify maps engine failures: interrupts and unreadable state are read
// failures, stale handles are invalid arguments.
func classify(op string, err error) error {
	if errors.Is(err, target.ErrNotFound) {
		return errkind.Wrap(errkind.InvalidArgument, op, err)
	}
	return errkind.Wrap(errkind.ReadFailed, op, err)
}
