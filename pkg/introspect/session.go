// Package introspect is the entry point for hosts: a Session binds the
// typed-memory core to one debugger engine.
//
//	s, err := introspect.NewSession(ctx, engine)
//	car, err := s.GetGlobal(ctx, "dummy!g_garage.first")
//	name, err := car.Field("name")
//	str, err := name.ReadString(ctx, introspect.DefaultLength())
//
// A Session issues at most one engine call at a time. Objects, threads and
// frames it returns stay valid until the next module change or Close.
package introspect

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/typescope/internal/config"
	"github.com/coral-mesh/typescope/internal/execctx"
	"github.com/coral-mesh/typescope/internal/logging"
	"github.com/coral-mesh/typescope/internal/memory"
	"github.com/coral-mesh/typescope/internal/object"
	"github.com/coral-mesh/typescope/internal/symbols"
	"github.com/coral-mesh/typescope/pkg/errkind"
	"github.com/coral-mesh/typescope/pkg/target"
	"github.com/coral-mesh/typescope/pkg/target/coredump"
	"github.com/coral-mesh/typescope/pkg/version"
)

type (
	// Object is a typed view of target memory.
	Object = object.Object
	// Value is a decoded scalar.
	Value = object.Value
	// Thread is one thread of the execution snapshot.
	Thread = execctx.Thread
	// Stack is a walked call stack, innermost frame first.
	Stack = execctx.Stack
	// Frame is one activation record.
	Frame = execctx.Frame
	// Length selects how much of a string to read.
	Length = memory.Length
)

// DefaultLength reads up to the terminator, capped by configuration.
func DefaultLength() Length { return memory.Default() }

// BoundedLength reads up to the terminator or n characters.
func BoundedLength(n int) Length { return memory.Bounded(n) }

// CharCount maps a script-style count: negative means DefaultLength,
// anything else is BoundedLength(n).
func CharCount(n int) Length { return memory.CharCount(n) }

// Session is one introspection session over an engine.
type Session struct {
	id     string
	cfg    *config.Config
	logger zerolog.Logger

	engine   target.Engine
	reader   *memory.Reader
	searcher *memory.Searcher
	resolver *symbols.Resolver
	walker   *execctx.Walker

	closer io.Closer
}

// NewSession binds a session to engine. The module set is recorded so that
// NotifyModulesChanged can tell when it differs.
func NewSession(ctx context.Context, engine target.Engine, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg, err := o.config()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var logger zerolog.Logger
	if o.logger != nil {
		logger = *o.logger
	} else {
		lc := logging.DefaultConfig()
		lc.Level = cfg.Logging.Level
		lc.Pretty = lc.Pretty || cfg.Logging.Pretty
		logger = logging.New(lc)
	}

	id := uuid.New().String()
	logger = logger.With().Str("session", id).Logger()

	engine = target.Serialize(engine)
	reader := memory.NewReader(engine, engine.Arch(), memory.LimitsFromConfig(cfg.Limits), logger)
	resolver := symbols.NewResolver(engine, reader, cfg.Cache.TypeCapacity, logger)
	s := &Session{
		id:       id,
		cfg:      cfg,
		logger:   logging.Component(logger, "session"),
		engine:   engine,
		reader:   reader,
		searcher: memory.NewSearcher(reader),
		resolver: resolver,
		walker:   execctx.NewWalker(engine, resolver.Binding(), cfg.Stack.MaxFrames, logger),
	}

	if _, err := resolver.ModulesChanged(ctx); err != nil {
		return nil, err
	}

	arch := engine.Arch()
	s.logger.Info().
		Str("version", version.Version).
		Str("arch", arch.Name).
		Int("pointer_size", arch.PointerSize).
		Msg("Introspection session started")
	return s, nil
}

// OpenCore opens a core file with its executable and starts a session on
// it. Close releases the files.
func OpenCore(ctx context.Context, corePath, exePath string, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	cfg, err := o.config()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	coreOpts := []coredump.Option{coredump.WithMaxFrames(cfg.Stack.MaxFrames)}
	if o.logger != nil {
		coreOpts = append(coreOpts, coredump.WithLogger(*o.logger))
	}
	core, err := coredump.Open(corePath, exePath, coreOpts...)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidArgument, "open core", err)
	}

	s, err := NewSession(ctx, core, append(opts, WithConfig(cfg))...)
	if err != nil {
		_ = core.Close()
		return nil, err
	}
	s.closer = core
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Config returns the effective configuration. It must not be modified.
func (s *Session) Config() *config.Config { return s.cfg }

// Arch describes the target machine.
func (s *Session) Arch() target.Arch { return s.engine.Arch() }

// Close drops the caches and releases an engine opened by the session.
func (s *Session) Close() error {
	s.resolver.Invalidate()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	s.logger.Debug().Err(err).Msg("Introspection session closed")
	return err
}

// NotifyModulesChanged tells the session that modules may have been
// loaded or unloaded. Symbol and type caches are dropped when the module
// set differs from the last one seen; the result reports whether they were.
func (s *Session) NotifyModulesChanged(ctx context.Context) (bool, error) {
	return s.resolver.ModulesChanged(ctx)
}

// GetGlobal resolves "module!global" (the module may be omitted) followed
// by optional .field and [index] steps.
func (s *Session) GetGlobal(ctx context.Context, ref string) (*Object, error) {
	return s.resolver.Global(ctx, ref)
}

// CreateTypedObject views addr as an object of the named type.
func (s *Session) CreateTypedObject(ctx context.Context, addr uint64, typeRef string) (*Object, error) {
	d, err := s.resolver.Type(ctx, typeRef)
	if err != nil {
		return nil, err
	}
	return object.New(s.resolver.Binding(), "", d, addr), nil
}

// CreateTypedPointer returns a pointer to the named type whose target is
// addr. Indexing it steps from addr in element-sized strides.
func (s *Session) CreateTypedPointer(ctx context.Context, addr uint64, typeRef string) (*Object, error) {
	d, err := s.resolver.Type(ctx, typeRef)
	if err != nil {
		return nil, err
	}
	return object.NewPointer(s.resolver.Binding(), "", d, addr), nil
}

// CurrentThread returns the engine's current thread.
func (s *Session) CurrentThread(ctx context.Context) (*Thread, error) {
	return s.walker.CurrentThread(ctx)
}

// Threads returns every thread of the snapshot.
func (s *Session) Threads(ctx context.Context) ([]*Thread, error) {
	return s.walker.Threads(ctx)
}

// ReadBytes reads exactly n bytes at addr.
func (s *Session) ReadBytes(ctx context.Context, addr uint64, n int) ([]byte, error) {
	return s.reader.Read(ctx, addr, n)
}

// ReadPointer reads one target pointer at addr.
func (s *Session) ReadPointer(ctx context.Context, addr uint64) (uint64, error) {
	return s.reader.ReadPointer(ctx, addr)
}

// ReadString reads a narrow string at addr.
func (s *Session) ReadString(ctx context.Context, addr uint64, length Length) (string, error) {
	return s.reader.ReadString(ctx, addr, length)
}

// ReadWideString reads a UTF-16 string at addr.
func (s *Session) ReadWideString(ctx context.Context, addr uint64, length Length) (string, error) {
	return s.reader.ReadWideString(ctx, addr, length)
}

// SearchMemory returns the addresses where pattern occurs in
// [start, start+length) at multiples of granularity from start. No match
// is a PatternNotFound error.
func (s *Session) SearchMemory(ctx context.Context, start, length uint64, pattern []byte, granularity uint64) ([]uint64, error) {
	return s.searcher.Search(ctx, start, length, pattern, granularity)
}

// FindMemory is SearchMemory that returns an empty result instead of
// PatternNotFound.
func (s *Session) FindMemory(ctx context.Context, start, length uint64, pattern []byte, granularity uint64) ([]uint64, error) {
	return s.searcher.Find(ctx, start, length, pattern, granularity)
}

// FieldOffset returns the byte offset of a dotted field path in a type.
func (s *Session) FieldOffset(ctx context.Context, typeRef, field string) (uint64, error) {
	return s.resolver.FieldOffset(ctx, typeRef, field)
}

// TypeSize returns the size of a type in bytes.
func (s *Session) TypeSize(ctx context.Context, typeRef string) (uint64, error) {
	return s.resolver.TypeSize(ctx, typeRef)
}

// NearestSymbol renders addr as "module!symbol+0xdisp".
func (s *Session) NearestSymbol(ctx context.Context, addr uint64) (string, error) {
	return s.resolver.NearestSymbol(ctx, addr)
}

// ResolveEnum names the enumerant of an enum type with value v.
func (s *Session) ResolveEnum(ctx context.Context, typeRef string, v int64) (string, error) {
	return s.resolver.ResolveEnum(ctx, typeRef, v)
}
