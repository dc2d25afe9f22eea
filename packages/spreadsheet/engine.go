package spreadsheet

import (
	"io"
	"log/slog"
	"maps"
	"slices"
)

// CustomFunction is a formula function supplied by the host. cell is a copy
// of the formula cell being evaluated; args are the evaluated arguments,
// ranges included as Range values. a returned *SpreadsheetError becomes
// the cell's value, any other error becomes #VALUE!.
type CustomFunction func(cell *Cell, args []Primitive) (Primitive, error)

// EngineContext carries the state shared by the worksheets created from it:
// custom functions, cell body factories, the default style, the logger and
// the time and randomness sources of volatile functions. it replaces
// process-wide globals, so separate contexts never see each other's
// registrations.
type EngineContext struct {
	functions    map[string]CustomFunction
	bodies       map[string]CellBodyFactory
	defaultStyle string
	logger       *slog.Logger
	builtins     *BuiltInFunctions
	clock        Clock
	rng          RandomGenerator
}

// EngineOption configures an EngineContext
type EngineOption func(*EngineContext)

// WithLogger sets the engine logger. the default discards everything.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(ec *EngineContext) {
		if logger != nil {
			ec.logger = logger
		}
	}
}

// WithClock sets the time source of NOW() and TODAY()
func WithClock(clock Clock) EngineOption {
	return func(ec *EngineContext) {
		if clock != nil {
			ec.clock = clock
		}
	}
}

// WithRandom sets the random source of RAND()
func WithRandom(rng RandomGenerator) EngineOption {
	return func(ec *EngineContext) {
		if rng != nil {
			ec.rng = rng
		}
	}
}

// WithDefaultStyle sets the style key reported for cells without a style
func WithDefaultStyle(key string) EngineOption {
	return func(ec *EngineContext) {
		ec.defaultStyle = key
	}
}

// NewEngineContext creates a context with the default cell bodies and no
// custom functions
func NewEngineContext(opts ...EngineOption) *EngineContext {
	ec := &EngineContext{
		functions: make(map[string]CustomFunction),
		bodies:    defaultCellBodies(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		clock:     &WallClock{},
		rng:       &DefaultRandomGenerator{},
	}
	for _, opt := range opts {
		opt(ec)
	}
	ec.builtins = NewBuiltInFunctions(ec.clock, ec.rng)
	return ec
}

// RegisterFunction registers a custom function. names are case-sensitive and
// shadow built-in functions of the same name.
func (ec *EngineContext) RegisterFunction(name string, fn CustomFunction) error {
	if name == "" || fn == nil {
		return NewApplicationError(InvalidArgument, "custom function needs a name and an implementation")
	}
	ec.functions[name] = fn
	return nil
}

// UnregisterFunction removes a custom function. returns false if it was not
// registered.
func (ec *EngineContext) UnregisterFunction(name string) bool {
	if _, ok := ec.functions[name]; !ok {
		return false
	}
	delete(ec.functions, name)
	return true
}

// Functions returns the names of the registered custom functions
func (ec *EngineContext) Functions() []string {
	return slices.Sorted(maps.Keys(ec.functions))
}

// RegisterCellBody adds or replaces a cell body kind
func (ec *EngineContext) RegisterCellBody(kind string, factory CellBodyFactory) error {
	if kind == "" || factory == nil {
		return NewApplicationError(InvalidArgument, "cell body needs a kind and a factory")
	}
	ec.bodies[kind] = factory
	return nil
}

// NewCellBody creates a body of the registered kind
func (ec *EngineContext) NewCellBody(kind string) (CellBody, error) {
	factory, ok := ec.bodies[kind]
	if !ok {
		return nil, newKindError(NotFound, ErrUnknownCellBody, "unknown cell body %q", kind)
	}
	return factory(), nil
}

// DefaultStyle returns the style key of unstyled cells
func (ec *EngineContext) DefaultStyle() string {
	return ec.defaultStyle
}

// Logger returns the engine logger
func (ec *EngineContext) Logger() *slog.Logger {
	return ec.logger
}

// Close drops every registration. worksheets created from the context keep
// working with built-in functions and no bodies.
func (ec *EngineContext) Close() {
	clear(ec.functions)
	clear(ec.bodies)
}

// lookup resolves a function name: custom functions first, matched exactly,
// then built-ins, matched case-insensitively
func (ec *EngineContext) lookup(name string) (CustomFunction, bool) {
	if fn, ok := ec.functions[name]; ok {
		return fn, true
	}
	if ec.builtins.Has(name) {
		return func(_ *Cell, args []Primitive) (Primitive, error) {
			return ec.builtins.Call(name, args...)
		}, true
	}
	return nil, false
}
