// Package layout compiles Go record types into field descriptor tables.
//
// A record is a struct whose fields are encoded in declaration order. The
// wire encoding of each field is resolved from its Go type and the options
// of its `bin` struct tag, or from Declarations registered for the type.
// Compiled tables are cached per Registry and never invalidated.
package layout

import (
	"fmt"
	"reflect"
	"sync"

	checks "github.com/twinfer/binrec/internal/cel"
	"github.com/twinfer/binrec/pkg/binerr"
)

// Registry holds custom types, field declarations and compiled tables.
// Registrations should happen before the records that use them are first
// compiled; tables already compiled are not affected.
type Registry struct {
	// tables is read without the lock once a type is compiled.
	tables sync.Map

	mu        sync.Mutex
	byName    map[string]Factory
	byType    map[reflect.Type]Factory
	processes map[string]ProcessFunc
	decls     map[reflect.Type][]Declaration
	checks    *checks.ExpressionPool
}

// NewRegistry creates an empty registry with the builtin process functions.
func NewRegistry() *Registry {
	r := &Registry{
		byName:    make(map[string]Factory),
		byType:    make(map[reflect.Type]Factory),
		processes: make(map[string]ProcessFunc),
		decls:     make(map[reflect.Type][]Declaration),
	}
	for name, fn := range builtinProcesses {
		r.processes[name] = fn
	}
	return r
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Register adds a custom type under name, for use with the type= tag option.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("custom type needs a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("custom type %q already registered", name)
	}
	r.byName[name] = factory
	return nil
}

// RegisterType adds a custom type resolved by its Go type. It is also
// registered under the type's name.
func (r *Registry) RegisterType(t reflect.Type, factory Factory) error {
	if t == nil || factory == nil {
		return fmt.Errorf("custom type needs a type and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byType[t]; exists {
		return fmt.Errorf("custom type %s already registered", t)
	}
	r.byType[t] = factory
	if _, exists := r.byName[t.String()]; !exists {
		r.byName[t.String()] = factory
	}
	return nil
}

// RegisterType registers T as a custom type on r.
func RegisterType[T any](r *Registry, factory Factory) error {
	return r.RegisterType(reflect.TypeFor[T](), factory)
}

// RegisterProcess adds a process function usable as process=name(...).
func (r *Registry) RegisterProcess(name string, fn ProcessFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("process function needs a name and a function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[name] = fn
	return nil
}

// Declare sets the field list of t explicitly, replacing its struct tags.
// It fails once t has been compiled.
func (r *Registry) Declare(t reflect.Type, decls []Declaration) error {
	t = indirect(t)
	if t == nil || t.Kind() != reflect.Struct {
		return fmt.Errorf("declarations need a struct type, got %v", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, compiled := r.tables.Load(t); compiled {
		return fmt.Errorf("record %s is already compiled", t)
	}
	r.decls[t] = append([]Declaration(nil), decls...)
	return nil
}

// Table returns the compiled table of a struct type, or of the struct a
// pointer type points to. Each type is compiled at most once; tables of
// nested records compiled along the way are cached too.
func (r *Registry) Table(t reflect.Type) (*Table, error) {
	t = indirect(t)
	if v, ok := r.tables.Load(t); ok {
		return v.(*Table), nil
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, binerr.New(binerr.ClassResolution, binerr.KindUnknownType).
			Value(t).
			Detail("%v is not a record type", t).
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.tables.Load(t); ok {
		return v.(*Table), nil
	}

	c := &compiler{reg: r, done: make(map[reflect.Type]*Table)}
	tbl, err := c.table(t)
	if err != nil {
		return nil, err
	}
	for typ, compiled := range c.done {
		r.tables.Store(typ, compiled)
	}
	return tbl, nil
}

// TableOf returns the table of v's type.
func (r *Registry) TableOf(v any) (*Table, error) {
	return r.Table(reflect.TypeOf(v))
}

func (r *Registry) process(spec string) (*Process, error) {
	name, args, err := parseProcessSpec(spec)
	if err != nil {
		return nil, err
	}
	fn, ok := r.processes[name]
	if !ok {
		return nil, fmt.Errorf("unknown process function: %s", name)
	}
	p, err := fn(args)
	if err != nil {
		return nil, err
	}
	p.Spec = spec
	return p, nil
}

// checkPool is called with r.mu held.
func (r *Registry) checkPool() (*checks.ExpressionPool, error) {
	if r.checks == nil {
		pool, err := checks.NewExpressionPool()
		if err != nil {
			return nil, err
		}
		r.checks = pool
	}
	return r.checks, nil
}

func indirect(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
