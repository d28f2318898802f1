// Package registry holds the named custom functions a form configuration can
// reference. A Registry is built explicitly by the host and passed to the
// compiler and engine; there is no global table.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/fieldlogic/internal/ir"
)

// Namespace identifies one of the registry's lookup tables.
type Namespace string

const (
	NamespaceDerivation         Namespace = "derivation"
	NamespacePropertyDerivation Namespace = "propertyDerivation"
	NamespaceValidator          Namespace = "validator"
	NamespaceAsyncValidator     Namespace = "asyncValidator"
	NamespaceCondition          Namespace = "condition"
)

// DerivationFunc computes a field value. Functions that read other fields
// must declare them with dependsOn; undeclared reads are not tracked.
type DerivationFunc func(ctx ir.EvaluationContext) (any, error)

// PropertyDerivationFunc computes a component property value.
type PropertyDerivationFunc func(ctx ir.EvaluationContext) (any, error)

// ConditionFunc evaluates a custom condition.
type ConditionFunc func(ctx ir.EvaluationContext) (bool, error)

// ValidatorContext is the narrow view given to validators. Errors a
// validator reports are always attributed to Path, whatever it reads.
type ValidatorContext interface {
	// Value returns the value of the field being validated.
	Value() any
	// ValueOf returns another field's value. Relative paths resolve in the
	// validated field's scope; a leading "/" resolves from the form root.
	ValueOf(path string) any
	// Path returns the absolute path of the field being validated.
	Path() string
	// External returns an external data value.
	External(key string) any
}

// ValidatorFunc is a synchronous custom validator. It returns the error
// kind, or "" when the value is valid.
type ValidatorFunc func(vc ValidatorContext) (string, error)

// AsyncValidatorFunc is an asynchronous validator. It must honor ctx
// cancellation. The ValidatorContext is a snapshot and safe to use from any
// goroutine. Returning a non-empty kind reports an error; returning only an
// error is treated as a transport failure.
type AsyncValidatorFunc func(ctx context.Context, vc ValidatorContext) (string, error)

// Registry is a set of named custom functions. It is safe for concurrent
// reads once populated.
type Registry struct {
	mu                  sync.RWMutex
	derivations         map[string]DerivationFunc
	propertyDerivations map[string]PropertyDerivationFunc
	validators          map[string]ValidatorFunc
	asyncValidators     map[string]AsyncValidatorFunc
	conditions          map[string]ConditionFunc
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		derivations:         make(map[string]DerivationFunc),
		propertyDerivations: make(map[string]PropertyDerivationFunc),
		validators:          make(map[string]ValidatorFunc),
		asyncValidators:     make(map[string]AsyncValidatorFunc),
		conditions:          make(map[string]ConditionFunc),
	}
}

// DuplicateError is returned when a name is registered twice in one namespace.
type DuplicateError struct {
	Namespace Namespace
	Name      string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("%s function %q already registered", e.Namespace, e.Name)
}

func register[F any](r *Registry, table map[string]F, ns Namespace, name string, fn F) error {
	if name == "" {
		return fmt.Errorf("%s function: empty name", ns)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := table[name]; exists {
		return &DuplicateError{Namespace: ns, Name: name}
	}
	table[name] = fn
	return nil
}

func lookup[F any](r *Registry, table map[string]F, name string) (F, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := table[name]
	return fn, ok
}

// RegisterDerivation adds a derivation function.
func (r *Registry) RegisterDerivation(name string, fn DerivationFunc) error {
	return register(r, r.derivations, NamespaceDerivation, name, fn)
}

// RegisterPropertyDerivation adds a property derivation function.
func (r *Registry) RegisterPropertyDerivation(name string, fn PropertyDerivationFunc) error {
	return register(r, r.propertyDerivations, NamespacePropertyDerivation, name, fn)
}

// RegisterValidator adds a synchronous validator.
func (r *Registry) RegisterValidator(name string, fn ValidatorFunc) error {
	return register(r, r.validators, NamespaceValidator, name, fn)
}

// RegisterAsyncValidator adds an asynchronous validator.
func (r *Registry) RegisterAsyncValidator(name string, fn AsyncValidatorFunc) error {
	return register(r, r.asyncValidators, NamespaceAsyncValidator, name, fn)
}

// RegisterCondition adds a custom condition.
func (r *Registry) RegisterCondition(name string, fn ConditionFunc) error {
	return register(r, r.conditions, NamespaceCondition, name, fn)
}

// Derivation looks up a derivation function.
func (r *Registry) Derivation(name string) (DerivationFunc, bool) {
	return lookup(r, r.derivations, name)
}

// PropertyDerivation looks up a property derivation function.
func (r *Registry) PropertyDerivation(name string) (PropertyDerivationFunc, bool) {
	return lookup(r, r.propertyDerivations, name)
}

// Validator looks up a synchronous validator.
func (r *Registry) Validator(name string) (ValidatorFunc, bool) {
	return lookup(r, r.validators, name)
}

// AsyncValidator looks up an asynchronous validator.
func (r *Registry) AsyncValidator(name string) (AsyncValidatorFunc, bool) {
	return lookup(r, r.asyncValidators, name)
}

// Condition looks up a custom condition.
func (r *Registry) Condition(name string) (ConditionFunc, bool) {
	return lookup(r, r.conditions, name)
}

// Has reports whether name is registered in ns.
func (r *Registry) Has(ns Namespace, name string) bool {
	if r == nil {
		return false
	}
	var ok bool
	switch ns {
	case NamespaceDerivation:
		_, ok = r.Derivation(name)
	case NamespacePropertyDerivation:
		_, ok = r.PropertyDerivation(name)
	case NamespaceValidator:
		_, ok = r.Validator(name)
	case NamespaceAsyncValidator:
		_, ok = r.AsyncValidator(name)
	case NamespaceCondition:
		_, ok = r.Condition(name)
	}
	return ok
}

// Names lists the registered names of ns in sorted order.
func (r *Registry) Names(ns Namespace) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	collect := func(keys []string) { names = append(names, keys...) }
	switch ns {
	case NamespaceDerivation:
		collect(keysOf(r.derivations))
	case NamespacePropertyDerivation:
		collect(keysOf(r.propertyDerivations))
	case NamespaceValidator:
		collect(keysOf(r.validators))
	case NamespaceAsyncValidator:
		collect(keysOf(r.asyncValidators))
	case NamespaceCondition:
		collect(keysOf(r.conditions))
	}
	sort.Strings(names)
	return names
}

func keysOf[F any](m map[string]F) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
