package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bytedance/sonic"
)

var (
	ErrUnknownKind    = errors.New("unknown app kind")
	ErrDuplicateKind  = errors.New("app kind already registered")
	ErrInvalidOptions = errors.New("invalid app options")
	ErrBuild          = errors.New("app construction failed")
)

// strict rejects option keys the target struct does not declare, so every
// app kind has an explicit, enumerated set of recognized options.
var strict = sonic.Config{DisallowUnknownFields: true}.Froze()

// Spec is the serializable description of an app instance: its kind plus
// the JSON encoding of its typed options. It is the only thing that crosses
// into a new execution context.
type Spec struct {
	Kind    string          `json:"kind"`
	Options json.RawMessage `json:"options,omitempty"`
}

// NewSpec encodes typed options into a Spec
func NewSpec(kind string, opts any) (Spec, error) {
	if opts == nil {
		return Spec{Kind: kind}, nil
	}
	raw, err := sonic.Marshal(opts)
	if err != nil {
		return Spec{}, fmt.Errorf("%w: %s: %v", ErrInvalidOptions, kind, err)
	}
	return Spec{Kind: kind, Options: raw}, nil
}

// MustSpec is NewSpec for statically known options
func MustSpec(kind string, opts any) Spec {
	spec, err := NewSpec(kind, opts)
	if err != nil {
		panic(err)
	}
	return spec
}

// Defaulter is implemented by option structs that need non-zero defaults
// before decoding.
type Defaulter interface {
	SetDefaults()
}

// Validator is implemented by option structs that check decoded values.
type Validator interface {
	Validate() error
}

// Definition describes how to build one app kind.
type Definition struct {
	Kind     string
	Manifest Manifest

	decode func(raw []byte) (any, error)
	build  func(env Env, opts any) (App, error)
}

// Define creates a Definition whose options decode into O
func Define[O any](kind string, manifest Manifest, build func(env Env, opts O) (App, error)) Definition {
	return Definition{
		Kind:     kind,
		Manifest: manifest,
		decode: func(raw []byte) (any, error) {
			var opts O
			if d, ok := any(&opts).(Defaulter); ok {
				d.SetDefaults()
			}
			if len(raw) > 0 && string(raw) != "null" {
				if err := strict.Unmarshal(raw, &opts); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOptions, kind, err)
				}
			}
			if v, ok := any(&opts).(Validator); ok {
				if err := v.Validate(); err != nil {
					return nil, fmt.Errorf("%w: %s: %v", ErrInvalidOptions, kind, err)
				}
			}
			return opts, nil
		},
		build: func(env Env, opts any) (App, error) {
			return build(env, opts.(O))
		},
	}
}

// Registry maps app kinds to their definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates a registry with the given definitions
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition)}
	for _, d := range defs {
		r.MustRegister(d)
	}
	return r
}

// Register adds a definition
func (r *Registry) Register(def Definition) error {
	if def.Kind == "" || def.build == nil {
		return fmt.Errorf("%w: incomplete definition %q", ErrUnknownKind, def.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.defs[def.Kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, def.Kind)
	}
	r.defs[def.Kind] = def
	return nil
}

// MustRegister is Register that panics on error
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Lookup returns the definition of kind
func (r *Registry) Lookup(kind string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[kind]
	return def, ok
}

// Kinds returns all registered kinds, sorted
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.defs))
	for k := range r.defs {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Resolve checks that spec names a known kind with valid options and
// returns its definition.
func (r *Registry) Resolve(spec Spec) (Definition, error) {
	def, ok := r.Lookup(spec.Kind)
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownKind, spec.Kind)
	}
	if _, err := def.decode(spec.Options); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Build constructs a fresh app from spec. Constructor panics are returned
// as ErrBuild.
func (r *Registry) Build(spec Spec, env Env) (a App, err error) {
	def, ok := r.Lookup(spec.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, spec.Kind)
	}
	opts, err := def.decode(spec.Options)
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			a, err = nil, fmt.Errorf("%w: %s: panic: %v", ErrBuild, spec.Kind, p)
		}
	}()

	a, err = def.build(env, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBuild, spec.Kind, err)
	}
	if a == nil {
		return nil, fmt.Errorf("%w: %s: constructor returned nil", ErrBuild, spec.Kind)
	}
	return a, nil
}
