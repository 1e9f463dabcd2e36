package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/voxline/pkg/speech"
)

// ErrComponentNotRegistered is returned by Create* methods when no factory has
// been registered under the requested component name.
var ErrComponentNotRegistered = errors.New("config: component not registered")

// Registry maps component names to their factories. Pipelines resolve their
// input and stages through it instead of loading types by name at runtime.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	inputs map[string]speech.InputFactory
	stages map[string]speech.StageFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		inputs: make(map[string]speech.InputFactory),
		stages: make(map[string]speech.StageFactory),
	}
}

// RegisterInput registers an input factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterInput(name string, factory speech.InputFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs[name] = factory
}

// RegisterStage registers a stage factory under name.
func (r *Registry) RegisterStage(name string, factory speech.StageFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[name] = factory
}

// CreateInput instantiates the input registered under name.
// Returns [ErrComponentNotRegistered] if no factory has been registered for
// that name.
func (r *Registry) CreateInput(name string, props speech.Properties) (speech.Input, error) {
	r.mu.RLock()
	factory, ok := r.inputs[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: input/%q", ErrComponentNotRegistered, name)
	}
	return factory(props)
}

// CreateStage instantiates the stage registered under name.
func (r *Registry) CreateStage(name string, props speech.Properties) (speech.Stage, error) {
	r.mu.RLock()
	factory, ok := r.stages[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stage/%q", ErrComponentNotRegistered, name)
	}
	return factory(props)
}

// HasInput reports whether an input factory is registered under name.
func (r *Registry) HasInput(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.inputs[name]
	return ok
}

// HasStage reports whether a stage factory is registered under name.
func (r *Registry) HasStage(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.stages[name]
	return ok
}

// Inputs returns the registered input names in sorted order.
func (r *Registry) Inputs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.inputs)
}

// Stages returns the registered stage names in sorted order.
func (r *Registry) Stages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return sortedKeys(r.stages)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
