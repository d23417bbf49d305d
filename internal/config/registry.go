package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mondzorgtools/dictaat/internal/asr"
)

// ErrProviderNotRegistered is returned by [Registry.CreateASR] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// ASRFactory constructs an ASR provider from its configuration block.
type ASRFactory func(ASRConfig) (asr.Provider, error)

// Registry maps ASR provider names to their constructor functions. It is
// safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	asr map[string]ASRFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{asr: make(map[string]ASRFactory)}
}

// RegisterASR registers a provider factory under name. Subsequent calls
// with the same name overwrite the previous registration.
func (r *Registry) RegisterASR(name string, factory ASRFactory) {
	r.mu.Lock()
	r.asr[name] = factory
	r.mu.Unlock()
}

// CreateASR instantiates the provider selected by cfg.Provider.
func (r *Registry) CreateASR(cfg ASRConfig) (asr.Provider, error) {
	r.mu.RLock()
	factory, ok := r.asr[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}

// Names returns the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.asr))
	for n := range r.asr {
		names = append(names, n)
	}
	return names
}
