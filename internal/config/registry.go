package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vocahire/vocahire/pkg/provider/diarize"
	"github.com/vocahire/vocahire/pkg/provider/llm"
	"github.com/vocahire/vocahire/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	llm         map[string]func(ProviderEntry) (llm.Provider, error)
	stt         map[string]func(ProviderEntry) (stt.Transcriber, error)
	diarization map[string]func(ProviderEntry) (diarize.Diarizer, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:         make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt:         make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		diarization: make(map[string]func(ProviderEntry) (diarize.Diarizer, error)),
	}
}

// RegisterLLM registers an LLM provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// RegisterDiarization registers a diarizer factory under name.
func (r *Registry) RegisterDiarization(name string, factory func(ProviderEntry) (diarize.Diarizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.diarization[name] = factory
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateSTT instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateDiarization instantiates a diarizer using the factory registered under entry.Name.
func (r *Registry) CreateDiarization(entry ProviderEntry) (diarize.Diarizer, error) {
	return create(r, r.diarization, "diarization", entry)
}

// Names returns the registered provider names for kind ("llm", "stt" or
// "diarization") in sorted order.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case "llm":
		names = keys(r.llm)
	case "stt":
		names = keys(r.stt)
	case "diarization":
		names = keys(r.diarization)
	}
	sort.Strings(names)
	return names
}

func create[T any](r *Registry, factories map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := factories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
