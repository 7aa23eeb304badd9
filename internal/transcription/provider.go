package transcription

import (
	"context"
	"fmt"
	"sync"
)

// Provider is the ASR backend contract every transcription implementation
// satisfies (spec.md section 6, "transcription provider"). Kept close to
// the teacher's pkg/transcriber.Transcriber, trimmed to what the pipeline
// stage actually calls and given an explicit context for cancellation.
type Provider interface {
	// Name identifies this provider in config and logs.
	Name() string

	// Transcribe runs ASR over 16-bit-normalized float32 PCM samples at the
	// given sample rate.
	Transcribe(ctx context.Context, samples []float32, sampleRate int, opts Options) (*Result, error)

	// Ready reports whether the provider can currently accept work.
	Ready() bool

	// Close releases provider resources.
	Close() error
}

// Registry is the provider registration table (SPEC_FULL supplemented
// feature: providers are interchangeable and selected by config string),
// grounded on team-hashing-lokutor-orchestrator's STTProvider/Name()
// registration convention.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its own Name().
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get looks up a provider by name, validated at session start (spec.md
// section 6: invalid combinations are rejected at session start).
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("transcription provider %q is not registered", name)
	}
	return p, nil
}
