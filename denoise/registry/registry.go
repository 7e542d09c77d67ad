// Package registry implements C7: the denoiser registry & factory. It maps
// a DenoiserType to a constructor plus a capability predicate, so callers
// can ask "what can I actually run here" before committing to a type, the
// way a media pipeline probes codec availability before negotiating one.
package registry

import (
	"context"
	"fmt"
	"sync"

	"bken/noisedsp/internal/logging"

	"bken/noisedsp/denoise"
)

// Factory constructs a fresh, uninitialized Denoiser from a loose
// map[string]any config (the same JS-object-shaped surface spec.md's
// configuration model uses) and a logger. ctx bounds the module-loader
// fetch a factory runs before it can build the kernel, not the Denoiser's
// own Initialize (that happens separately, after Create returns).
type Factory func(ctx context.Context, cfg map[string]any, logger *logging.Logger) (denoise.Denoiser, error)

// Entry binds a DenoiserType to its Factory and an optional Supported
// predicate. A nil Supported is treated as always-supported.
type Entry struct {
	Type      denoise.Type
	Factory   Factory
	Supported func() bool
}

// Registry is a concurrency-safe map of DenoiserType to Entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[denoise.Type]Entry
	// order preserves registration order for SupportedTypes/BestAvailable
	// so results are deterministic rather than map-iteration-random.
	order []denoise.Type
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[denoise.Type]Entry)}
}

// Register adds or replaces the Entry for e.Type.
func (r *Registry) Register(e Entry) {
	if !e.Type.Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.Type]; !exists {
		r.order = append(r.order, e.Type)
	}
	r.entries[e.Type] = e
}

// Create builds a Denoiser of typ. It returns denoise.ErrUnknownDenoiserType
// if typ was never registered, or denoise.ErrUnsupportedDenoiserType if it
// was registered but its Supported predicate currently returns false.
// Building the kernel a factory needs may go through a Loader (internal/
// loader), which can block on ctx.
func (r *Registry) Create(ctx context.Context, typ denoise.Type, cfg map[string]any, logger *logging.Logger) (denoise.Denoiser, error) {
	r.mu.RLock()
	e, ok := r.entries[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", denoise.ErrUnknownDenoiserType, typ)
	}
	if e.Supported != nil && !e.Supported() {
		return nil, fmt.Errorf("%w: %s", denoise.ErrUnsupportedDenoiserType, typ)
	}
	d, err := e.Factory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("registry: create %s: %w", typ, err)
	}
	return d, nil
}

// IsSupported reports whether typ is registered and currently supported.
func (r *Registry) IsSupported(typ denoise.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[typ]
	if !ok {
		return false
	}
	return e.Supported == nil || e.Supported()
}

// SupportedTypes returns every registered type currently supported, in
// registration order.
func (r *Registry) SupportedTypes() []denoise.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []denoise.Type
	for _, t := range r.order {
		e := r.entries[t]
		if e.Supported == nil || e.Supported() {
			out = append(out, t)
		}
	}
	return out
}

// defaultPriority is the order BestAvailable tries when the caller supplies
// none: Neural over Spectral, since a working neural backend is the more
// capable denoiser whenever both are usable.
var defaultPriority = []denoise.Type{denoise.Neural, denoise.Spectral}

// BestAvailable returns the first currently-supported type from priority,
// tried in order, or false if none of them is supported. With no priority
// given it falls back to defaultPriority (Neural over Spectral).
func (r *Registry) BestAvailable(priority ...denoise.Type) (denoise.Type, bool) {
	order := priority
	if len(order) == 0 {
		order = defaultPriority
	}
	for _, t := range order {
		if r.IsSupported(t) {
			return t, true
		}
	}
	return "", false
}
