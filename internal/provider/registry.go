package provider

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"ink2md/internal/config"
	"ink2md/internal/logger"
)

// Factory builds a provider from its configuration.
type Factory func(ctx context.Context, id string, cfg config.ProviderConfig) (Provider, error)

// Registry holds the configured providers. Readers see an immutable
// snapshot; writers build a new snapshot and swap it in whole.
type Registry struct {
	mu      sync.Mutex // serializes writers
	current atomic.Pointer[map[string]Provider]
	factory Factory
	log     zerolog.Logger

	probeTimeout time.Duration
}

// TestResult is the outcome of probing one provider.
type TestResult struct {
	ProviderID string        `json:"provider_id"`
	Type       string        `json:"type"`
	Enabled    bool          `json:"enabled"`
	Available  bool          `json:"available"`
	Latency    time.Duration `json:"latency"`
}

// Stats summarizes the registry contents.
type Stats struct {
	Total        int            `json:"total"`
	Enabled      int            `json:"enabled"`
	ByType       map[string]int `json:"by_type"`
	ByCapability map[string]int `json:"by_capability"`
}

// NewRegistry returns an empty registry that builds providers with New.
func NewRegistry() *Registry {
	return NewRegistryWithFactory(New)
}

// NewRegistryWithFactory returns an empty registry using a custom factory.
func NewRegistryWithFactory(factory Factory) *Registry {
	r := &Registry{
		factory:      factory,
		log:          logger.WithComponent("registry"),
		probeTimeout: AvailabilityTimeout,
	}
	empty := map[string]Provider{}
	r.current.Store(&empty)
	return r
}

func (r *Registry) snapshot() map[string]Provider {
	return *r.current.Load()
}

// swap applies mutate to a copy of the current snapshot and publishes it.
func (r *Registry) swap(mutate func(next map[string]Provider)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.snapshot()
	next := make(map[string]Provider, len(prev)+1)
	for id, p := range prev {
		next[id] = p
	}
	mutate(next)
	r.current.Store(&next)
}

// Register validates cfg and adds the provider, replacing any previous
// entry with the same id. It reports false, and changes nothing, when
// construction or validation fails.
func (r *Registry) Register(ctx context.Context, id string, cfg config.ProviderConfig) bool {
	p, err := r.factory(ctx, id, cfg)
	if err != nil {
		r.log.Warn().
			Err(err).
			Str("provider_id", id).
			Str("type", cfg.Type).
			Msg("Provider registration failed")
		return false
	}
	return r.Add(p)
}

// Add registers an already constructed provider.
func (r *Registry) Add(p Provider) bool {
	desc := p.Descriptor()
	if desc.ID == "" || desc.Capabilities.Empty() {
		r.log.Warn().Str("provider_id", desc.ID).Msg("Rejecting provider without id or capabilities")
		return false
	}

	r.swap(func(next map[string]Provider) {
		next[desc.ID] = p
	})

	r.log.Info().
		Str("provider_id", desc.ID).
		Str("type", desc.Type).
		Str("capabilities", desc.Capabilities.String()).
		Bool("enabled", desc.Enabled).
		Msg("Provider registered")
	return true
}

// Unregister removes a provider and reports whether it existed.
func (r *Registry) Unregister(id string) bool {
	var existed bool
	r.swap(func(next map[string]Provider) {
		_, existed = next[id]
		delete(next, id)
	})
	return existed
}

// LoadFromConfig registers every provider in providers and returns how many
// succeeded.
func (r *Registry) LoadFromConfig(ctx context.Context, providers map[string]config.ProviderConfig) int {
	built := r.buildAll(ctx, providers)
	r.swap(func(next map[string]Provider) {
		for id, p := range built {
			next[id] = p
		}
	})
	return len(built)
}

// Reload replaces the whole registry with the given providers. Callers
// holding the previous snapshot keep using it until they look up again.
func (r *Registry) Reload(ctx context.Context, providers map[string]config.ProviderConfig) int {
	built := r.buildAll(ctx, providers)
	r.swap(func(next map[string]Provider) {
		for id := range next {
			delete(next, id)
		}
		for id, p := range built {
			next[id] = p
		}
	})
	r.log.Info().Int("providers", len(built)).Msg("Provider registry reloaded")
	return len(built)
}

func (r *Registry) buildAll(ctx context.Context, providers map[string]config.ProviderConfig) map[string]Provider {
	built := make(map[string]Provider, len(providers))
	for id, cfg := range providers {
		p, err := r.factory(ctx, id, cfg)
		if err != nil {
			r.log.Warn().
				Err(err).
				Str("provider_id", id).
				Str("type", cfg.Type).
				Msg("Provider registration failed")
			continue
		}
		built[id] = p
	}
	return built
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	p, ok := r.snapshot()[id]
	return p, ok
}

// Descriptor returns the descriptor of the provider registered under id.
func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	p, ok := r.Get(id)
	if !ok {
		return Descriptor{}, false
	}
	return p.Descriptor(), true
}

// List returns all descriptors sorted by id.
func (r *Registry) List() []Descriptor {
	snap := r.snapshot()
	out := make([]Descriptor, 0, len(snap))
	for _, p := range snap {
		out = append(out, p.Descriptor())
	}
	sortDescriptors(out)
	return out
}

// ByCapability returns the enabled providers advertising c, sorted by id.
func (r *Registry) ByCapability(c Capability) []Descriptor {
	var out []Descriptor
	for _, p := range r.snapshot() {
		desc := p.Descriptor()
		if desc.Enabled && desc.Capabilities.Has(c) {
			out = append(out, desc)
		}
	}
	sortDescriptors(out)
	return out
}

// IsAvailable probes the provider within AvailabilityTimeout. Unknown ids
// and probe failures report false.
func (r *Registry) IsAvailable(ctx context.Context, id string) bool {
	p, ok := r.Get(id)
	if !ok {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		defer func() {
			if recover() != nil {
				done <- false
			}
		}()
		done <- p.IsAvailable(ctx)
	}()

	select {
	case ok := <-done:
		return ok
	case <-ctx.Done():
		r.log.Debug().Str("provider_id", id).Msg("Availability probe timed out")
		return false
	}
}

// TestAll probes every registered provider concurrently.
func (r *Registry) TestAll(ctx context.Context) []TestResult {
	descs := r.List()
	results := make([]TestResult, len(descs))

	var g errgroup.Group
	g.SetLimit(4)
	for i, desc := range descs {
		g.Go(func() error {
			start := time.Now()
			available := r.IsAvailable(ctx, desc.ID)
			results[i] = TestResult{
				ProviderID: desc.ID,
				Type:       desc.Type,
				Enabled:    desc.Enabled,
				Available:  available,
				Latency:    time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Statistics counts providers by type and capability.
func (r *Registry) Statistics() Stats {
	stats := Stats{
		ByType:       map[string]int{},
		ByCapability: map[string]int{},
	}
	for _, p := range r.snapshot() {
		desc := p.Descriptor()
		stats.Total++
		if desc.Enabled {
			stats.Enabled++
		}
		stats.ByType[desc.Type]++
		for _, c := range desc.Capabilities.List() {
			stats.ByCapability[c.String()]++
		}
	}
	return stats
}

func sortDescriptors(descs []Descriptor) {
	sort.Slice(descs, func(i, j int) bool { return descs[i].ID < descs[j].ID })
}
