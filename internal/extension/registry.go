package extension

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/born-ml/diffrast/internal/backend/webgpu"
	"github.com/born-ml/diffrast/internal/kernel"
	"github.com/born-ml/diffrast/internal/kernel/cpu"
)

// Backend produces kernel modules of one kind.
type Backend struct {
	Name string

	// Generate returns backend artifacts to cache for a build. Optional.
	Generate func(ctx context.Context, info BuildInfo) (map[string][]byte, error)

	// Open returns the loaded module.
	Open func(ctx context.Context, info BuildInfo) (kernel.Module, error)
}

// Registry maps backend names to backends.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// Register adds or replaces a backend.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[b.Name] = b
}

// Lookup returns the backend registered under name.
func (r *Registry) Lookup(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	if !ok {
		return Backend{}, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
	}
	return b, nil
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewRegistry()

// Register adds a backend to the package registry.
func Register(b Backend) {
	defaultRegistry.Register(b)
}

// Backends returns the names registered in the package registry.
func Backends() []string {
	return defaultRegistry.Names()
}

func init() {
	Register(Backend{
		Name: "cpu",
		Open: func(_ context.Context, info BuildInfo) (kernel.Module, error) {
			return cpu.New(info.Name), nil
		},
	})
	// The .spv artifacts are naga validation output kept in the cache entry;
	// the module builds its pipelines from the WGSL source, since the binding
	// has no SPIR-V shader module entry point.
	Register(Backend{
		Name: "webgpu",
		Generate: func(_ context.Context, _ BuildInfo) (map[string][]byte, error) {
			return webgpu.CompileSPIRV()
		},
		Open: func(_ context.Context, info BuildInfo) (kernel.Module, error) {
			return webgpu.New(info.Name)
		},
	})
}

// Open opens a module from the named backend of the package registry without
// building anything. Backends whose Open needs build artifacts fail.
func Open(ctx context.Context, backend, name string) (kernel.Module, error) {
	b, err := defaultRegistry.Lookup(backend)
	if err != nil {
		return nil, err
	}
	m, err := b.Open(ctx, BuildInfo{Name: name, Env: []string{}})
	if err != nil {
		return nil, fmt.Errorf("extension: open %s: %w", name, err)
	}
	return m, nil
}
