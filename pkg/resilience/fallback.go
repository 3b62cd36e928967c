package resilience

import (
	"sync"
)

// FallbackRegistry maps operation keys to fallback values returned when the
// operation fails. Used for graceful degradation of enrichment calls.
type FallbackRegistry struct {
	mu        sync.RWMutex
	fallbacks map[string]any
}

// NewFallbackRegistry creates an empty registry.
func NewFallbackRegistry() *FallbackRegistry {
	return &FallbackRegistry{
		fallbacks: make(map[string]any),
	}
}

// Register associates a fallback value with a key.
func (r *FallbackRegistry) Register(key string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[key] = value
}

// Lookup returns the registered fallback for key.
func (r *FallbackRegistry) Lookup(key string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.fallbacks[key]
	return v, ok
}

// ExecuteWithFallback runs op. On failure it returns the inline fallback if
// provided, else the registered fallback for key, else the error.
func (r *FallbackRegistry) ExecuteWithFallback(key string, op func() (any, error), inlineFallback any) (any, error) {
	result, err := op()
	if err == nil {
		return result, nil
	}
	if inlineFallback != nil {
		return inlineFallback, nil
	}
	if v, ok := r.Lookup(key); ok {
		return v, nil
	}
	return nil, err
}
