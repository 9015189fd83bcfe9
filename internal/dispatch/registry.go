package dispatch

import (
	"sync"

	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

// Registry maps a storage-model identifier to the dispatcher implementing it.
// Registration is expected during initialization, before any create or open
// is attempted; re-registering a model overwrites the slot (last writer
// wins). Lookups may run concurrently with each other.
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[types.ModelID]Dispatcher
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		dispatchers: make(map[types.ModelID]Dispatcher),
	}
}

// Register makes d available under the model id it declares. Registering a
// second dispatcher for the same model replaces the first.
func (r *Registry) Register(d Dispatcher) {
	if d == nil {
		panic("dispatch: must not register a nil Dispatcher")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatchers[d.Model()] = d
}

// Lookup returns the dispatcher registered for model, or UNSUPPORTED_FORMAT
// if the model is recognized but its backend is not present (for example,
// compiled out of this build).
func (r *Registry) Lookup(model types.ModelID) (Dispatcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dispatchers[model]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeUnsupportedFormat,
			"no backend registered for storage model %s", model)
	}
	return d, nil
}

// Models returns the model ids with a registered backend.
func (r *Registry) Models() []types.ModelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	models := make([]types.ModelID, 0, len(r.dispatchers))
	for m := range r.dispatchers {
		models = append(models, m)
	}
	return models
}
