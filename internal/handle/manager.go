// Package handle implements the per-file handle lifecycle: allocation of
// opaque handle ids, the process-wide mapping from id to open-file record,
// and the create/use/close state machine around a chosen backend.
package handle

import (
	"context"
	"log/slog"
	"sync"

	"github.com/arraystore/arraystore/internal/dispatch"
	"github.com/arraystore/arraystore/internal/resolve"
	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

// record binds a live handle to its dispatcher and backend state.
type record struct {
	disp  dispatch.Dispatcher
	state *dispatch.State
}

// Manager owns the handle registry. Ids are monotonically increasing within
// the process and are never reused while their record is live; a record is
// inserted only after a successful backend create/open and removed only
// after a successful backend close.
type Manager struct {
	mu       sync.RWMutex
	registry *dispatch.Registry
	records  map[types.HandleID]*record
	nextID   types.HandleID
	logger   *slog.Logger
}

// NewManager creates a handle manager dispatching through reg.
func NewManager(reg *dispatch.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: reg,
		records:  make(map[types.HandleID]*record),
		logger:   logger,
	}
}

// Create resolves the storage model for the given creation parameters,
// invokes the matching backend's create operation into a fresh state
// container, and registers the record only on success. On failure no handle
// exists and no backend state is leaked.
func (m *Manager) Create(ctx context.Context, path string, params *types.OpenParams) (types.HandleID, error) {
	model, err := resolve.ForCreate(path, params)
	if err != nil {
		return 0, err
	}
	return m.bind(ctx, path, params, model, true)
}

// Open is symmetric to Create using the backend's open operation, with the
// storage model resolved from flags, path shape and a content probe.
func (m *Manager) Open(ctx context.Context, path string, params *types.OpenParams) (types.HandleID, error) {
	model, err := resolve.ForOpen(path, params)
	if err != nil {
		return 0, err
	}
	return m.bind(ctx, path, params, model, false)
}

func (m *Manager) bind(ctx context.Context, path string, params *types.OpenParams, model types.ModelID, create bool) (types.HandleID, error) {
	disp, err := m.registry.Lookup(model)
	if err != nil {
		return 0, err
	}

	state := &dispatch.State{
		Handle:   m.allocate(),
		Model:    model,
		Path:     path,
		Writable: create || params.OpenFlags.Has(types.OpenWrite),
	}

	op := "open"
	if create {
		op = "create"
		err = disp.Create(ctx, path, params, state)
	} else {
		err = disp.Open(ctx, path, params, state)
	}
	if err != nil {
		// The backend must not have left partially-initialized state behind;
		// the unregistered container is simply dropped.
		return 0, errors.WrapBackend(model.String(), op, err)
	}

	m.mu.Lock()
	m.records[state.Handle] = &record{disp: disp, state: state}
	m.mu.Unlock()

	m.logger.Debug("bound dataset handle",
		"handle", uint64(state.Handle), "model", model.String(), "path", path, "op", op)
	return state.Handle, nil
}

// allocate returns the next unused handle id. Ids increase monotonically and
// skip any id still present in the registry.
func (m *Manager) allocate() types.HandleID {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		m.nextID++
		if m.nextID == 0 {
			m.nextID = 1
		}
		if _, taken := m.records[m.nextID]; !taken {
			return m.nextID
		}
	}
}

// Get looks up the live record for h. Absence of a record is an error, never
// silently tolerated.
func (m *Manager) Get(h types.HandleID) (dispatch.Dispatcher, *dispatch.State, error) {
	m.mu.RLock()
	rec, ok := m.records[h]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, errors.Newf(errors.ErrCodeInvalidHandle, "no open file for handle %d", h)
	}
	return rec.disp, rec.state, nil
}

// Close invokes the backend's close operation and removes the record only if
// the close succeeds. A failed close leaves the record registered so the
// caller retains an explicit release point and may retry.
func (m *Manager) Close(h types.HandleID) error {
	disp, state, err := m.Get(h)
	if err != nil {
		return err
	}
	if err := disp.Close(state); err != nil {
		m.logger.Warn("backend close failed, handle stays open",
			"handle", uint64(h), "model", state.Model.String(), "error", err)
		return errors.WrapBackend(state.Model.String(), "close", err)
	}

	m.mu.Lock()
	delete(m.records, h)
	m.mu.Unlock()
	return nil
}

// Sync flushes pending changes on h to durable storage.
func (m *Manager) Sync(h types.HandleID) error {
	disp, state, err := m.Get(h)
	if err != nil {
		return err
	}
	if err := disp.Sync(state); err != nil {
		return errors.WrapBackend(state.Model.String(), "sync", err)
	}
	return nil
}

// Handles returns the ids of all live records.
func (m *Manager) Handles() []types.HandleID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.HandleID, 0, len(m.records))
	for h := range m.records {
		out = append(out, h)
	}
	return out
}
