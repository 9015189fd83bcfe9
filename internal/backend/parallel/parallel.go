// Package parallel implements the PARALLEL storage model: parallel I/O over
// the flat binary layout. It is a composing backend, layering coordination
// state over the classic dispatchers rather than reimplementing them; the
// base process (basePE 0) is the only writer at sync time, other processes
// operate on their in-memory replica until close.
package parallel

import (
	"context"
	"log/slog"

	"github.com/arraystore/arraystore/internal/backend/local"
	"github.com/arraystore/arraystore/internal/dispatch"
	"github.com/arraystore/arraystore/internal/resolve"
	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

// Dispatcher serves the PARALLEL storage model.
type Dispatcher struct {
	classic   *local.Dispatcher
	classic64 *local.Dispatcher
	logger    *slog.Logger
}

// New creates the parallel dispatcher.
func New(logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	classic, err := local.New(types.ModelClassic, logger)
	if err != nil {
		return nil, err
	}
	classic64, err := local.New(types.ModelClassic64, logger)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{classic: classic, classic64: classic64, logger: logger}, nil
}

// fileState composes the underlying flat-layout dispatcher with parallel
// coordination state. The child state is owned here and never registered
// with the handle manager.
type fileState struct {
	inner  dispatch.Dispatcher
	child  *dispatch.State
	basePE int
}

// Model implements dispatch.Dispatcher.
func (d *Dispatcher) Model() types.ModelID { return types.ModelParallel }

// Create implements dispatch.Dispatcher.
func (d *Dispatcher) Create(ctx context.Context, path string, params *types.OpenParams, state *dispatch.State) error {
	inner := dispatch.Dispatcher(d.classic)
	if params.CreateFlags.Has(types.Create64BitOffset) {
		inner = d.classic64
	}
	child := d.childState(inner, state)
	if err := inner.Create(ctx, path, params, child); err != nil {
		return err
	}
	state.Private = &fileState{inner: inner, child: child, basePE: params.BasePE}
	return nil
}

// Open implements dispatch.Dispatcher. The concrete flat variant is picked by
// re-probing the signature, since PARALLEL itself has no on-disk form.
func (d *Dispatcher) Open(ctx context.Context, path string, params *types.OpenParams, state *dispatch.State) error {
	probed, err := resolve.Probe(path)
	if err != nil {
		return err
	}
	var inner dispatch.Dispatcher
	switch probed {
	case types.ModelClassic:
		inner = d.classic
	case types.ModelClassic64:
		inner = d.classic64
	default:
		return errors.Newf(errors.ErrCodeFlagContradiction,
			"parallel access is only supported for the flat binary layout, %q probes as %s", path, probed)
	}
	child := d.childState(inner, state)
	if err := inner.Open(ctx, path, params, child); err != nil {
		return err
	}
	state.Private = &fileState{inner: inner, child: child, basePE: params.BasePE}
	return nil
}

// Close implements dispatch.Dispatcher.
func (d *Dispatcher) Close(state *dispatch.State) error {
	fs, err := d.file(state)
	if err != nil {
		return err
	}
	// Non-base processes drop their replica without writing.
	fs.child.Writable = fs.child.Writable && fs.basePE == 0
	if err := fs.inner.Close(fs.child); err != nil {
		return err
	}
	state.Private = nil
	return nil
}

// Sync implements dispatch.Dispatcher. Only the base process flushes; other
// processes treat sync as a no-op barrier.
func (d *Dispatcher) Sync(state *dispatch.State) error {
	fs, err := d.file(state)
	if err != nil {
		return err
	}
	if fs.basePE != 0 {
		return nil
	}
	return fs.inner.Sync(fs.child)
}

// DefDim implements dispatch.Dispatcher.
func (d *Dispatcher) DefDim(state *dispatch.State, name string, size int64) (int, error) {
	fs, err := d.file(state)
	if err != nil {
		return 0, err
	}
	return fs.inner.DefDim(fs.child, name, size)
}

// DefVar implements dispatch.Dispatcher.
func (d *Dispatcher) DefVar(state *dispatch.State, name string, storage types.DataType, dimIDs []int) (int, error) {
	fs, err := d.file(state)
	if err != nil {
		return 0, err
	}
	return fs.inner.DefVar(fs.child, name, storage, dimIDs)
}

// InqDim implements dispatch.Dispatcher.
func (d *Dispatcher) InqDim(state *dispatch.State, dimID int) (types.DimInfo, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.DimInfo{}, err
	}
	return fs.inner.InqDim(fs.child, dimID)
}

// InqVar implements dispatch.Dispatcher.
func (d *Dispatcher) InqVar(state *dispatch.State, varID int) (types.VarInfo, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.VarInfo{}, err
	}
	return fs.inner.InqVar(fs.child, varID)
}

// InqAtt implements dispatch.Dispatcher.
func (d *Dispatcher) InqAtt(state *dispatch.State, varID int, name string) (types.AttInfo, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.AttInfo{}, err
	}
	return fs.inner.InqAtt(fs.child, varID, name)
}

// PutVara implements dispatch.Dispatcher.
func (d *Dispatcher) PutVara(state *dispatch.State, varID int, start, count []int64, values interface{}) error {
	fs, err := d.file(state)
	if err != nil {
		return err
	}
	return fs.inner.PutVara(fs.child, varID, start, count, values)
}

// GetVara implements dispatch.Dispatcher.
func (d *Dispatcher) GetVara(state *dispatch.State, varID int, start, count []int64) (interface{}, error) {
	fs, err := d.file(state)
	if err != nil {
		return nil, err
	}
	return fs.inner.GetVara(fs.child, varID, start, count)
}

// PutAtt implements dispatch.Dispatcher.
func (d *Dispatcher) PutAtt(state *dispatch.State, varID int, name string, storage types.DataType, values interface{}) error {
	fs, err := d.file(state)
	if err != nil {
		return err
	}
	return fs.inner.PutAtt(fs.child, varID, name, storage, values)
}

// GetAtt implements dispatch.Dispatcher.
func (d *Dispatcher) GetAtt(state *dispatch.State, varID int, name string) (types.DataType, interface{}, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.TypeNone, nil, err
	}
	return fs.inner.GetAtt(fs.child, varID, name)
}

func (d *Dispatcher) childState(inner dispatch.Dispatcher, state *dispatch.State) *dispatch.State {
	return &dispatch.State{
		Handle:   state.Handle,
		Model:    inner.Model(),
		Path:     state.Path,
		Writable: state.Writable,
	}
}

func (d *Dispatcher) file(state *dispatch.State) (*fileState, error) {
	fs, ok := state.Private.(*fileState)
	if !ok || fs == nil {
		return nil, errors.Newf(errors.ErrCodeInternalError,
			"handle %d carries no parallel state", state.Handle)
	}
	return fs, nil
}
