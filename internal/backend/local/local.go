// Package local implements the file-backed storage backends: the flat binary
// CLASSIC layout, its 64-bit offset CLASSIC64 variant, and the hierarchical
// ENHANCED container. All three share the in-memory engine and differ in
// their leading signature and in which element types the layout admits.
package local

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/arraystore/arraystore/internal/backend/memfile"
	"github.com/arraystore/arraystore/internal/dispatch"
	"github.com/arraystore/arraystore/internal/resolve"
	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

// Dispatcher serves one of the local file-backed storage models.
type Dispatcher struct {
	model  types.ModelID
	magic  []byte
	logger *slog.Logger
}

// New creates a dispatcher for one of the local file-backed models.
func New(model types.ModelID, logger *slog.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch model {
	case types.ModelClassic:
		return &Dispatcher{model: model, magic: resolve.MagicClassic, logger: logger}, nil
	case types.ModelClassic64:
		return &Dispatcher{model: model, magic: resolve.MagicClassic64, logger: logger}, nil
	case types.ModelEnhanced:
		return &Dispatcher{model: model, magic: resolve.MagicEnhanced, logger: logger}, nil
	default:
		return nil, fmt.Errorf("local backend cannot serve storage model %s", model)
	}
}

// fileState is the backend-private block for an open local file.
type fileState struct {
	mem      *memfile.File
	diskless bool
}

// Model implements dispatch.Dispatcher.
func (d *Dispatcher) Model() types.ModelID { return d.model }

// Create implements dispatch.Dispatcher.
func (d *Dispatcher) Create(ctx context.Context, path string, params *types.OpenParams, state *dispatch.State) error {
	diskless := params.CreateFlags.Has(types.CreateDiskless)
	if params.CreateFlags.Has(types.CreateNoClobber) && !diskless {
		if _, err := os.Stat(path); err == nil {
			return errors.Newf(errors.ErrCodeNameExists, "file %q already exists", path)
		}
	}

	fs := &fileState{mem: memfile.New(), diskless: diskless}
	if !diskless {
		// Materialize the empty dataset immediately so the path probes as
		// this format from the moment create returns.
		if err := d.flush(path, fs); err != nil {
			return err
		}
	}
	state.Private = fs
	d.logger.Debug("created dataset", "path", path, "model", d.model.String(), "diskless", diskless)
	return nil
}

// Open implements dispatch.Dispatcher.
func (d *Dispatcher) Open(ctx context.Context, path string, params *types.OpenParams, state *dispatch.State) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Newf(errors.ErrCodeStorageRead, "cannot read %q", path).WithCause(err)
	}
	mem, err := memfile.Decode(data, d.magic)
	if err != nil {
		return err
	}
	state.Private = &fileState{
		mem:      mem,
		diskless: params.OpenFlags.Has(types.OpenDiskless),
	}
	d.logger.Debug("opened dataset", "path", path, "model", d.model.String(), "writable", state.Writable)
	return nil
}

// Close implements dispatch.Dispatcher. Pending changes are flushed before
// the private state is released; a failed flush leaves the handle open.
func (d *Dispatcher) Close(state *dispatch.State) error {
	fs, err := d.file(state)
	if err != nil {
		return err
	}
	if state.Writable && !fs.diskless {
		if err := d.flush(state.Path, fs); err != nil {
			return err
		}
	}
	state.Private = nil
	return nil
}

// Sync implements dispatch.Dispatcher.
func (d *Dispatcher) Sync(state *dispatch.State) error {
	fs, err := d.file(state)
	if err != nil {
		return err
	}
	if !state.Writable || fs.diskless {
		return nil
	}
	return d.flush(state.Path, fs)
}

// DefDim implements dispatch.Dispatcher.
func (d *Dispatcher) DefDim(state *dispatch.State, name string, size int64) (int, error) {
	fs, err := d.writableFile(state)
	if err != nil {
		return 0, err
	}
	return fs.mem.DefDim(name, size)
}

// DefVar implements dispatch.Dispatcher.
func (d *Dispatcher) DefVar(state *dispatch.State, name string, storage types.DataType, dimIDs []int) (int, error) {
	fs, err := d.writableFile(state)
	if err != nil {
		return 0, err
	}
	if err := d.checkType(storage); err != nil {
		return 0, err
	}
	return fs.mem.DefVar(name, storage, dimIDs)
}

// InqDim implements dispatch.Dispatcher.
func (d *Dispatcher) InqDim(state *dispatch.State, dimID int) (types.DimInfo, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.DimInfo{}, err
	}
	return fs.mem.InqDim(dimID)
}

// InqVar implements dispatch.Dispatcher.
func (d *Dispatcher) InqVar(state *dispatch.State, varID int) (types.VarInfo, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.VarInfo{}, err
	}
	return fs.mem.InqVar(varID)
}

// InqAtt implements dispatch.Dispatcher.
func (d *Dispatcher) InqAtt(state *dispatch.State, varID int, name string) (types.AttInfo, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.AttInfo{}, err
	}
	return fs.mem.InqAtt(varID, name)
}

// PutVara implements dispatch.Dispatcher.
func (d *Dispatcher) PutVara(state *dispatch.State, varID int, start, count []int64, values interface{}) error {
	fs, err := d.writableFile(state)
	if err != nil {
		return err
	}
	return fs.mem.PutVara(varID, start, count, values)
}

// GetVara implements dispatch.Dispatcher.
func (d *Dispatcher) GetVara(state *dispatch.State, varID int, start, count []int64) (interface{}, error) {
	fs, err := d.file(state)
	if err != nil {
		return nil, err
	}
	return fs.mem.GetVara(varID, start, count)
}

// PutAtt implements dispatch.Dispatcher.
func (d *Dispatcher) PutAtt(state *dispatch.State, varID int, name string, storage types.DataType, values interface{}) error {
	fs, err := d.writableFile(state)
	if err != nil {
		return err
	}
	if err := d.checkType(storage); err != nil {
		return err
	}
	return fs.mem.PutAtt(varID, name, storage, values)
}

// GetAtt implements dispatch.Dispatcher.
func (d *Dispatcher) GetAtt(state *dispatch.State, varID int, name string) (types.DataType, interface{}, error) {
	fs, err := d.file(state)
	if err != nil {
		return types.TypeNone, nil, err
	}
	return fs.mem.GetAtt(varID, name)
}

// checkType enforces the layout's type model. The enhanced container admits
// every element kind; the flat layouts cannot represent strings or wide
// unsigned integers, and 64-bit integers need the CLASSIC64 layout.
func (d *Dispatcher) checkType(t types.DataType) error {
	if d.model == types.ModelEnhanced {
		return nil
	}
	switch t.Normalize() {
	case types.TypeString, types.TypeUInt16, types.TypeUInt32:
		return errors.Newf(errors.ErrCodeIncompatibleType,
			"type %s is not representable in the %s layout", t, d.model)
	case types.TypeInt64, types.TypeUInt64:
		if d.model != types.ModelClassic64 {
			return errors.Newf(errors.ErrCodeIncompatibleType,
				"64-bit integers need the classic64 layout, file is %s", d.model)
		}
	}
	return nil
}

func (d *Dispatcher) file(state *dispatch.State) (*fileState, error) {
	fs, ok := state.Private.(*fileState)
	if !ok || fs == nil {
		return nil, errors.Newf(errors.ErrCodeInternalError,
			"handle %d carries no %s state", state.Handle, d.model)
	}
	return fs, nil
}

func (d *Dispatcher) writableFile(state *dispatch.State) (*fileState, error) {
	fs, err := d.file(state)
	if err != nil {
		return nil, err
	}
	if !state.Writable {
		return nil, errors.Newf(errors.ErrCodeReadOnly, "file %q is open read-only", state.Path)
	}
	return fs, nil
}

func (d *Dispatcher) flush(path string, fs *fileState) error {
	data, err := fs.mem.Encode(d.magic)
	if err != nil {
		return errors.Newf(errors.ErrCodeStorageWrite, "cannot encode %q", path).WithCause(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Newf(errors.ErrCodeStorageWrite, "cannot write %q", path).WithCause(err)
	}
	return nil
}
