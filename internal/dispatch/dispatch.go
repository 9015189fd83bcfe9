// Package dispatch defines the contract every storage backend implements and
// the process-wide registry mapping storage-model identifiers to backends.
//
// The core never interprets backend-private state: it allocates an empty
// State container, hands it to the chosen backend's Create or Open to fill
// in-place, and threads it back through every subsequent operation on the
// same handle.
package dispatch

import (
	"context"

	"github.com/arraystore/arraystore/pkg/types"
)

// State is the open-file record's backend-state container. The core owns the
// container; the backend owns Private and is the only party that reads or
// writes it.
type State struct {
	Handle types.HandleID
	Model  types.ModelID
	Path   string

	// Writable is false for handles opened without the write flag; backends
	// reject definition and put operations on such handles.
	Writable bool

	// Private is the backend-private block, populated by Create/Open and
	// released by Close.
	Private interface{}
}

// Dispatcher is the fixed operation set one backend implements. Every
// operation returns an error status; success must leave backend state
// internally consistent, and a failed Create/Open must leave nothing behind
// for the handle manager to register.
type Dispatcher interface {
	// Model declares the storage-model identifier this dispatcher implements.
	Model() types.ModelID

	// Create creates a new dataset file at path and fills state.Private.
	Create(ctx context.Context, path string, params *types.OpenParams, state *State) error

	// Open opens an existing dataset file at path and fills state.Private.
	Open(ctx context.Context, path string, params *types.OpenParams, state *State) error

	// Close releases all backend-private resources for state.
	Close(state *State) error

	// Sync flushes pending changes to durable storage.
	Sync(state *State) error

	// Dimension, variable and attribute metadata operations.
	DefDim(state *State, name string, size int64) (int, error)
	DefVar(state *State, name string, storage types.DataType, dimIDs []int) (int, error)
	InqDim(state *State, dimID int) (types.DimInfo, error)
	InqVar(state *State, varID int) (types.VarInfo, error)
	InqAtt(state *State, varID int, name string) (types.AttInfo, error)

	// PutVara writes a hyper-rectangular region of a variable. The values
	// buffer has already been coerced to the variable's storage type; start
	// and count are passed through to the backend unchanged.
	PutVara(state *State, varID int, start, count []int64, values interface{}) error

	// GetVara reads a hyper-rectangular region of a variable, returning a
	// buffer in the variable's storage type for the core to coerce.
	GetVara(state *State, varID int, start, count []int64) (interface{}, error)

	// PutAtt writes an attribute with the given storage type. The values
	// buffer has already been coerced to the storage type.
	PutAtt(state *State, varID int, name string, storage types.DataType, values interface{}) error

	// GetAtt reads an attribute, returning its storage type and a buffer in
	// that type for the core to coerce.
	GetAtt(state *State, varID int, name string) (types.DataType, interface{}, error)
}
