// Package memfile provides the in-memory dataset engine shared by the
// concrete storage backends: dimension/variable/attribute metadata, row-major
// hyperslab access, and a snapshot codec with a per-format magic prefix.
//
// The engine holds variable data in typed Go slices matching the declared
// storage type; callers are expected to coerce value buffers to the storage
// type before handing them in.
package memfile

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"sync"

	"github.com/arraystore/arraystore/internal/coerce"
	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

func init() {
	// Concrete value-buffer types carried through interface fields in the
	// snapshot codec.
	gob.Register([]int8{})
	gob.Register([]uint8{})
	gob.Register([]int16{})
	gob.Register([]uint16{})
	gob.Register([]int32{})
	gob.Register([]uint32{})
	gob.Register([]int64{})
	gob.Register([]uint64{})
	gob.Register([]float32{})
	gob.Register([]float64{})
	gob.Register([]string{})
}

// Dim is a declared dimension.
type Dim struct {
	Name string
	Size int64
}

// Var is a declared variable with its flattened row-major data.
type Var struct {
	Name   string
	Type   types.DataType
	DimIDs []int
	Data   interface{}
}

// Att is a stored attribute.
type Att struct {
	Type   types.DataType
	Values interface{}
}

// File is an in-memory dataset.
type File struct {
	mu   sync.RWMutex
	dims []Dim
	vars []Var
	// atts[0] holds file-global attributes; atts[varID+1] the per-variable
	// ones.
	atts []map[string]Att
}

// New creates an empty dataset.
func New() *File {
	return &File{
		atts: []map[string]Att{make(map[string]Att)},
	}
}

// DefDim declares a dimension and returns its id.
func (f *File) DefDim(name string, size int64) (int, error) {
	if name == "" {
		return 0, errors.NewError(errors.ErrCodeInvalidArgument, "empty dimension name")
	}
	if size < 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidArgument, "negative dimension size %d", size)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.dims {
		if d.Name == name {
			return 0, errors.Newf(errors.ErrCodeNameExists, "dimension %q already defined", name)
		}
	}
	f.dims = append(f.dims, Dim{Name: name, Size: size})
	return len(f.dims) - 1, nil
}

// DefVar declares a variable over previously declared dimensions, allocating
// its zeroed data region, and returns its id.
func (f *File) DefVar(name string, storage types.DataType, dimIDs []int) (int, error) {
	if name == "" {
		return 0, errors.NewError(errors.ErrCodeInvalidArgument, "empty variable name")
	}
	storage = storage.Normalize()
	if !storage.Valid() {
		return 0, errors.Newf(errors.ErrCodeInvalidArgument, "invalid storage type %d", storage)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.vars {
		if v.Name == name {
			return 0, errors.Newf(errors.ErrCodeNameExists, "variable %q already defined", name)
		}
	}

	n := int64(1)
	for _, id := range dimIDs {
		if id < 0 || id >= len(f.dims) {
			return 0, errors.Newf(errors.ErrCodeInvalidArgument, "unknown dimension id %d", id)
		}
		size := f.dims[id].Size
		if size > 0 && n > math.MaxInt64/size {
			return 0, errors.Newf(errors.ErrCodeInvalidArgument,
				"variable %q has more elements than are addressable", name)
		}
		n *= size
	}
	if n > int64(math.MaxInt) {
		return 0, errors.Newf(errors.ErrCodeInvalidArgument,
			"variable %q has more elements than are addressable", name)
	}

	f.vars = append(f.vars, Var{
		Name:   name,
		Type:   storage,
		DimIDs: append([]int(nil), dimIDs...),
		Data:   coerce.MakeSlice(storage, int(n)),
	})
	f.atts = append(f.atts, make(map[string]Att))
	return len(f.vars) - 1, nil
}

// InqDim returns dimension metadata.
func (f *File) InqDim(dimID int) (types.DimInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if dimID < 0 || dimID >= len(f.dims) {
		return types.DimInfo{}, errors.Newf(errors.ErrCodeInvalidArgument, "unknown dimension id %d", dimID)
	}
	d := f.dims[dimID]
	return types.DimInfo{ID: dimID, Name: d.Name, Size: d.Size}, nil
}

// InqVar returns variable metadata, shape included.
func (f *File) InqVar(varID int) (types.VarInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if varID < 0 || varID >= len(f.vars) {
		return types.VarInfo{}, errors.Newf(errors.ErrCodeInvalidArgument, "unknown variable id %d", varID)
	}
	v := f.vars[varID]
	info := types.VarInfo{
		ID:     varID,
		Name:   v.Name,
		Type:   v.Type,
		DimIDs: append([]int(nil), v.DimIDs...),
		Shape:  make([]int64, len(v.DimIDs)),
	}
	for i, id := range v.DimIDs {
		info.Shape[i] = f.dims[id].Size
	}
	return info, nil
}

// InqAtt returns attribute metadata for varID (GlobalVar for file-global
// attributes).
func (f *File) InqAtt(varID int, name string) (types.AttInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, err := f.attSet(varID)
	if err != nil {
		return types.AttInfo{}, err
	}
	att, ok := m[name]
	if !ok {
		return types.AttInfo{}, errors.Newf(errors.ErrCodeNameNotFound, "no attribute %q", name)
	}
	return types.AttInfo{Name: name, Type: att.Type, Len: coerce.Length(att.Values)}, nil
}

// PutAtt stores an attribute, replacing any previous value.
func (f *File) PutAtt(varID int, name string, storage types.DataType, values interface{}) error {
	if name == "" {
		return errors.NewError(errors.ErrCodeInvalidArgument, "empty attribute name")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.attSet(varID)
	if err != nil {
		return err
	}
	m[name] = Att{Type: storage.Normalize(), Values: cloneValues(values)}
	return nil
}

// GetAtt returns an attribute's storage type and values.
func (f *File) GetAtt(varID int, name string) (types.DataType, interface{}, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, err := f.attSet(varID)
	if err != nil {
		return types.TypeNone, nil, err
	}
	att, ok := m[name]
	if !ok {
		return types.TypeNone, nil, errors.Newf(errors.ErrCodeNameNotFound, "no attribute %q", name)
	}
	return att.Type, cloneValues(att.Values), nil
}

// cloneValues copies an attribute buffer. Stored attributes must never alias
// a caller's slice, and a returned buffer must not be a window into file
// state, or a caller could mutate the dataset in place through it.
func cloneValues(values interface{}) interface{} {
	switch s := values.(type) {
	case []int8:
		return append([]int8(nil), s...)
	case []uint8:
		return append([]uint8(nil), s...)
	case []int16:
		return append([]int16(nil), s...)
	case []uint16:
		return append([]uint16(nil), s...)
	case []int32:
		return append([]int32(nil), s...)
	case []uint32:
		return append([]uint32(nil), s...)
	case []int64:
		return append([]int64(nil), s...)
	case []uint64:
		return append([]uint64(nil), s...)
	case []float32:
		return append([]float32(nil), s...)
	case []float64:
		return append([]float64(nil), s...)
	case []string:
		return append([]string(nil), s...)
	default:
		return values
	}
}

// PutVara writes the hyper-rectangular region [start, start+count) of a
// variable from a buffer already in the variable's storage type.
func (f *File) PutVara(varID int, start, count []int64, values interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, shape, err := f.varRegion(varID, start, count)
	if err != nil {
		return err
	}

	n := product(count)
	if got := int64(coerce.Length(values)); got != n {
		return errors.Newf(errors.ErrCodeInvalidArgument,
			"value buffer holds %d elements, region needs %d", got, n)
	}
	return copyRegion(v.Data, values, shape, start, count, true)
}

// GetVara reads the hyper-rectangular region [start, start+count) of a
// variable into a fresh buffer in the variable's storage type.
func (f *File) GetVara(varID int, start, count []int64) (interface{}, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, shape, err := f.varRegion(varID, start, count)
	if err != nil {
		return nil, err
	}

	out := coerce.MakeSlice(v.Type, int(product(count)))
	if err := copyRegion(v.Data, out, shape, start, count, false); err != nil {
		return nil, err
	}
	return out, nil
}

// VarType returns a variable's declared storage type.
func (f *File) VarType(varID int) (types.DataType, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if varID < 0 || varID >= len(f.vars) {
		return types.TypeNone, errors.Newf(errors.ErrCodeInvalidArgument, "unknown variable id %d", varID)
	}
	return f.vars[varID].Type, nil
}

func (f *File) attSet(varID int) (map[string]Att, error) {
	if varID == types.GlobalVar {
		return f.atts[0], nil
	}
	if varID < 0 || varID >= len(f.vars) {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument, "unknown variable id %d", varID)
	}
	return f.atts[varID+1], nil
}

// varRegion validates slice coordinates against the variable's shape.
func (f *File) varRegion(varID int, start, count []int64) (*Var, []int64, error) {
	if varID < 0 || varID >= len(f.vars) {
		return nil, nil, errors.Newf(errors.ErrCodeInvalidArgument, "unknown variable id %d", varID)
	}
	v := &f.vars[varID]
	rank := len(v.DimIDs)
	if len(start) != rank || len(count) != rank {
		return nil, nil, errors.Newf(errors.ErrCodeInvalidArgument,
			"slice coordinates have rank %d/%d, variable %q has rank %d",
			len(start), len(count), v.Name, rank)
	}

	shape := make([]int64, rank)
	for i, id := range v.DimIDs {
		shape[i] = f.dims[id].Size
	}
	for i := 0; i < rank; i++ {
		if start[i] < 0 || count[i] < 0 || start[i]+count[i] > shape[i] {
			return nil, nil, errors.Newf(errors.ErrCodeInvalidArgument,
				"region [%d,%d) exceeds dimension of size %d", start[i], start[i]+count[i], shape[i])
		}
	}
	return v, shape, nil
}

func product(count []int64) int64 {
	n := int64(1)
	for _, c := range count {
		n *= c
	}
	return n
}

// copyRegion copies between a variable's flattened data and a dense region
// buffer. toVar selects the direction: region buffer into the variable, or
// variable into the region buffer.
func copyRegion(varData, region interface{}, shape, start, count []int64, toVar bool) error {
	switch vd := varData.(type) {
	case []int8:
		return copyChecked(vd, region, shape, start, count, toVar)
	case []uint8:
		return copyChecked(vd, region, shape, start, count, toVar)
	case []int16:
		return copyChecked(vd, region, shape, start, count, toVar)
	case []uint16:
		return copyChecked(vd, region, shape, start, count, toVar)
	case []int32:
		return copyChecked(vd, region, shape, start, count, toVar)
	case []uint32:
		return copyChecked(vd, region, shape, start, count, toVar)
	case []int64:
		return copyChecked(vd, region, shape, start, count, toVar)
	case []uint64:
		return copyChecked(vd, region, shape, start, count, toVar)
	case []float32:
		return copyChecked(vd, region, shape, start, count, toVar)
	case []float64:
		return copyChecked(vd, region, shape, start, count, toVar)
	case []string:
		return copyChecked(vd, region, shape, start, count, toVar)
	default:
		return errors.Newf(errors.ErrCodeInternalError, "unsupported variable data type %T", varData)
	}
}

func copyChecked[T any](varData []T, region interface{}, shape, start, count []int64, toVar bool) error {
	r, ok := region.([]T)
	if !ok {
		return errors.Newf(errors.ErrCodeIncompatibleType,
			"value buffer type %T does not match variable storage type %T", region, varData)
	}
	return copyTyped(varData, r, shape, start, count, toVar)
}

func copyTyped[T any](varData, region []T, shape, start, count []int64, toVar bool) error {
	rank := len(shape)
	if rank == 0 {
		// Scalar variable.
		if toVar {
			varData[0] = region[0]
		} else {
			region[0] = varData[0]
		}
		return nil
	}

	strides := make([]int64, rank)
	strides[rank-1] = 1
	for d := rank - 2; d >= 0; d-- {
		strides[d] = strides[d+1] * shape[d+1]
	}

	n := product(count)
	cur := make([]int64, rank)
	for i := int64(0); i < n; i++ {
		flat := int64(0)
		for d := 0; d < rank; d++ {
			flat += (start[d] + cur[d]) * strides[d]
		}
		if toVar {
			varData[flat] = region[i]
		} else {
			region[i] = varData[flat]
		}
		for d := rank - 1; d >= 0; d-- {
			cur[d]++
			if cur[d] < count[d] {
				break
			}
			cur[d] = 0
		}
	}
	return nil
}

// snapshot is the gob-encoded persistent form of a dataset.
type snapshot struct {
	Dims []Dim
	Vars []Var
	Atts []map[string]Att
}

// Encode serializes the dataset, prefixed with the given format magic.
func (f *File) Encode(magic []byte) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var buf bytes.Buffer
	buf.Write(magic)
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(snapshot{Dims: f.dims, Vars: f.vars, Atts: f.atts}); err != nil {
		return nil, fmt.Errorf("failed to encode dataset: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes a dataset, verifying the leading format magic.
func Decode(data, magic []byte) (*File, error) {
	if !bytes.HasPrefix(data, magic) {
		return nil, errors.NewError(errors.ErrCodeUnrecognizedFormat,
			"leading bytes do not match the expected format signature")
	}

	var snap snapshot
	dec := gob.NewDecoder(bytes.NewReader(data[len(magic):]))
	if err := dec.Decode(&snap); err != nil {
		return nil, errors.NewError(errors.ErrCodeStorageRead, "corrupt dataset body").WithCause(err)
	}

	f := &File{dims: snap.Dims, vars: snap.Vars, atts: snap.Atts}
	if len(f.atts) == 0 {
		f.atts = []map[string]Att{make(map[string]Att)}
	}
	return f, nil
}
