package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraystore/arraystore/internal/dispatch"
	"github.com/arraystore/arraystore/internal/resolve"
	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

func newState(model types.ModelID, path string, writable bool) *dispatch.State {
	return &dispatch.State{Handle: 1, Model: model, Path: path, Writable: writable}
}

func create(t *testing.T, model types.ModelID, path string, params *types.OpenParams) (*Dispatcher, *dispatch.State) {
	t.Helper()
	d, err := New(model, nil)
	require.NoError(t, err)
	state := newState(model, path, true)
	require.NoError(t, d.Create(context.Background(), path, params, state))
	return d, state
}

func TestNewRejectsForeignModels(t *testing.T) {
	for _, model := range []types.ModelID{types.ModelRemote2, types.ModelParallel, types.ModelUnknown} {
		_, err := New(model, nil)
		assert.Error(t, err, "model %s", model)
	}
}

func TestCreateMaterializesSignature(t *testing.T) {
	tests := []struct {
		model types.ModelID
		want  types.ModelID
	}{
		{types.ModelClassic, types.ModelClassic},
		{types.ModelClassic64, types.ModelClassic64},
		{types.ModelEnhanced, types.ModelEnhanced},
	}

	for _, tt := range tests {
		t.Run(tt.model.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "d.arr")
			create(t, tt.model, path, &types.OpenParams{})

			// The empty dataset is on disk and probes as its format right away.
			probed, err := resolve.Probe(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, probed)
		})
	}
}

func TestCreateNoClobber(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.arr")
	require.NoError(t, os.WriteFile(path, []byte("existing"), 0o644))

	d, err := New(types.ModelClassic, nil)
	require.NoError(t, err)
	err = d.Create(context.Background(), path, &types.OpenParams{
		CreateFlags: types.CreateNoClobber,
	}, newState(types.ModelClassic, path, true))
	assert.True(t, errors.IsCode(err, errors.ErrCodeNameExists), "got %v", err)
}

func TestCreateDisklessLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.arr")
	d, state := create(t, types.ModelClassic, path, &types.OpenParams{
		CreateFlags: types.CreateDiskless,
	})

	_, err := d.DefDim(state, "n", 4)
	require.NoError(t, err)
	require.NoError(t, d.Sync(state))
	require.NoError(t, d.Close(state))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestCreateWriteReopenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.arr")
	d, state := create(t, types.ModelClassic, path, &types.OpenParams{})

	dim, err := d.DefDim(state, "n", 4)
	require.NoError(t, err)
	v, err := d.DefVar(state, "values", types.TypeInt32, []int{dim})
	require.NoError(t, err)
	require.NoError(t, d.PutVara(state, v, []int64{0}, []int64{4}, []int32{1, 2, 3, 4}))
	require.NoError(t, d.PutAtt(state, types.GlobalVar, "title", types.TypeChar, []byte("demo")))
	require.NoError(t, d.Close(state))

	reopened := newState(types.ModelClassic, path, false)
	require.NoError(t, d.Open(context.Background(), path, &types.OpenParams{}, reopened))

	got, err := d.GetVara(reopened, v, []int64{0}, []int64{4})
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3, 4}, got)

	st, vals, err := d.GetAtt(reopened, types.GlobalVar, "title")
	require.NoError(t, err)
	assert.Equal(t, types.TypeChar, st)
	assert.Equal(t, []byte("demo"), vals)

	info, err := d.InqVar(reopened, v)
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, info.Shape)
	require.NoError(t, d.Close(reopened))
}

func TestOpenWrongSignature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.arr")
	create(t, types.ModelClassic, path, &types.OpenParams{})

	d64, err := New(types.ModelClassic64, nil)
	require.NoError(t, err)
	err = d64.Open(context.Background(), path, &types.OpenParams{}, newState(types.ModelClassic64, path, false))
	assert.True(t, errors.IsCode(err, errors.ErrCodeUnrecognizedFormat), "got %v", err)
}

func TestOpenMissingFile(t *testing.T) {
	d, err := New(types.ModelClassic, nil)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "absent.arr")
	err = d.Open(context.Background(), path, &types.OpenParams{}, newState(types.ModelClassic, path, false))
	assert.True(t, errors.IsCode(err, errors.ErrCodeStorageRead), "got %v", err)
}

func TestReadOnlyHandleRejectsWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.arr")
	d, state := create(t, types.ModelClassic, path, &types.OpenParams{})
	dim, err := d.DefDim(state, "n", 2)
	require.NoError(t, err)
	v, err := d.DefVar(state, "x", types.TypeInt16, []int{dim})
	require.NoError(t, err)
	require.NoError(t, d.Close(state))

	ro := newState(types.ModelClassic, path, false)
	require.NoError(t, d.Open(context.Background(), path, &types.OpenParams{}, ro))

	_, err = d.DefDim(ro, "m", 3)
	assert.True(t, errors.IsCode(err, errors.ErrCodeReadOnly), "got %v", err)
	err = d.PutVara(ro, v, []int64{0}, []int64{2}, []int16{1, 2})
	assert.True(t, errors.IsCode(err, errors.ErrCodeReadOnly), "got %v", err)
	err = d.PutAtt(ro, types.GlobalVar, "t", types.TypeChar, []byte("x"))
	assert.True(t, errors.IsCode(err, errors.ErrCodeReadOnly), "got %v", err)

	// Reads stay available.
	_, err = d.GetVara(ro, v, []int64{0}, []int64{2})
	require.NoError(t, err)
	require.NoError(t, d.Close(ro))
}

func TestLayoutTypeModel(t *testing.T) {
	tests := []struct {
		name     string
		model    types.ModelID
		storage  types.DataType
		wantCode errors.ErrorCode
	}{
		{"classic rejects string", types.ModelClassic, types.TypeString, errors.ErrCodeIncompatibleType},
		{"classic rejects uint16", types.ModelClassic, types.TypeUInt16, errors.ErrCodeIncompatibleType},
		{"classic rejects int64", types.ModelClassic, types.TypeInt64, errors.ErrCodeIncompatibleType},
		{"classic accepts int32", types.ModelClassic, types.TypeInt32, ""},
		{"classic accepts float64", types.ModelClassic, types.TypeFloat64, ""},
		{"classic64 accepts int64", types.ModelClassic64, types.TypeInt64, ""},
		{"classic64 accepts uint64", types.ModelClassic64, types.TypeUInt64, ""},
		{"classic64 rejects string", types.ModelClassic64, types.TypeString, errors.ErrCodeIncompatibleType},
		{"enhanced accepts string", types.ModelEnhanced, types.TypeString, ""},
		{"enhanced accepts uint32", types.ModelEnhanced, types.TypeUInt32, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "d.arr")
			d, state := create(t, tt.model, path, &types.OpenParams{})
			_, err := d.DefVar(state, "v", tt.storage, nil)
			if tt.wantCode == "" {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.IsCode(err, tt.wantCode), "got %v", err)
			}
		})
	}
}

func TestSyncFlushesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.arr")
	d, state := create(t, types.ModelClassic, path, &types.OpenParams{})

	_, err := d.DefDim(state, "n", 8)
	require.NoError(t, err)
	require.NoError(t, d.Sync(state))

	// A second handle opened now already sees the synced dimension.
	other := newState(types.ModelClassic, path, false)
	require.NoError(t, d.Open(context.Background(), path, &types.OpenParams{}, other))
	info, err := d.InqDim(other, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size)
}
