package parallel

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraystore/arraystore/internal/backend/local"
	"github.com/arraystore/arraystore/internal/dispatch"
	"github.com/arraystore/arraystore/internal/resolve"
	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

func newState(path string, writable bool) *dispatch.State {
	return &dispatch.State{Handle: 1, Model: types.ModelParallel, Path: path, Writable: writable}
}

func TestModel(t *testing.T) {
	d, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, types.ModelParallel, d.Model())
}

func TestCreatePicksFlatVariant(t *testing.T) {
	d, err := New(nil)
	require.NoError(t, err)

	t.Run("classic by default", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "d.arr")
		state := newState(path, true)
		require.NoError(t, d.Create(context.Background(), path, &types.OpenParams{
			CreateFlags: types.CreateParallel,
		}, state))

		probed, err := resolve.Probe(path)
		require.NoError(t, err)
		assert.Equal(t, types.ModelClassic, probed)
		require.NoError(t, d.Close(state))
	})

	t.Run("classic64 with 64-bit flag", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "d.arr")
		state := newState(path, true)
		require.NoError(t, d.Create(context.Background(), path, &types.OpenParams{
			CreateFlags: types.CreateParallel | types.Create64BitOffset,
		}, state))

		probed, err := resolve.Probe(path)
		require.NoError(t, err)
		assert.Equal(t, types.ModelClassic64, probed)
		require.NoError(t, d.Close(state))
	})
}

func TestOpenRejectsEnhancedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.arr")
	enh, err := local.New(types.ModelEnhanced, nil)
	require.NoError(t, err)
	es := &dispatch.State{Handle: 1, Model: types.ModelEnhanced, Path: path, Writable: true}
	require.NoError(t, enh.Create(context.Background(), path, &types.OpenParams{}, es))
	require.NoError(t, enh.Close(es))

	d, err := New(nil)
	require.NoError(t, err)
	err = d.Open(context.Background(), path, &types.OpenParams{}, newState(path, false))
	assert.True(t, errors.IsCode(err, errors.ErrCodeFlagContradiction), "got %v", err)
}

func TestBasePEWritesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.arr")
	d, err := New(nil)
	require.NoError(t, err)

	state := newState(path, true)
	require.NoError(t, d.Create(context.Background(), path, &types.OpenParams{
		CreateFlags: types.CreateParallel,
		BasePE:      0,
	}, state))

	dim, err := d.DefDim(state, "n", 2)
	require.NoError(t, err)
	v, err := d.DefVar(state, "x", types.TypeInt32, []int{dim})
	require.NoError(t, err)
	require.NoError(t, d.PutVara(state, v, []int64{0}, []int64{2}, []int32{7, 8}))
	require.NoError(t, d.Close(state))

	// The base process flushed; a later open sees the data.
	reopened := newState(path, false)
	require.NoError(t, d.Open(context.Background(), path, &types.OpenParams{}, reopened))
	got, err := d.GetVara(reopened, v, []int64{0}, []int64{2})
	require.NoError(t, err)
	assert.Equal(t, []int32{7, 8}, got)
	require.NoError(t, d.Close(reopened))
}

func TestNonBasePEDropsReplicaOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.arr")
	d, err := New(nil)
	require.NoError(t, err)

	// Base process lays down the empty dataset.
	base := newState(path, true)
	require.NoError(t, d.Create(context.Background(), path, &types.OpenParams{
		CreateFlags: types.CreateParallel,
	}, base))
	require.NoError(t, d.Close(base))

	// A non-base process modifies its replica; sync is a no-op barrier and
	// close drops the replica without writing.
	worker := newState(path, true)
	require.NoError(t, d.Open(context.Background(), path, &types.OpenParams{
		OpenFlags: types.OpenWrite | types.OpenParallel,
		BasePE:    3,
	}, worker))
	_, err = d.DefDim(worker, "n", 4)
	require.NoError(t, err)
	require.NoError(t, d.Sync(worker))
	require.NoError(t, d.Close(worker))

	reopened := newState(path, false)
	require.NoError(t, d.Open(context.Background(), path, &types.OpenParams{}, reopened))
	_, err = d.InqDim(reopened, 0)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument), "got %v", err)
	require.NoError(t, d.Close(reopened))
}

func TestOperationsDelegate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.arr")
	d, err := New(nil)
	require.NoError(t, err)

	state := newState(path, true)
	require.NoError(t, d.Create(context.Background(), path, &types.OpenParams{
		CreateFlags: types.CreateParallel | types.Create64BitOffset,
	}, state))

	dim, err := d.DefDim(state, "n", 3)
	require.NoError(t, err)
	v, err := d.DefVar(state, "x", types.TypeInt64, []int{dim})
	require.NoError(t, err)
	require.NoError(t, d.PutAtt(state, v, "units", types.TypeChar, []byte("m")))

	info, err := d.InqVar(state, v)
	require.NoError(t, err)
	assert.Equal(t, types.TypeInt64, info.Type)

	att, err := d.InqAtt(state, v, "units")
	require.NoError(t, err)
	assert.Equal(t, 1, att.Len)

	st, vals, err := d.GetAtt(state, v, "units")
	require.NoError(t, err)
	assert.Equal(t, types.TypeChar, st)
	assert.Equal(t, []byte("m"), vals)
	require.NoError(t, d.Close(state))
}
