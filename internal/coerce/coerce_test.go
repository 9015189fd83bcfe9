package coerce

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

func TestCompatible(t *testing.T) {
	tests := []struct {
		name string
		from types.DataType
		to   types.DataType
		want bool
	}{
		{"identical numeric", types.TypeInt32, types.TypeInt32, true},
		{"widening", types.TypeInt16, types.TypeInt64, true},
		{"narrowing", types.TypeInt64, types.TypeByte, true},
		{"signed to unsigned", types.TypeInt32, types.TypeUInt32, true},
		{"float to int", types.TypeFloat64, types.TypeInt32, true},
		{"char to char", types.TypeChar, types.TypeChar, true},
		{"string to string", types.TypeString, types.TypeString, true},
		{"char to int", types.TypeChar, types.TypeInt32, false},
		{"int to char", types.TypeInt32, types.TypeChar, false},
		{"string to int", types.TypeString, types.TypeInt32, false},
		{"float to string", types.TypeFloat64, types.TypeString, false},
		{"invalid from", types.TypeNone, types.TypeInt32, false},
		{"native int to int64", types.TypeNativeInt, types.TypeInt64, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compatible(tt.from, tt.to))
		})
	}
}

func TestConvertLosslessWidening(t *testing.T) {
	got, err := Convert([]int16{-5, 0, 300}, types.TypeInt16, types.TypeInt64)
	require.NoError(t, err)
	assert.Equal(t, []int64{-5, 0, 300}, got)

	got, err = Convert([]uint8{0, 200, 255}, types.TypeUByte, types.TypeUInt32)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 200, 255}, got)

	got, err = Convert([]int32{7, -7}, types.TypeInt32, types.TypeFloat64)
	require.NoError(t, err)
	assert.Equal(t, []float64{7, -7}, got)
}

func TestConvertIdenticalPassThrough(t *testing.T) {
	src := []float32{1.5, 2.5}
	got, err := Convert(src, types.TypeFloat32, types.TypeFloat32)
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestConvertNarrowingInRange(t *testing.T) {
	got, err := Convert([]int64{-128, 0, 127}, types.TypeInt64, types.TypeByte)
	require.NoError(t, err)
	assert.Equal(t, []int8{-128, 0, 127}, got)

	got, err = Convert([]uint64{0, 65535}, types.TypeUInt64, types.TypeUInt16)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0, 65535}, got)
}

func TestConvertNarrowingOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		src  interface{}
		from types.DataType
		to   types.DataType
	}{
		{"int overflow", []int64{128}, types.TypeInt64, types.TypeByte},
		{"int underflow", []int32{-1}, types.TypeInt32, types.TypeUByte},
		{"uint overflow", []uint64{1 << 40}, types.TypeUInt64, types.TypeUInt32},
		{"negative to unsigned", []int16{-5}, types.TypeInt16, types.TypeUInt64},
		{"huge float to int32", []float64{1e12}, types.TypeFloat64, types.TypeInt32},
		{"negative float to uint", []float32{-1.5}, types.TypeFloat32, types.TypeUByte},
		{"nan to int", []float64{math.NaN()}, types.TypeFloat64, types.TypeInt64},
		{"float at 2^63 to int64", []float64{0x1p63}, types.TypeFloat64, types.TypeInt64},
		{"float at 2^64 to uint64", []float64{0x1p64}, types.TypeFloat64, types.TypeUInt64},
		{"float below -2^63 to int64", []float64{-0x1.0000000000001p63}, types.TypeFloat64, types.TypeInt64},
		{"float infinity to int64", []float64{math.Inf(1)}, types.TypeFloat64, types.TypeInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.src, tt.from, tt.to)
			assert.Nil(t, got)
			assert.True(t, errors.IsCode(err, errors.ErrCodeValueRange), "got %v", err)
		})
	}
}

func TestConvertFloatAtIntegerBoundaries(t *testing.T) {
	// -2^63 is exactly representable and is MinInt64.
	got, err := Convert([]float64{-0x1p63}, types.TypeFloat64, types.TypeInt64)
	require.NoError(t, err)
	assert.Equal(t, []int64{math.MinInt64}, got)

	// The largest float64 below 2^63 (2^63 - 2^10) still fits in int64.
	got, err = Convert([]float64{0x1.fffffffffffffp62}, types.TypeFloat64, types.TypeInt64)
	require.NoError(t, err)
	assert.Equal(t, []int64{9223372036854774784}, got)

	// Likewise the largest float64 below 2^64 for uint64.
	got, err = Convert([]float64{0x1.fffffffffffffp63}, types.TypeFloat64, types.TypeUInt64)
	require.NoError(t, err)
	assert.Equal(t, []uint64{18446744073709549568}, got)
}

func TestConvertFloatTruncatesTowardZero(t *testing.T) {
	got, err := Convert([]float64{3.9, -2.7, 0.4}, types.TypeFloat64, types.TypeInt32)
	require.NoError(t, err)
	assert.Equal(t, []int32{3, -2, 0}, got)
}

func TestConvertDisallowedPairs(t *testing.T) {
	tests := []struct {
		name string
		src  interface{}
		from types.DataType
		to   types.DataType
	}{
		{"string to int", []string{"a"}, types.TypeString, types.TypeInt32},
		{"int to string", []int32{1}, types.TypeInt32, types.TypeString},
		{"char to float", []byte{'x'}, types.TypeChar, types.TypeFloat64},
		{"float to char", []float64{1}, types.TypeFloat64, types.TypeChar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.src, tt.from, tt.to)
			assert.Nil(t, got)
			assert.True(t, errors.IsCode(err, errors.ErrCodeIncompatibleType), "got %v", err)
		})
	}
}

func TestConvertBufferMismatch(t *testing.T) {
	_, err := Convert([]int32{1}, types.TypeInt16, types.TypeInt64)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument), "got %v", err)

	_, err = Convert(nil, types.TypeInt32, types.TypeInt64)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidArgument), "got %v", err)
}

func TestConvertNativeInt(t *testing.T) {
	src := []int{1, 2, 3}

	t.Run("normalizes to fixed width", func(t *testing.T) {
		got, err := Convert(src, types.TypeNativeInt, types.TypeNativeInt)
		require.NoError(t, err)
		if strconv.IntSize == 64 {
			assert.Equal(t, []int64{1, 2, 3}, got)
		} else {
			assert.Equal(t, []int32{1, 2, 3}, got)
		}
	})

	t.Run("converts like its fixed-width kind", func(t *testing.T) {
		got, err := Convert(src, types.TypeNativeInt, types.TypeInt16)
		require.NoError(t, err)
		assert.Equal(t, []int16{1, 2, 3}, got)

		got, err = Convert(src, types.TypeNativeInt, types.TypeFloat64)
		require.NoError(t, err)
		assert.Equal(t, []float64{1, 2, 3}, got)
	})
}

func TestMakeSlice(t *testing.T) {
	assert.Equal(t, []int32{0, 0, 0}, MakeSlice(types.TypeInt32, 3))
	assert.Equal(t, []string{""}, MakeSlice(types.TypeString, 1))
	assert.Equal(t, []byte{}, MakeSlice(types.TypeChar, 0))
	assert.Nil(t, MakeSlice(types.TypeNone, 2))
}

func TestLength(t *testing.T) {
	assert.Equal(t, 3, Length([]float64{1, 2, 3}))
	assert.Equal(t, 2, Length([]int{4, 5}))
	assert.Equal(t, 0, Length([]string{}))
	assert.Equal(t, -1, Length("not a slice"))
}
