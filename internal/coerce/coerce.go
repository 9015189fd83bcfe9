// Package coerce implements the type-coercion contract bridging a caller's
// in-memory element type and a backend's storage element type.
//
// Every ordered (storage, memory) type pair is either identical (pass
// through), a defined numeric conversion, or disallowed. Defined conversions
// never silently truncate: an integer narrowing that would lose information
// fails with VALUE_RANGE instead of wrapping or saturating. The two
// documented lossy-but-defined conversions are floating-to-integer
// truncation toward zero and rounding when a value enters a floating-point
// representation.
package coerce

import (
	"math"

	"github.com/arraystore/arraystore/pkg/errors"
	"github.com/arraystore/arraystore/pkg/types"
)

// Compatible reports whether the ordered (from, to) pair is a legal
// conversion. Numeric kinds convert among each other (subject to per-element
// range checks); char and string only pass through to themselves.
func Compatible(from, to types.DataType) bool {
	from, to = from.Normalize(), to.Normalize()
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	return from.IsNumeric() && to.IsNumeric()
}

// Convert converts src, a slice whose element type corresponds to from, into
// a freshly allocated slice of to's element type. Identical pairs pass the
// source through unchanged (after normalizing a platform-native []int buffer
// to its fixed-width equivalent). Disallowed pairs fail with
// INCOMPATIBLE_TYPE and produce nothing.
func Convert(src interface{}, from, to types.DataType) (interface{}, error) {
	from, to = from.Normalize(), to.Normalize()
	if src == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidArgument, "nil value buffer")
	}
	if !Compatible(from, to) {
		return nil, errors.Newf(errors.ErrCodeIncompatibleType,
			"no conversion from %s to %s", from, to)
	}
	if !bufferMatches(src, from) {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument,
			"value buffer type %T does not match memory type %s", src, from)
	}

	c, err := widen(src, from)
	if err != nil {
		return nil, err
	}

	if from == to {
		// Pass through, except that a native []int buffer is rewritten to the
		// fixed-width kind the backend expects.
		if _, isNative := src.([]int); !isNative {
			return src, nil
		}
	}

	switch to {
	case types.TypeByte:
		return narrowInt[int8](c, math.MinInt8, math.MaxInt8)
	case types.TypeUByte:
		return narrowUint[uint8](c, math.MaxUint8)
	case types.TypeInt16:
		return narrowInt[int16](c, math.MinInt16, math.MaxInt16)
	case types.TypeUInt16:
		return narrowUint[uint16](c, math.MaxUint16)
	case types.TypeInt32:
		return narrowInt[int32](c, math.MinInt32, math.MaxInt32)
	case types.TypeUInt32:
		return narrowUint[uint32](c, math.MaxUint32)
	case types.TypeInt64:
		return narrowInt[int64](c, math.MinInt64, math.MaxInt64)
	case types.TypeUInt64:
		return narrowUint[uint64](c, math.MaxUint64)
	case types.TypeFloat32:
		return toFloat32(c), nil
	case types.TypeFloat64:
		return toFloat64(c), nil
	case types.TypeChar:
		return src, nil
	case types.TypeString:
		return src, nil
	default:
		return nil, errors.Newf(errors.ErrCodeIncompatibleType, "unsupported target type %s", to)
	}
}

// MakeSlice allocates a zeroed slice of the Go element type backing t.
func MakeSlice(t types.DataType, n int) interface{} {
	switch t.Normalize() {
	case types.TypeByte:
		return make([]int8, n)
	case types.TypeUByte:
		return make([]uint8, n)
	case types.TypeInt16:
		return make([]int16, n)
	case types.TypeUInt16:
		return make([]uint16, n)
	case types.TypeInt32:
		return make([]int32, n)
	case types.TypeUInt32:
		return make([]uint32, n)
	case types.TypeInt64:
		return make([]int64, n)
	case types.TypeUInt64:
		return make([]uint64, n)
	case types.TypeFloat32:
		return make([]float32, n)
	case types.TypeFloat64:
		return make([]float64, n)
	case types.TypeChar:
		return make([]byte, n)
	case types.TypeString:
		return make([]string, n)
	default:
		return nil
	}
}

// Length returns the element count of a value buffer produced or accepted by
// this package, or -1 if the buffer is not a recognized slice kind.
func Length(src interface{}) int {
	switch s := src.(type) {
	case []int8:
		return len(s)
	case []uint8:
		return len(s)
	case []int16:
		return len(s)
	case []uint16:
		return len(s)
	case []int32:
		return len(s)
	case []uint32:
		return len(s)
	case []int64:
		return len(s)
	case []uint64:
		return len(s)
	case []int:
		return len(s)
	case []float32:
		return len(s)
	case []float64:
		return len(s)
	case []string:
		return len(s)
	default:
		return -1
	}
}

// bufferMatches reports whether src's dynamic type is the Go slice type
// backing the (already normalized) memory type. A platform-native []int
// buffer is accepted for the fixed-width kind it normalizes to.
func bufferMatches(src interface{}, from types.DataType) bool {
	switch from {
	case types.TypeByte:
		_, ok := src.([]int8)
		return ok
	case types.TypeUByte:
		_, ok := src.([]uint8)
		return ok
	case types.TypeInt16:
		_, ok := src.([]int16)
		return ok
	case types.TypeUInt16:
		_, ok := src.([]uint16)
		return ok
	case types.TypeInt32:
		if _, ok := src.([]int32); ok {
			return ok
		}
		_, ok := src.([]int)
		return ok && types.TypeNativeInt.Normalize() == types.TypeInt32
	case types.TypeUInt32:
		_, ok := src.([]uint32)
		return ok
	case types.TypeInt64:
		if _, ok := src.([]int64); ok {
			return ok
		}
		_, ok := src.([]int)
		return ok && types.TypeNativeInt.Normalize() == types.TypeInt64
	case types.TypeUInt64:
		_, ok := src.([]uint64)
		return ok
	case types.TypeFloat32:
		_, ok := src.([]float32)
		return ok
	case types.TypeFloat64:
		_, ok := src.([]float64)
		return ok
	case types.TypeChar:
		_, ok := src.([]byte)
		return ok
	case types.TypeString:
		_, ok := src.([]string)
		return ok
	default:
		return false
	}
}

type kindClass int

const (
	kindInt kindClass = iota
	kindUint
	kindFloat
	kindOther
)

// canon is the canonical widened form of a numeric buffer. Signed integers
// widen to int64, unsigned to uint64, floats to float64; all three widenings
// are exact.
type canon struct {
	kind kindClass
	i    []int64
	u    []uint64
	f    []float64
	n    int
}

func widen(src interface{}, from types.DataType) (*canon, error) {
	c := &canon{}
	switch s := src.(type) {
	case []int8:
		c.kind, c.n = kindInt, len(s)
		c.i = make([]int64, len(s))
		for i, v := range s {
			c.i[i] = int64(v)
		}
	case []int16:
		c.kind, c.n = kindInt, len(s)
		c.i = make([]int64, len(s))
		for i, v := range s {
			c.i[i] = int64(v)
		}
	case []int32:
		c.kind, c.n = kindInt, len(s)
		c.i = make([]int64, len(s))
		for i, v := range s {
			c.i[i] = int64(v)
		}
	case []int64:
		c.kind, c.n = kindInt, len(s)
		c.i = s
	case []int:
		c.kind, c.n = kindInt, len(s)
		c.i = make([]int64, len(s))
		for i, v := range s {
			c.i[i] = int64(v)
		}
	case []uint8:
		c.kind, c.n = kindUint, len(s)
		c.u = make([]uint64, len(s))
		for i, v := range s {
			c.u[i] = uint64(v)
		}
	case []uint16:
		c.kind, c.n = kindUint, len(s)
		c.u = make([]uint64, len(s))
		for i, v := range s {
			c.u[i] = uint64(v)
		}
	case []uint32:
		c.kind, c.n = kindUint, len(s)
		c.u = make([]uint64, len(s))
		for i, v := range s {
			c.u[i] = uint64(v)
		}
	case []uint64:
		c.kind, c.n = kindUint, len(s)
		c.u = s
	case []float32:
		c.kind, c.n = kindFloat, len(s)
		c.f = make([]float64, len(s))
		for i, v := range s {
			c.f[i] = float64(v)
		}
	case []float64:
		c.kind, c.n = kindFloat, len(s)
		c.f = s
	case []string:
		if from != types.TypeString {
			return nil, errors.Newf(errors.ErrCodeInvalidArgument,
				"buffer type []string does not match memory type %s", from)
		}
		c.kind, c.n = kindOther, len(s)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidArgument,
			"unsupported value buffer type %T for memory type %s", src, from)
	}

	// []uint8 doubles as the char buffer; everything else must agree with the
	// declared memory type's kind.
	if from == types.TypeChar && c.kind != kindUint {
		return nil, errors.Newf(errors.ErrCodeInvalidArgument,
			"buffer type %T does not match memory type char", src)
	}
	return c, nil
}

type intTarget interface {
	~int8 | ~int16 | ~int32 | ~int64
}

type uintTarget interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

func narrowInt[D intTarget](c *canon, lo, hi int64) ([]D, error) {
	// Float comparisons need an exclusive upper bound: hi+1 is a power of two
	// for every target, so it is exact in float64, while float64(hi) itself
	// rounds up to 2^63 for MaxInt64 and would let that value wrap through.
	hiExcl := 2 * (float64(hi/2) + 1)
	out := make([]D, c.n)
	for i := 0; i < c.n; i++ {
		switch c.kind {
		case kindInt:
			v := c.i[i]
			if v < lo || v > hi {
				return nil, rangeError(float64(v))
			}
			out[i] = D(v)
		case kindUint:
			u := c.u[i]
			if u > uint64(hi) {
				return nil, rangeError(float64(u))
			}
			out[i] = D(u)
		case kindFloat:
			// Truncation toward zero is the documented lossy conversion.
			f := math.Trunc(c.f[i])
			if math.IsNaN(f) || f < float64(lo) || f >= hiExcl {
				return nil, rangeError(c.f[i])
			}
			out[i] = D(f)
		}
	}
	return out, nil
}

func narrowUint[D uintTarget](c *canon, hi uint64) ([]D, error) {
	// Exact exclusive bound, as in narrowInt: float64(MaxUint64) rounds up to
	// 2^64, hi+1 computed this way does not overflow.
	hiExcl := 2 * (float64(hi/2) + 1)
	out := make([]D, c.n)
	for i := 0; i < c.n; i++ {
		switch c.kind {
		case kindInt:
			v := c.i[i]
			if v < 0 || uint64(v) > hi {
				return nil, rangeError(float64(v))
			}
			out[i] = D(v)
		case kindUint:
			u := c.u[i]
			if u > hi {
				return nil, rangeError(float64(u))
			}
			out[i] = D(u)
		case kindFloat:
			f := math.Trunc(c.f[i])
			if math.IsNaN(f) || f < 0 || f >= hiExcl {
				return nil, rangeError(c.f[i])
			}
			out[i] = D(f)
		}
	}
	return out, nil
}

func toFloat32(c *canon) []float32 {
	out := make([]float32, c.n)
	for i := 0; i < c.n; i++ {
		switch c.kind {
		case kindInt:
			out[i] = float32(c.i[i])
		case kindUint:
			out[i] = float32(c.u[i])
		case kindFloat:
			out[i] = float32(c.f[i])
		}
	}
	return out
}

func toFloat64(c *canon) []float64 {
	out := make([]float64, c.n)
	for i := 0; i < c.n; i++ {
		switch c.kind {
		case kindInt:
			out[i] = float64(c.i[i])
		case kindUint:
			out[i] = float64(c.u[i])
		case kindFloat:
			out[i] = c.f[i]
		}
	}
	return out
}

func rangeError(v float64) error {
	return errors.Newf(errors.ErrCodeValueRange, "value %g out of range for target type", v)
}
