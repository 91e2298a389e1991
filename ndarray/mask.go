package ndarray

import "math"

// planeRange returns the element range [lo, hi) of plane p along axis 0.
func (a *Array) planeRange(p int) (int, int) {
	n := a.PlaneLen()
	return p * n, p*n + n
}

// MarkEqual sets mask[i] = true for every element of plane p (axis 0) equal to
// value. A value that has no exact representation in the array data type
// matches nothing. mask must hold Len() elements.
func (a *Array) MarkEqual(mask []bool, p int, value float64) {
	lo, hi := a.planeRange(p)
	switch a.DType {
	case Byte:
		if v, ok := exactInt(value, 0, math.MaxUint8); ok {
			markRange(a.Data, mask, lo, hi, byte(v))
		}
	case UInt16:
		if v, ok := exactInt(value, 0, math.MaxUint16); ok {
			markRange(view[uint16](a), mask, lo, hi, uint16(v))
		}
	case Int16:
		if v, ok := exactInt(value, math.MinInt16, math.MaxInt16); ok {
			markRange(view[int16](a), mask, lo, hi, int16(v))
		}
	case UInt32:
		if v, ok := exactInt(value, 0, math.MaxUint32); ok {
			markRange(view[uint32](a), mask, lo, hi, uint32(v))
		}
	case Int32:
		if v, ok := exactInt(value, math.MinInt32, math.MaxInt32); ok {
			markRange(view[int32](a), mask, lo, hi, int32(v))
		}
	case Float32:
		if v := float32(value); float64(v) == value {
			markRange(view[float32](a), mask, lo, hi, v)
		}
	case Float64:
		markRange(view[float64](a), mask, lo, hi, value)
	}
}

// PlaneEquals returns a plane-sized mask of the elements of plane p equal to
// value (same exact-representation rule as MarkEqual).
func (a *Array) PlaneEquals(p int, value float64) []bool {
	lo, hi := a.planeRange(p)
	out := make([]bool, hi-lo)
	switch a.DType {
	case Byte:
		if v, ok := exactInt(value, 0, math.MaxUint8); ok {
			eqRange(a.Data, out, lo, hi, byte(v))
		}
	case UInt16:
		if v, ok := exactInt(value, 0, math.MaxUint16); ok {
			eqRange(view[uint16](a), out, lo, hi, uint16(v))
		}
	case Int16:
		if v, ok := exactInt(value, math.MinInt16, math.MaxInt16); ok {
			eqRange(view[int16](a), out, lo, hi, int16(v))
		}
	case UInt32:
		if v, ok := exactInt(value, 0, math.MaxUint32); ok {
			eqRange(view[uint32](a), out, lo, hi, uint32(v))
		}
	case Int32:
		if v, ok := exactInt(value, math.MinInt32, math.MaxInt32); ok {
			eqRange(view[int32](a), out, lo, hi, int32(v))
		}
	case Float32:
		if v := float32(value); float64(v) == value {
			eqRange(view[float32](a), out, lo, hi, v)
		}
	case Float64:
		eqRange(view[float64](a), out, lo, hi, value)
	}
	return out
}

// exactInt reports whether v is an integer within [min, max], and returns it.
func exactInt(v, min, max float64) (int64, bool) {
	if v != math.Trunc(v) || v < min || v > max {
		return 0, false
	}
	return int64(v), true
}

func markRange[T comparable](data []T, mask []bool, lo, hi int, v T) {
	for i := lo; i < hi; i++ {
		if data[i] == v {
			mask[i] = true
		}
	}
}

func eqRange[T comparable](data []T, out []bool, lo, hi int, v T) {
	for i := lo; i < hi; i++ {
		if data[i] == v {
			out[i-lo] = true
		}
	}
}
