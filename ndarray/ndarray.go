// Package ndarray implements dense multi-dimensional arrays over the raw byte
// buffers the rasterization service serializes: C-order, little-endian, one of
// the GDAL pixel data types. It provides the shape arithmetic, axis moves and
// sentinel masking the scenes package needs, without pulling a numerics stack
// into a client SDK.
package ndarray

import (
	"fmt"
	"math"
	"unsafe"
)

// DType is a pixel data type, named after the GDAL convention used on the wire.
type DType string

const (
	Byte    DType = "Byte"
	UInt16  DType = "UInt16"
	Int16   DType = "Int16"
	UInt32  DType = "UInt32"
	Int32   DType = "Int32"
	Float32 DType = "Float32"
	Float64 DType = "Float64"
)

// ParseDType returns the DType named by s.
func ParseDType(s string) (DType, error) {
	dt := DType(s)
	if dt.Size() == 0 {
		return "", fmt.Errorf("ParseDType: unknown data type %q", s)
	}
	return dt, nil
}

// Size returns the size of one element in bytes (0 for an unknown type).
func (dt DType) Size() int {
	switch dt {
	case Byte:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (dt DType) String() string { return string(dt) }

// Array is a dense n-dimensional array. Data holds Len() elements of DType in
// C order (last axis varies fastest).
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

// New allocates a zeroed array of the given shape.
func New(dt DType, shape ...int) (*Array, error) {
	n, err := checkShape(dt, shape)
	if err != nil {
		return nil, fmt.Errorf("New.%w", err)
	}
	return &Array{DType: dt, Shape: shape, Data: make([]byte, n*dt.Size())}, nil
}

// FromBytes wraps data, which must hold exactly the number of bytes the shape
// requires. The buffer is not copied.
func FromBytes(dt DType, shape []int, data []byte) (*Array, error) {
	n, err := checkShape(dt, shape)
	if err != nil {
		return nil, fmt.Errorf("FromBytes.%w", err)
	}
	if len(data) != n*dt.Size() {
		return nil, fmt.Errorf("FromBytes: %d bytes for shape %v of %s (want %d)", len(data), shape, dt, n*dt.Size())
	}
	return &Array{DType: dt, Shape: shape, Data: data}, nil
}

func checkShape(dt DType, shape []int) (int, error) {
	if dt.Size() == 0 {
		return 0, fmt.Errorf("checkShape: unknown data type %q", dt)
	}
	if len(shape) == 0 {
		return 0, fmt.Errorf("checkShape: empty shape")
	}
	n := 1
	for _, s := range shape {
		if s < 0 {
			return 0, fmt.Errorf("checkShape: negative dimension in %v", shape)
		}
		n *= s
	}
	return n, nil
}

// Len returns the number of elements.
func (a *Array) Len() int {
	n := 1
	for _, s := range a.Shape {
		n *= s
	}
	return n
}

// NDim returns the number of axes.
func (a *Array) NDim() int { return len(a.Shape) }

// PlaneLen returns the number of elements in one plane along axis 0.
func (a *Array) PlaneLen() int {
	n := 1
	for _, s := range a.Shape[1:] {
		n *= s
	}
	return n
}

// Reshape returns a view of the same buffer with a new shape holding the same
// number of elements.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	n, err := checkShape(a.DType, shape)
	if err != nil {
		return nil, fmt.Errorf("Reshape.%w", err)
	}
	if n != a.Len() {
		return nil, fmt.Errorf("Reshape: cannot reshape %v into %v", a.Shape, shape)
	}
	return &Array{DType: a.DType, Shape: shape, Data: a.Data}, nil
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	shape := make([]int, len(a.Shape))
	copy(shape, a.Shape)
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	return &Array{DType: a.DType, Shape: shape, Data: data}
}

// view reinterprets the whole buffer as a slice of T. Data is always a single
// allocation, never an offset into a larger buffer, so the cast is aligned.
func view[T any](a *Array) []T {
	n := a.Len()
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&a.Data[0])), n)
}

// Float returns element i converted to float64.
func (a *Array) Float(i int) float64 {
	switch a.DType {
	case Byte:
		return float64(a.Data[i])
	case UInt16:
		return float64(view[uint16](a)[i])
	case Int16:
		return float64(view[int16](a)[i])
	case UInt32:
		return float64(view[uint32](a)[i])
	case Int32:
		return float64(view[int32](a)[i])
	case Float32:
		return float64(view[float32](a)[i])
	case Float64:
		return view[float64](a)[i]
	}
	return math.NaN()
}

// SetFloat stores v into element i, truncating to the array data type.
func (a *Array) SetFloat(i int, v float64) {
	switch a.DType {
	case Byte:
		a.Data[i] = byte(v)
	case UInt16:
		view[uint16](a)[i] = uint16(v)
	case Int16:
		view[int16](a)[i] = int16(v)
	case UInt32:
		view[uint32](a)[i] = uint32(v)
	case Int32:
		view[int32](a)[i] = int32(v)
	case Float32:
		view[float32](a)[i] = float32(v)
	case Float64:
		view[float64](a)[i] = v
	}
}

// MaskedArray pairs an array with an element-wise validity mask.
// A nil Mask means every element is valid; otherwise len(Mask) == Len() and
// true marks an invalid (nodata or transparent) element.
type MaskedArray struct {
	*Array
	Mask []bool
}

// EnsureMask allocates the all-valid mask if the array has none yet.
func (m *MaskedArray) EnsureMask() []bool {
	if m.Mask == nil {
		m.Mask = make([]bool, m.Len())
	}
	return m.Mask
}
