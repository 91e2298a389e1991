package ndarray

import "fmt"

// NormAxis resolves a possibly-negative axis position against ndim.
func NormAxis(axis, ndim int) (int, error) {
	a := axis
	if a < 0 {
		a += ndim
	}
	if a < 0 || a >= ndim {
		return 0, fmt.Errorf("NormAxis: axis %d out of bounds for %d dimensions", axis, ndim)
	}
	return a, nil
}

// Moveaxis returns a copy of a with the axis at position src moved to position
// dst, the remaining axes keeping their relative order. Negative positions
// count from the last axis.
func Moveaxis(a *Array, src, dst int) (*Array, error) {
	n := a.NDim()
	s, err := NormAxis(src, n)
	if err != nil {
		return nil, fmt.Errorf("Moveaxis.%w", err)
	}
	d, err := NormAxis(dst, n)
	if err != nil {
		return nil, fmt.Errorf("Moveaxis.%w", err)
	}
	if s == d {
		return a.Clone(), nil
	}

	perm := axisPerm(n, s, d)
	outShape := make([]int, n)
	for i, p := range perm {
		outShape[i] = a.Shape[p]
	}

	es := a.DType.Size()
	out := make([]byte, len(a.Data))
	permuted(a.Shape, perm, func(dstIdx, srcIdx int) {
		copy(out[dstIdx*es:(dstIdx+1)*es], a.Data[srcIdx*es:srcIdx*es+es])
	})
	return &Array{DType: a.DType, Shape: outShape, Data: out}, nil
}

// MoveaxisBools permutes a boolean mask of the given shape exactly as Moveaxis
// permutes the array it belongs to.
func MoveaxisBools(mask []bool, shape []int, src, dst int) ([]bool, error) {
	n := len(shape)
	s, err := NormAxis(src, n)
	if err != nil {
		return nil, fmt.Errorf("MoveaxisBools.%w", err)
	}
	d, err := NormAxis(dst, n)
	if err != nil {
		return nil, fmt.Errorf("MoveaxisBools.%w", err)
	}
	if s == d {
		out := make([]bool, len(mask))
		copy(out, mask)
		return out, nil
	}

	out := make([]bool, len(mask))
	permuted(shape, axisPerm(n, s, d), func(dstIdx, srcIdx int) {
		out[dstIdx] = mask[srcIdx]
	})
	return out, nil
}

// axisPerm builds the axis permutation of a move from src to dst: output axis
// i reads input axis perm[i].
func axisPerm(n, src, dst int) []int {
	perm := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if i != src {
			perm = append(perm, i)
		}
	}
	perm = append(perm[:dst], append([]int{src}, perm[dst:]...)...)
	return perm
}

// permuted walks the permuted layout in C order, emitting for every output
// element index the input element index it reads.
func permuted(srcShape []int, perm []int, emit func(dstIdx, srcIdx int)) {
	n := len(srcShape)
	srcStrides := make([]int, n)
	stride := 1
	for i := n - 1; i >= 0; i-- {
		srcStrides[i] = stride
		stride *= srcShape[i]
	}

	outShape := make([]int, n)
	outStrides := make([]int, n) // stride of each output axis, in input elements
	for i, p := range perm {
		outShape[i] = srcShape[p]
		outStrides[i] = srcStrides[p]
	}

	total := 1
	for _, s := range srcShape {
		total *= s
	}

	idx := make([]int, n)
	srcIdx := 0
	for dstIdx := 0; dstIdx < total; dstIdx++ {
		emit(dstIdx, srcIdx)
		for ax := n - 1; ax >= 0; ax-- {
			idx[ax]++
			srcIdx += outStrides[ax]
			if idx[ax] < outShape[ax] {
				break
			}
			idx[ax] = 0
			srcIdx -= outStrides[ax] * outShape[ax]
		}
	}
}
