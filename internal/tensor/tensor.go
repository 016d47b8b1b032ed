// Package tensor provides the small dense tensor types the pipeline moves
// between the dataset, the network, and the artifact writer.
//
// Layout is row-major ("C" order). Single-sample image tensors are CHW;
// label and prediction maps are HW.
package tensor

import (
	"fmt"
	"math"
)

// Dense is a dense float32 tensor.
type Dense struct {
	shape []int
	data  []float32
}

// NewDense creates a tensor with the given shape backed by data.
// The data slice is retained, not copied.
func NewDense(shape []int, data []float32) (*Dense, error) {
	n := numElements(shape)
	if n < 0 {
		return nil, fmt.Errorf("invalid shape %v", shape)
	}
	if len(data) != n {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Dense{shape: append([]int(nil), shape...), data: data}, nil
}

// Zeros creates a zero-filled tensor with the given shape.
func Zeros(shape ...int) *Dense {
	n := numElements(shape)
	if n < 0 {
		panic(fmt.Sprintf("invalid shape %v", shape))
	}
	return &Dense{shape: append([]int(nil), shape...), data: make([]float32, n)}
}

// Shape returns a copy of the tensor shape.
func (t *Dense) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Dims returns the number of dimensions.
func (t *Dense) Dims() int { return len(t.shape) }

// Dim returns the size of dimension i.
func (t *Dense) Dim(i int) int { return t.shape[i] }

// NumElements returns the total element count.
func (t *Dense) NumElements() int { return len(t.data) }

// Data returns the backing slice. Mutating it mutates the tensor.
func (t *Dense) Data() []float32 { return t.data }

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	data := make([]float32, len(t.data))
	copy(data, t.data)
	return &Dense{shape: append([]int(nil), t.shape...), data: data}
}

// SameShape reports whether t and o have identical shapes.
func (t *Dense) SameShape(o *Dense) bool {
	if len(t.shape) != len(o.shape) {
		return false
	}
	for i, d := range t.shape {
		if o.shape[i] != d {
			return false
		}
	}
	return true
}

// Ints is a dense int64 tensor, used for label and prediction maps.
type Ints struct {
	shape []int
	data  []int64
}

// NewInts creates an int64 tensor with the given shape backed by data.
func NewInts(shape []int, data []int64) (*Ints, error) {
	n := numElements(shape)
	if n < 0 {
		return nil, fmt.Errorf("invalid shape %v", shape)
	}
	if len(data) != n {
		return nil, fmt.Errorf("shape %v needs %d elements, got %d", shape, n, len(data))
	}
	return &Ints{shape: append([]int(nil), shape...), data: data}, nil
}

// ZerosInts creates a zero-filled int64 tensor.
func ZerosInts(shape ...int) *Ints {
	n := numElements(shape)
	if n < 0 {
		panic(fmt.Sprintf("invalid shape %v", shape))
	}
	return &Ints{shape: append([]int(nil), shape...), data: make([]int64, n)}
}

// Shape returns a copy of the tensor shape.
func (t *Ints) Shape() []int { return append([]int(nil), t.shape...) }

// Dims returns the number of dimensions.
func (t *Ints) Dims() int { return len(t.shape) }

// Dim returns the size of dimension i.
func (t *Ints) Dim(i int) int { return t.shape[i] }

// NumElements returns the total element count.
func (t *Ints) NumElements() int { return len(t.data) }

// Data returns the backing slice.
func (t *Ints) Data() []int64 { return t.data }

// Clone returns a deep copy.
func (t *Ints) Clone() *Ints {
	data := make([]int64, len(t.data))
	copy(data, t.data)
	return &Ints{shape: append([]int(nil), t.shape...), data: data}
}

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return -1
		}
		n *= d
	}
	return n
}

// Softmax normalizes t into a probability distribution along dim.
// Values are max-shifted before exponentiation for numerical stability.
func Softmax(t *Dense, dim int) *Dense {
	outer, size, inner := strides(t.shape, dim)
	out := Zeros(t.shape...)
	src, dst := t.data, out.data
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*size*inner + in
			maxV := src[base]
			for c := 1; c < size; c++ {
				if v := src[base+c*inner]; v > maxV {
					maxV = v
				}
			}
			var sum float64
			for c := 0; c < size; c++ {
				e := math.Exp(float64(src[base+c*inner] - maxV))
				dst[base+c*inner] = float32(e)
				sum += e
			}
			for c := 0; c < size; c++ {
				dst[base+c*inner] = float32(float64(dst[base+c*inner]) / sum)
			}
		}
	}
	return out
}

// Argmax returns the index of the maximum along dim, with that dimension
// removed from the result shape. Ties resolve to the lowest index.
func Argmax(t *Dense, dim int) *Ints {
	outer, size, inner := strides(t.shape, dim)
	shape := make([]int, 0, len(t.shape)-1)
	for i, d := range t.shape {
		if i != dim {
			shape = append(shape, d)
		}
	}
	if len(shape) == 0 {
		shape = []int{1}
	}
	out := ZerosInts(shape...)
	src := t.data
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			base := o*size*inner + in
			best, bestV := 0, src[base]
			for c := 1; c < size; c++ {
				if v := src[base+c*inner]; v > bestV {
					best, bestV = c, v
				}
			}
			out.data[o*inner+in] = int64(best)
		}
	}
	return out
}

// PermuteCHWToHWC reorders a 3-dimensional CHW tensor to HWC, the
// channel-last layout used by the result artifacts.
func PermuteCHWToHWC(t *Dense) (*Dense, error) {
	if t.Dims() != 3 {
		return nil, fmt.Errorf("expected 3 dimensions, got shape %v", t.shape)
	}
	c, h, w := t.shape[0], t.shape[1], t.shape[2]
	out := Zeros(h, w, c)
	for ci := 0; ci < c; ci++ {
		for hi := 0; hi < h; hi++ {
			for wi := 0; wi < w; wi++ {
				out.data[(hi*w+wi)*c+ci] = t.data[(ci*h+hi)*w+wi]
			}
		}
	}
	return out, nil
}

// strides splits shape around dim into (outer, size, inner) extents so an
// element at (o, c, i) lives at offset o*size*inner + c*inner + i.
func strides(shape []int, dim int) (outer, size, inner int) {
	if dim < 0 || dim >= len(shape) {
		panic(fmt.Sprintf("dimension %d out of range for shape %v", dim, shape))
	}
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner
}
