package network

import (
	"fmt"
	"math/rand"

	"github.com/seglab/segpredict/internal/parallel"
	"github.com/seglab/segpredict/internal/tensor"
)

func init() {
	Register("convseg", func(cfg Config) (Network, error) {
		return NewConvSeg(cfg.Channels, cfg.Hidden, cfg.Classes)
	})
}

// ConvSeg is a small native segmentation head: two 1x1 convolutions with a
// ReLU between them, applied independently at every pixel. Weights are
// zero-initialized and expected to come from a checkpoint.
type ConvSeg struct {
	in, hidden, classes int

	w1, b1 *tensor.Dense // conv1: [hidden, in], [hidden]
	w2, b2 *tensor.Dense // conv2: [classes, hidden], [classes]

	training bool
	dropout  float32
	rng      *rand.Rand
}

// NewConvSeg creates a ConvSeg with the given channel sizes.
func NewConvSeg(in, hidden, classes int) (*ConvSeg, error) {
	if in <= 0 || hidden <= 0 || classes <= 0 {
		return nil, fmt.Errorf("invalid convseg sizes: in=%d hidden=%d classes=%d", in, hidden, classes)
	}
	return &ConvSeg{
		in:      in,
		hidden:  hidden,
		classes: classes,
		w1:      tensor.Zeros(hidden, in),
		b1:      tensor.Zeros(hidden),
		w2:      tensor.Zeros(classes, hidden),
		b2:      tensor.Zeros(classes),
		dropout: 0.1,
		rng:     rand.New(rand.NewSource(1)),
	}, nil
}

// NamedParameters exposes the weight tensors for checkpoint loading.
func (n *ConvSeg) NamedParameters() map[string]*tensor.Dense {
	return map[string]*tensor.Dense{
		"conv1.weight": n.w1,
		"conv1.bias":   n.b1,
		"conv2.weight": n.w2,
		"conv2.bias":   n.b2,
	}
}

// SetTraining toggles training mode. In evaluation mode dropout is inert
// and the forward pass is deterministic.
func (n *ConvSeg) SetTraining(training bool) { n.training = training }

// Forward maps a [in, H, W] input to [classes, H, W] raw scores.
func (n *ConvSeg) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	if input.Dims() != 3 || input.Dim(0) != n.in {
		return nil, fmt.Errorf("convseg expects [%d, H, W] input, got shape %v", n.in, input.Shape())
	}
	h, w := input.Dim(1), input.Dim(2)
	pixels := h * w
	out := tensor.Zeros(n.classes, h, w)

	src := input.Data()
	dst := out.Data()
	w1, b1 := n.w1.Data(), n.b1.Data()
	w2, b2 := n.w2.Data(), n.b2.Data()

	var mask []bool
	if n.training && n.dropout > 0 {
		mask = make([]bool, n.hidden)
		for i := range mask {
			mask[i] = n.rng.Float32() < n.dropout
		}
	}

	parallel.For(pixels, func(p int) {
		hid := make([]float32, n.hidden)
		for j := 0; j < n.hidden; j++ {
			acc := b1[j]
			row := w1[j*n.in:]
			for c := 0; c < n.in; c++ {
				acc += row[c] * src[c*pixels+p]
			}
			if acc < 0 {
				acc = 0
			}
			if mask != nil && mask[j] {
				acc = 0
			}
			hid[j] = acc
		}
		for k := 0; k < n.classes; k++ {
			acc := b2[k]
			row := w2[k*n.hidden:]
			for j := 0; j < n.hidden; j++ {
				acc += row[j] * hid[j]
			}
			dst[k*pixels+p] = acc
		}
	}, parallel.DefaultConfig())

	return out, nil
}

// Close releases nothing; ConvSeg holds only Go memory.
func (n *ConvSeg) Close() error { return nil }

var (
	_ Stateful  = (*ConvSeg)(nil)
	_ Trainable = (*ConvSeg)(nil)
)
