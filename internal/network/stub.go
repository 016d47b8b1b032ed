package network

import (
	"fmt"

	"github.com/seglab/segpredict/internal/tensor"
)

func init() {
	Register("stub", func(cfg Config) (Network, error) {
		return NewStub(cfg.Classes), nil
	})
}

// Stub is a deterministic fake network for tests and dry runs. By default
// every pixel scores class (index mod classes) highest.
type Stub struct {
	// Scores, when set, overrides the default forward pass.
	Scores func(input *tensor.Dense) (*tensor.Dense, error)
	// Err, when set, is returned from every Forward call.
	Err error
	// CallCount tracks Forward invocations.
	CallCount int

	classes  int
	training bool
}

// NewStub creates a stub emitting scores over the given class count.
func NewStub(classes int) *Stub {
	if classes <= 0 {
		classes = 2
	}
	return &Stub{classes: classes}
}

// Forward returns configured or synthetic raw scores shaped like the input
// spatial grid with s.classes channels.
func (s *Stub) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	s.CallCount++
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Scores != nil {
		return s.Scores(input)
	}
	if input.Dims() != 3 {
		return nil, fmt.Errorf("stub expects a CHW input, got shape %v", input.Shape())
	}
	h, w := input.Dim(1), input.Dim(2)
	out := tensor.Zeros(s.classes, h, w)
	pixels := h * w
	for p := 0; p < pixels; p++ {
		out.Data()[(p%s.classes)*pixels+p] = 1
	}
	return out, nil
}

// SetTraining records the requested mode.
func (s *Stub) SetTraining(training bool) { s.training = training }

// Training reports the last mode set, for asserting eval-mode setup.
func (s *Stub) Training() bool { return s.training }

// Close is a no-op.
func (s *Stub) Close() error { return nil }

var (
	_ Network   = (*Stub)(nil)
	_ Trainable = (*Stub)(nil)
)
