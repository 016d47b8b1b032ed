// Package inference runs the network over single samples and normalizes
// raw scores into probability distributions.
package inference

import (
	"fmt"

	"github.com/seglab/segpredict/internal/network"
	"github.com/seglab/segpredict/internal/tensor"
)

// Prediction is one sample's normalized output.
type Prediction struct {
	// Probabilities is the softmax over the class dimension, CHW.
	Probabilities *tensor.Dense
	// Classes is the argmax over the same raw scores, HW. It is derived
	// from the identical forward output as Probabilities, so the two are
	// always mutually consistent.
	Classes *tensor.Ints
}

// Engine executes a network in evaluation mode. The forward pass keeps no
// per-call state, so memory use stays flat across an arbitrarily long run.
type Engine struct {
	net network.Network
}

// New creates an engine and switches the network into evaluation mode,
// disabling training-only behaviors such as stochastic regularization.
func New(net network.Network) *Engine {
	if t, ok := net.(network.Trainable); ok {
		t.SetTraining(false)
	}
	return &Engine{net: net}
}

// Predict runs one CHW sample through the network. A failed forward pass
// is not retried: inference is deterministic given fixed weights and
// input, so an identical call cannot succeed where the first failed.
func (e *Engine) Predict(input *tensor.Dense) (Prediction, error) {
	raw, err := e.net.Forward(input)
	if err != nil {
		return Prediction{}, fmt.Errorf("forward pass: %w", err)
	}
	if raw.Dims() < 1 {
		return Prediction{}, fmt.Errorf("network returned an empty score tensor")
	}
	return Prediction{
		Probabilities: tensor.Softmax(raw, 0),
		Classes:       tensor.Argmax(raw, 0),
	}, nil
}
