// Package network defines the model abstraction the pipeline runs, plus the
// static registry that maps configuration identifiers to constructors.
package network

import (
	"fmt"
	"sort"

	"github.com/seglab/segpredict/internal/tensor"
)

// Network is an opaque model with a forward pass. Inputs are single-sample
// CHW tensors; outputs are raw per-class scores with the class dimension
// first.
type Network interface {
	Forward(input *tensor.Dense) (*tensor.Dense, error)
	Close() error
}

// Stateful is implemented by networks whose weights live in named, mutable
// parameter tensors loadable from a checkpoint.
type Stateful interface {
	Network

	// NamedParameters returns the parameter tensors keyed by name.
	// Writing into a returned tensor updates the network.
	NamedParameters() map[string]*tensor.Dense
}

// Trainable is implemented by networks with training-only behaviors such as
// stochastic regularization. The inference engine switches these off once
// at construction.
type Trainable interface {
	SetTraining(training bool)
}

// Config carries the shape and location parameters a factory needs.
type Config struct {
	Classes  int
	Channels int
	Height   int
	Width    int
	Hidden   int

	// ModelPath locates a self-contained model file for backends that do
	// not load weights from a separate checkpoint (e.g. ONNX).
	ModelPath string
	Device    string
}

// Factory constructs a network from a resolved configuration.
type Factory func(cfg Config) (Network, error)

var registry = map[string]Factory{}

// Register adds a factory under a configuration identifier. Registration
// happens at package init time; duplicate names are a programming error.
func Register(name string, f Factory) {
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("network %q registered twice", name))
	}
	registry[name] = f
}

// Build constructs the network registered under name.
func Build(name string, cfg Config) (Network, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown network %q (known: %v)", name, Names())
	}
	return f(cfg)
}

// Names returns the registered identifiers in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
