package network

import "github.com/seglab/segpredict/internal/tensor"

// DataParallel wraps a stateful network the way a multi-replica training
// shell does: behavior is unchanged, but every parameter name gains a
// "module." prefix. Checkpoints saved from inside such a shell carry the
// prefix, checkpoints saved from the bare network do not, which is why
// weight loading is attempted against both layouts.
type DataParallel struct {
	inner Stateful
}

// ParallelPrefix is the name prefix the shell adds to every parameter.
const ParallelPrefix = "module."

// Parallel wraps net in a data-parallel shell.
func Parallel(net Stateful) *DataParallel {
	return &DataParallel{inner: net}
}

// Unwrap returns the bare network.
func (d *DataParallel) Unwrap() Stateful { return d.inner }

// Forward delegates to the wrapped network.
func (d *DataParallel) Forward(input *tensor.Dense) (*tensor.Dense, error) {
	return d.inner.Forward(input)
}

// Close delegates to the wrapped network.
func (d *DataParallel) Close() error { return d.inner.Close() }

// NamedParameters returns the wrapped network's parameters with the shell
// prefix applied. The tensors themselves are shared, so loading through
// the wrapper loads the underlying network.
func (d *DataParallel) NamedParameters() map[string]*tensor.Dense {
	inner := d.inner.NamedParameters()
	out := make(map[string]*tensor.Dense, len(inner))
	for name, p := range inner {
		out[ParallelPrefix+name] = p
	}
	return out
}

// SetTraining delegates if the wrapped network supports training mode.
func (d *DataParallel) SetTraining(training bool) {
	if t, ok := d.inner.(Trainable); ok {
		t.SetTraining(training)
	}
}

var _ Stateful = (*DataParallel)(nil)
