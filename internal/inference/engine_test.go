package inference

import (
	"errors"
	"math"
	"testing"

	"github.com/seglab/segpredict/internal/network"
	"github.com/seglab/segpredict/internal/tensor"
)

func TestNewSetsEvalMode(t *testing.T) {
	stub := network.NewStub(2)
	stub.SetTraining(true)
	New(stub)
	if stub.Training() {
		t.Error("engine construction left the network in training mode")
	}
}

func TestPredictConsistency(t *testing.T) {
	stub := network.NewStub(3)
	stub.Scores = func(input *tensor.Dense) (*tensor.Dense, error) {
		return tensor.NewDense([]int{3, 1, 2}, []float32{
			0.2, 5.0,
			3.0, 1.0,
			-1.0, 2.0,
		})
	}
	e := New(stub)

	pred, err := e.Predict(tensor.Zeros(1, 1, 2))
	if err != nil {
		t.Fatal(err)
	}

	probs, classes := pred.Probabilities, pred.Classes
	pixels := 2
	for p := 0; p < pixels; p++ {
		var sum float64
		best, bestV := 0, float32(-1)
		for c := 0; c < 3; c++ {
			v := probs.Data()[c*pixels+p]
			sum += float64(v)
			if v > bestV {
				best, bestV = c, v
			}
		}
		if math.Abs(sum-1.0) > 1e-5 {
			t.Errorf("pixel %d: probabilities sum to %f", p, sum)
		}
		if classes.Data()[p] != int64(best) {
			t.Errorf("pixel %d: prediction %d disagrees with probability argmax %d",
				p, classes.Data()[p], best)
		}
	}
	// Expected winners: pixel 0 class 1 (3.0), pixel 1 class 0 (5.0).
	if classes.Data()[0] != 1 || classes.Data()[1] != 0 {
		t.Errorf("classes = %v, want [1 0]", classes.Data())
	}
}

func TestPredictForwardErrorIsFatal(t *testing.T) {
	stub := network.NewStub(2)
	stub.Err = errors.New("device lost")
	e := New(stub)

	_, err := e.Predict(tensor.Zeros(1, 1, 1))
	if err == nil {
		t.Fatal("expected error")
	}
	if stub.CallCount != 1 {
		t.Errorf("forward called %d times, want 1 (no retry)", stub.CallCount)
	}
}
