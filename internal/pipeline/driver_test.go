package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/seglab/segpredict/internal/artifact"
	"github.com/seglab/segpredict/internal/checkpoint"
	"github.com/seglab/segpredict/internal/container"
	"github.com/seglab/segpredict/internal/dataset"
	"github.com/seglab/segpredict/internal/network"
	"github.com/seglab/segpredict/internal/tensor"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryDataset(n int) *dataset.Memory {
	ds := &dataset.Memory{}
	for i := 0; i < n; i++ {
		input, _ := tensor.NewDense([]int{1, 1, 1}, []float32{float32(i)})
		label, _ := tensor.NewInts([]int{1, 1}, []int64{int64(i % 2)})
		ds.Samples = append(ds.Samples, dataset.Sample{
			Input: input,
			Label: label,
			Path:  fmt.Sprintf("/data/img%04d.png", i),
		})
	}
	return ds
}

func newDriver(t *testing.T, net network.Network, dir string) *Driver {
	t.Helper()
	w, err := artifact.NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	return New(net, w, Options{Log: quietLog(), RunID: "test-run"})
}

// twoClassNet returns a fixed two-class score per sample.
func twoClassNet() *network.Stub {
	stub := network.NewStub(2)
	stub.Scores = func(input *tensor.Dense) (*tensor.Dense, error) {
		return tensor.NewDense([]int{2, 1, 1}, []float32{1.0, 3.0})
	}
	return stub
}

func TestRunIdentityEndToEnd(t *testing.T) {
	dir := t.TempDir()
	ds := memoryDataset(3)
	d := newDriver(t, twoClassNet(), dir)

	if err := d.Run(context.Background(), ds, dataset.Selection{Policy: dataset.Identity}); err != nil {
		t.Fatal(err)
	}

	for idx := 0; idx < 3; idx++ {
		path := filepath.Join(dir, artifact.FileName(idx))
		f, err := container.Read(path)
		if err != nil {
			t.Fatalf("artifact %d: %v", idx, err)
		}

		probs, err := f.Float32("probabilities")
		if err != nil {
			t.Fatal(err)
		}
		// HWC, 2 channels, summing to 1 along the channel axis.
		if probs.Dim(2) != 2 {
			t.Fatalf("artifact %d: %d channels, want 2", idx, probs.Dim(2))
		}
		sum := float64(probs.Data()[0] + probs.Data()[1])
		if math.Abs(sum-1.0) > 1e-5 {
			t.Errorf("artifact %d: probabilities sum to %f", idx, sum)
		}

		pred, err := f.Int64("prediction")
		if err != nil {
			t.Fatal(err)
		}
		if v := pred.Data()[0]; v != 0 && v != 1 {
			t.Errorf("artifact %d: prediction %d outside {0,1}", idx, v)
		}

		pathBytes, err := f.Bytes("image_path")
		if err != nil {
			t.Fatal(err)
		}
		if string(pathBytes) != ds.Samples[idx].Path {
			t.Errorf("artifact %d: image_path %q, want %q", idx, pathBytes, ds.Samples[idx].Path)
		}
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("wrote %d artifacts, want 3", len(entries))
	}
}

func TestRunClassFilteredEndToEnd(t *testing.T) {
	dir := t.TempDir()
	ds := memoryDataset(10)

	idxPath := filepath.Join(t.TempDir(), "classes.json")
	if err := os.WriteFile(idxPath, []byte(`{"5": [2, 7]}`), 0o644); err != nil {
		t.Fatal(err)
	}

	d := newDriver(t, twoClassNet(), dir)
	sel := dataset.Selection{Policy: dataset.ClassFiltered, ClassID: 5, IndexFile: idxPath}
	if err := d.Run(context.Background(), ds, sel); err != nil {
		t.Fatal(err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Fatalf("wrote %d artifacts, want 2", len(entries))
	}
	for _, idx := range []int{2, 7} {
		path := filepath.Join(dir, artifact.FileName(idx))
		f, err := container.Read(path)
		if err != nil {
			t.Fatalf("artifact for index %d missing: %v", idx, err)
		}
		pathBytes, _ := f.Bytes("image_path")
		if string(pathBytes) != ds.Samples[idx].Path {
			t.Errorf("artifact %d holds path %q, want %q", idx, pathBytes, ds.Samples[idx].Path)
		}
	}
}

func TestRunSampleFailureAborts(t *testing.T) {
	dir := t.TempDir()
	ds := memoryDataset(5)

	calls := 0
	stub := network.NewStub(2)
	stub.Scores = func(input *tensor.Dense) (*tensor.Dense, error) {
		calls++
		if calls == 3 {
			return nil, errors.New("device error")
		}
		return tensor.NewDense([]int{2, 1, 1}, []float32{1, 2})
	}

	d := newDriver(t, stub, dir)
	err := d.Run(context.Background(), ds, dataset.Selection{Policy: dataset.Identity})
	if err == nil {
		t.Fatal("expected the run to abort")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("wrote %d artifacts before aborting, want 2", len(entries))
	}
}

func TestRunSelectionErrorBeforeAnyArtifact(t *testing.T) {
	dir := t.TempDir()
	d := newDriver(t, twoClassNet(), dir)

	sel := dataset.Selection{Policy: dataset.FixedSubset, IndexFile: filepath.Join(t.TempDir(), "absent.json")}
	err := d.Run(context.Background(), memoryDataset(3), sel)
	if !errors.Is(err, dataset.ErrSelectionData) {
		t.Fatalf("err = %v, want ErrSelectionData", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("wrote %d artifacts despite startup failure", len(entries))
	}
}

func saveConvSegCheckpoint(t *testing.T, prefixed bool) string {
	t.Helper()
	net, err := network.NewConvSeg(1, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	params := map[string]*tensor.Dense{}
	for name, p := range net.NamedParameters() {
		filled := tensor.Zeros(p.Shape()...)
		for i := range filled.Data() {
			filled.Data()[i] = 0.5
		}
		if prefixed {
			name = network.ParallelPrefix + name
		}
		params[name] = filled
	}
	path := filepath.Join(t.TempDir(), "ckpt.st")
	if err := checkpoint.Save(path, params, false); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadWeightsWrappedLayout(t *testing.T) {
	net, _ := network.NewConvSeg(1, 2, 2)
	d := newDriver(t, net, t.TempDir())

	// Checkpoint saved from inside the data-parallel shell: first
	// attempt succeeds.
	path := saveConvSegCheckpoint(t, true)
	if err := d.LoadWeights(path); err != nil {
		t.Fatalf("LoadWeights failed: %v", err)
	}
	if got := net.NamedParameters()["conv1.weight"].Data()[0]; got != 0.5 {
		t.Errorf("weight = %f, want 0.5", got)
	}
}

func TestLoadWeightsBareLayoutRetry(t *testing.T) {
	net, _ := network.NewConvSeg(1, 2, 2)
	d := newDriver(t, net, t.TempDir())

	// Checkpoint saved from the bare network: the wrapped attempt misses
	// every parameter and the retry against the bare network succeeds.
	path := saveConvSegCheckpoint(t, false)
	if err := d.LoadWeights(path); err != nil {
		t.Fatalf("two-tier load failed: %v", err)
	}
	if got := net.NamedParameters()["conv2.bias"].Data()[0]; got != 0.5 {
		t.Errorf("bias = %f, want 0.5", got)
	}
}

func TestLoadWeightsIncompatibleBothWays(t *testing.T) {
	net, _ := network.NewConvSeg(1, 2, 2)
	d := newDriver(t, net, t.TempDir())

	// A checkpoint with none of the network's parameters fails both
	// attempts.
	path := filepath.Join(t.TempDir(), "ckpt.st")
	other := map[string]*tensor.Dense{"something.else": tensor.Zeros(2)}
	if err := checkpoint.Save(path, other, false); err != nil {
		t.Fatal(err)
	}

	err := d.LoadWeights(path)
	if !errors.Is(err, checkpoint.ErrIncompatible) {
		t.Fatalf("err = %v, want ErrIncompatible", err)
	}
}

func TestLoadWeightsNotFound(t *testing.T) {
	net, _ := network.NewConvSeg(1, 2, 2)
	d := newDriver(t, net, t.TempDir())

	err := d.LoadWeights(filepath.Join(t.TempDir(), "missing.st"))
	if !errors.Is(err, checkpoint.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadWeightsSkipsSelfContainedNetwork(t *testing.T) {
	d := newDriver(t, network.NewStub(2), t.TempDir())
	if err := d.LoadWeights("whatever.st"); err != nil {
		t.Fatalf("self-contained network should skip the load: %v", err)
	}
}

func TestRunWithPrefetchWorkers(t *testing.T) {
	dir := t.TempDir()
	ds := memoryDataset(8)
	w, err := artifact.NewWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	d := New(twoClassNet(), w, Options{Log: quietLog(), Workers: 4, RunID: "test-run"})

	if err := d.Run(context.Background(), ds, dataset.Selection{Policy: dataset.Identity}); err != nil {
		t.Fatal(err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 8 {
		t.Errorf("wrote %d artifacts, want 8", len(entries))
	}
	// Artifact for each sample index must carry that sample's path.
	for idx := 0; idx < 8; idx++ {
		f, err := container.Read(filepath.Join(dir, artifact.FileName(idx)))
		if err != nil {
			t.Fatal(err)
		}
		pathBytes, _ := f.Bytes("image_path")
		if string(pathBytes) != ds.Samples[idx].Path {
			t.Errorf("artifact %d holds path %q, want %q", idx, pathBytes, ds.Samples[idx].Path)
		}
	}
}
