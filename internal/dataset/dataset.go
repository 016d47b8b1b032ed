// Package dataset provides the sample sources the pipeline iterates, the
// selection policies that restrict a run to a subset of a dataset, and the
// stable sample indexing that names every artifact downstream.
package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/seglab/segpredict/internal/tensor"
)

// Sample is one dataset element: a normalized CHW input, its label map,
// and the source file path it came from.
type Sample struct {
	Input *tensor.Dense
	Label *tensor.Ints
	Path  string
}

// Dataset is a fixed-length, random-access sequence of samples with a
// deterministic order.
type Dataset interface {
	Len() int
	At(i int) (Sample, error)
}

// ErrMissingStats is returned when a dataset is registered without the
// mean/std constants its normalization transform needs.
var ErrMissingStats = errors.New("dataset has no normalization statistics")

// Stats are per-channel normalization constants.
type Stats struct {
	Mean []float32
	Std  []float32
}

// Config carries the parameters dataset factories need.
type Config struct {
	Root   string
	Height int
	Width  int
	Stats  Stats
}

// Factory constructs a dataset from a resolved configuration.
type Factory func(cfg Config) (Dataset, error)

type registration struct {
	factory Factory
	stats   *Stats
}

var registry = map[string]registration{}

// Register adds a dataset factory with its normalization statistics.
// Pass nil stats for datasets that genuinely have none; building such a
// dataset fails with ErrMissingStats.
func Register(name string, f Factory, stats *Stats) {
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("dataset %q registered twice", name))
	}
	registry[name] = registration{factory: f, stats: stats}
}

// Build constructs the dataset registered under name. The registered
// statistics are injected into cfg before the factory runs.
func Build(name string, cfg Config) (Dataset, error) {
	reg, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q (known: %v)", name, Names())
	}
	if reg.stats == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingStats, name)
	}
	cfg.Stats = *reg.stats
	return reg.factory(cfg)
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
