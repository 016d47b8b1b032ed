// Package checkpoint loads serialized network weights with tolerance for
// the layout mismatches real checkpoints exhibit: a wrapping "state_dict"
// namespace and over-supplied parameters.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/seglab/segpredict/internal/container"
	"github.com/seglab/segpredict/internal/tensor"
)

// Sentinel errors for the two fatal load outcomes.
var (
	ErrNotFound     = errors.New("checkpoint not found")
	ErrIncompatible = errors.New("incompatible checkpoint")
)

// StateDictPrefix is the namespace some checkpoints wrap every parameter
// in; it is the flat-container analog of a nested "state_dict" mapping.
const StateDictPrefix = "state_dict."

// ParameterStore is the loading side of a network: named mutable
// parameter tensors.
type ParameterStore interface {
	NamedParameters() map[string]*tensor.Dense
}

// Report describes the outcome of a non-strict load.
type Report struct {
	// Missing lists network parameters absent from the checkpoint.
	// A non-empty Missing means the load failed.
	Missing []string
	// Unexpected lists checkpoint parameters the network has no slot
	// for. Non-fatal; the caller should surface them as a warning.
	Unexpected []string
}

// Load applies the checkpoint at path onto target's parameters.
//
// Matching is non-strict: parameters present in both sides are copied,
// checkpoint-only names are reported as unexpected, and network-only names
// are reported as missing. Missing names make the load fail with
// ErrIncompatible; unexpected names do not. The report is returned in both
// cases so the caller can decide on the fallback branch explicitly rather
// than through error inspection alone.
func Load(target ParameterStore, path string) (Report, error) {
	file, err := container.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Report{}, fmt.Errorf("read checkpoint %s: %w", path, err)
	}

	names := file.Names()
	entries := make(map[string]string, len(names)) // checkpoint name -> file name
	if wrapped(names) {
		for _, name := range names {
			entries[strings.TrimPrefix(name, StateDictPrefix)] = name
		}
	} else {
		for _, name := range names {
			entries[name] = name
		}
	}

	params := target.NamedParameters()

	var report Report
	for name := range params {
		if _, ok := entries[name]; !ok {
			report.Missing = append(report.Missing, name)
		}
	}
	for name := range entries {
		if _, ok := params[name]; !ok {
			report.Unexpected = append(report.Unexpected, name)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Unexpected)

	if len(report.Missing) > 0 {
		return report, fmt.Errorf("%w: missing parameters %v", ErrIncompatible, report.Missing)
	}

	for name, param := range params {
		loaded, err := file.Float32(entries[name])
		if err != nil {
			return report, fmt.Errorf("%w: parameter %s: %v", ErrIncompatible, name, err)
		}
		if !param.SameShape(loaded) {
			return report, fmt.Errorf("%w: parameter %s has shape %v, checkpoint has %v",
				ErrIncompatible, name, param.Shape(), loaded.Shape())
		}
		copy(param.Data(), loaded.Data())
	}
	return report, nil
}

// Save writes params as a checkpoint at path. When nested is true every
// name is wrapped in the state_dict namespace, matching checkpoints
// produced by trainers that persist a whole experiment snapshot.
func Save(path string, params map[string]*tensor.Dense, nested bool) error {
	entries := make(map[string]container.Entry, len(params))
	for name, p := range params {
		if nested {
			name = StateDictPrefix + name
		}
		entries[name] = container.F32Entry(p)
	}
	return container.Write(path, entries, map[string]string{"format": "segpredict.checkpoint"})
}

// wrapped reports whether every tensor lives under the state_dict
// namespace. Mixed layouts are treated as unwrapped.
func wrapped(names []string) bool {
	if len(names) == 0 {
		return false
	}
	for _, name := range names {
		if !strings.HasPrefix(name, StateDictPrefix) {
			return false
		}
	}
	return true
}
