package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// Selection errors, fatal at startup.
var (
	// ErrSelectionData is returned when a policy's backing index artifact
	// cannot be read.
	ErrSelectionData = errors.New("selection data missing")
	// ErrUnknownClass is returned when the class-filter mapping has no
	// entry for the requested class. A present key with an empty list is
	// a valid (empty) selection.
	ErrUnknownClass = errors.New("unknown class")
)

// Policy selects which samples participate in a run.
type Policy int

// Available selection policies.
const (
	// Identity iterates the full dataset in order.
	Identity Policy = iota
	// ClassFiltered iterates the indices a precomputed class->indices
	// mapping lists for one class, in mapping order.
	ClassFiltered
	// FixedSubset iterates an externally supplied index list, in order.
	FixedSubset
)

// Selection describes a policy and its inputs.
type Selection struct {
	Policy    Policy
	ClassID   int
	IndexFile string // JSON artifact backing ClassFiltered or FixedSubset
}

// Resolve applies the selection to ds and returns the view to iterate
// together with the SampleIndex sequence.
//
// The i-th sample of the view is the element of ds at position indices[i],
// and len(indices) equals the view length. Downstream artifact naming
// depends on that correspondence, so Resolve validates every index against
// the dataset bounds.
func Resolve(ds Dataset, sel Selection) (Dataset, []int, error) {
	switch sel.Policy {
	case Identity:
		indices := make([]int, ds.Len())
		for i := range indices {
			indices[i] = i
		}
		return ds, indices, nil

	case ClassFiltered:
		mapping, err := readClassIndex(sel.IndexFile)
		if err != nil {
			return nil, nil, err
		}
		indices, ok := mapping[strconv.Itoa(sel.ClassID)]
		if !ok {
			return nil, nil, fmt.Errorf("%w: class %d has no entry in %s", ErrUnknownClass, sel.ClassID, sel.IndexFile)
		}
		return subset(ds, indices)

	case FixedSubset:
		data, err := os.ReadFile(sel.IndexFile)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrSelectionData, sel.IndexFile, err)
		}
		var indices []int
		if err := json.Unmarshal(data, &indices); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrSelectionData, sel.IndexFile, err)
		}
		return subset(ds, indices)

	default:
		return nil, nil, fmt.Errorf("unknown selection policy %d", sel.Policy)
	}
}

func readClassIndex(path string) (map[string][]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSelectionData, path, err)
	}
	var mapping map[string][]int
	if err := json.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSelectionData, path, err)
	}
	return mapping, nil
}

func subset(ds Dataset, indices []int) (Dataset, []int, error) {
	for _, idx := range indices {
		if idx < 0 || idx >= ds.Len() {
			return nil, nil, fmt.Errorf("selection index %d out of range for dataset of %d samples", idx, ds.Len())
		}
	}
	out := append([]int(nil), indices...)
	return &view{base: ds, indices: out}, out, nil
}

// view is a reindexed window over a base dataset. Its iteration order is
// exactly the index order it was built with, which upholds the lockstep
// contract between the sample stream and the SampleIndex sequence.
type view struct {
	base    Dataset
	indices []int
}

func (v *view) Len() int { return len(v.indices) }

func (v *view) At(i int) (Sample, error) {
	if i < 0 || i >= len(v.indices) {
		return Sample{}, fmt.Errorf("sample index %d out of range [0,%d)", i, len(v.indices))
	}
	return v.base.At(v.indices[i])
}
