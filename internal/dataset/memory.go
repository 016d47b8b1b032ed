package dataset

import "fmt"

// Memory is an in-memory dataset, used by tests and smoke runs.
type Memory struct {
	Samples []Sample
}

// Len returns the sample count.
func (d *Memory) Len() int { return len(d.Samples) }

// At returns sample i.
func (d *Memory) At(i int) (Sample, error) {
	if i < 0 || i >= len(d.Samples) {
		return Sample{}, fmt.Errorf("sample index %d out of range [0,%d)", i, len(d.Samples))
	}
	return d.Samples[i], nil
}

var _ Dataset = (*Memory)(nil)
