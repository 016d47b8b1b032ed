// Package artifact persists one self-describing result file per processed
// sample, named by the sample's position in the original dataset.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/seglab/segpredict/internal/container"
	"github.com/seglab/segpredict/internal/tensor"
)

// Bundle is one sample's full result: the probability volume, the argmax
// prediction derived from the same raw scores, the ground truth, and the
// source path.
type Bundle struct {
	Probabilities *tensor.Dense // CHW; persisted channel-last
	Prediction    *tensor.Ints  // HW
	GroundTruth   *tensor.Ints  // HW
	Path          string
}

// Writer writes result bundles into a destination directory.
type Writer struct {
	dir string
}

// NewWriter creates the destination directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return &Writer{dir: dir}, nil
}

// FileName returns the artifact name for a sample index. Naming depends
// only on the original-dataset index, never on iteration position, so
// artifacts from subsetted runs stay addressable by dataset identity.
func FileName(sampleIndex int) string {
	return fmt.Sprintf("input%d.st", sampleIndex)
}

// Write persists b under the artifact name for sampleIndex, overwriting
// any previous file. Identical inputs produce byte-identical files.
func (w *Writer) Write(b Bundle, sampleIndex int) error {
	hwc, err := tensor.PermuteCHWToHWC(b.Probabilities)
	if err != nil {
		return fmt.Errorf("probabilities: %w", err)
	}

	pathBytes := []byte(b.Path)
	entries := map[string]container.Entry{
		"probabilities": container.F32Entry(hwc),
		"prediction":    container.I64Entry(b.Prediction),
		"ground_truths": container.I64Entry(b.GroundTruth),
		"image_path":    container.U8Entry([]int{1, len(pathBytes)}, pathBytes),
	}
	meta := map[string]string{
		"format":     "segpredict.result",
		"image_path": b.Path,
	}

	path := filepath.Join(w.dir, FileName(sampleIndex))
	if err := container.Write(path, entries, meta); err != nil {
		return fmt.Errorf("write artifact %s: %w", path, err)
	}
	return nil
}
