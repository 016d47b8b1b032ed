package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nfnt/resize"

	"github.com/seglab/segpredict/internal/tensor"
)

func init() {
	// The named datasets share the folder layout and differ only in their
	// normalization constants, mirroring how each corpus publishes them.
	Register("cityscapes", NewImageFolder, &Stats{
		Mean: []float32{0.485, 0.456, 0.406},
		Std:  []float32{0.229, 0.224, 0.225},
	})
	Register("a2d2", NewImageFolder, &Stats{
		Mean: []float32{0.4499, 0.4365, 0.4364},
		Std:  []float32{0.1902, 0.1972, 0.2085},
	})
}

// ImageFolder reads samples from a directory tree:
//
//	<root>/images/<name>.(png|jpg|jpeg)  RGB inputs
//	<root>/labels/<name>.png             grayscale class-id masks
//
// Images are listed in sorted name order, which fixes the dataset order and
// therefore the SampleIndex assignment.
type ImageFolder struct {
	paths  []string
	labels []string
	height int
	width  int
	stats  Stats
}

// NewImageFolder scans cfg.Root and builds the sample list.
func NewImageFolder(cfg Config) (Dataset, error) {
	if len(cfg.Stats.Mean) == 0 || len(cfg.Stats.Std) == 0 {
		return nil, fmt.Errorf("%w: image folder at %s", ErrMissingStats, cfg.Root)
	}
	imgDir := filepath.Join(cfg.Root, "images")
	entries, err := os.ReadDir(imgDir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", imgDir, err)
	}

	ds := &ImageFolder{height: cfg.Height, width: cfg.Width, stats: cfg.Stats}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".png" && ext != ".jpg" && ext != ".jpeg" {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ext)
		ds.paths = append(ds.paths, filepath.Join(imgDir, e.Name()))
		ds.labels = append(ds.labels, filepath.Join(cfg.Root, "labels", base+".png"))
	}
	sort.Strings(ds.paths)
	sort.Strings(ds.labels)
	if len(ds.paths) == 0 {
		return nil, fmt.Errorf("no images under %s", imgDir)
	}
	return ds, nil
}

// Len returns the number of image files found.
func (d *ImageFolder) Len() int { return len(d.paths) }

// At decodes, resizes, and normalizes sample i.
func (d *ImageFolder) At(i int) (Sample, error) {
	if i < 0 || i >= len(d.paths) {
		return Sample{}, fmt.Errorf("sample index %d out of range [0,%d)", i, len(d.paths))
	}

	img, err := decodeImage(d.paths[i])
	if err != nil {
		return Sample{}, fmt.Errorf("decode %s: %w", d.paths[i], err)
	}
	if d.width > 0 && d.height > 0 {
		img = resize.Resize(uint(d.width), uint(d.height), img, resize.Bilinear)
	}
	input := toNormalizedCHW(img, d.stats)

	label, err := d.loadLabel(i, input.Dim(1), input.Dim(2))
	if err != nil {
		return Sample{}, err
	}

	return Sample{Input: input, Label: label, Path: d.paths[i]}, nil
}

func (d *ImageFolder) loadLabel(i, h, w int) (*tensor.Ints, error) {
	f, err := os.Open(d.labels[i])
	if err != nil {
		if os.IsNotExist(err) {
			// Unlabeled sample: the artifact still needs a ground-truth
			// field, so emit an all-ignore mask.
			mask := tensor.ZerosInts(h, w)
			for j := range mask.Data() {
				mask.Data()[j] = -1
			}
			return mask, nil
		}
		return nil, fmt.Errorf("open label %s: %w", d.labels[i], err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode label %s: %w", d.labels[i], err)
	}
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		img = resize.Resize(uint(w), uint(h), img, resize.NearestNeighbor)
	}

	mask := tensor.ZerosInts(h, w)
	b := img.Bounds()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, _, _, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			mask.Data()[y*w+x] = int64(r >> 8)
		}
	}
	return mask, nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// toNormalizedCHW converts an image to a [3, H, W] tensor scaled to [0,1]
// and normalized with the dataset statistics. Grayscale statistics are
// broadcast when fewer than three channels are configured.
func toNormalizedCHW(img image.Image, stats Stats) *tensor.Dense {
	b := img.Bounds()
	h, w := b.Dy(), b.Dx()
	out := tensor.Zeros(3, h, w)
	data := out.Data()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			p := y*w + x
			data[p] = float32(r>>8) / 255
			data[h*w+p] = float32(g>>8) / 255
			data[2*h*w+p] = float32(bl>>8) / 255
		}
	}
	for c := 0; c < 3; c++ {
		mean := stats.Mean[c%len(stats.Mean)]
		std := stats.Std[c%len(stats.Std)]
		seg := data[c*h*w : (c+1)*h*w]
		for i := range seg {
			seg[i] = (seg[i] - mean) / std
		}
	}
	return out
}

var _ Dataset = (*ImageFolder)(nil)
