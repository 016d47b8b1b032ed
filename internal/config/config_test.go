package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dataset != "cityscapes" {
		t.Errorf("dataset = %q, want cityscapes", cfg.Dataset)
	}
	if cfg.ClassIndex != -1 {
		t.Errorf("class_index = %d, want -1", cfg.ClassIndex)
	}
	if cfg.Classes != 19 {
		t.Errorf("classes = %d, want 19", cfg.Classes)
	}
	if cfg.SelectionKind() != "identity" {
		t.Errorf("selection = %q, want identity", cfg.SelectionKind())
	}
}

func TestLoadConfigFileAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segpredict.yaml")
	content := "dataset: a2d2\nworkers: 4\noutput_dir: /tmp/out\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, map[string]interface{}{"workers": 8})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Dataset != "a2d2" {
		t.Errorf("dataset = %q, want a2d2", cfg.Dataset)
	}
	if cfg.Workers != 8 {
		t.Errorf("overrides should win: workers = %d, want 8", cfg.Workers)
	}
	if cfg.OutputDir != "/tmp/out" {
		t.Errorf("output_dir = %q", cfg.OutputDir)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Dataset:    "cityscapes",
			Model:      "convseg",
			Checkpoint: "weights.st",
			OutputDir:  "out",
			ClassIndex: -1,
		}
	}

	if err := base().Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}

	c := base()
	c.Checkpoint = ""
	if err := c.Validate(); err == nil {
		t.Error("convseg without checkpoint should fail")
	}

	c = base()
	c.Model = "onnx"
	c.Checkpoint = ""
	if err := c.Validate(); err == nil {
		t.Error("onnx without model_path should fail")
	}
	c.ModelPath = "model.onnx"
	if err := c.Validate(); err != nil {
		t.Errorf("onnx with model_path rejected: %v", err)
	}

	c = base()
	c.ClassIndex = 5
	if err := c.Validate(); err == nil {
		t.Error("class filter without index file should fail")
	}
	c.ClassIndexFile = "classes.json"
	if err := c.Validate(); err != nil {
		t.Errorf("class filter with index file rejected: %v", err)
	}
	if c.SelectionKind() != "class" {
		t.Errorf("selection = %q, want class", c.SelectionKind())
	}
	c.SubsetFile = "subset.json"
	if err := c.Validate(); err == nil {
		t.Error("class filter plus subset file should fail")
	}

	c = base()
	c.SubsetFile = "subset.json"
	if c.SelectionKind() != "subset" {
		t.Errorf("selection = %q, want subset", c.SelectionKind())
	}

	c = base()
	c.MetricsPort = 99999
	if err := c.Validate(); err == nil {
		t.Error("invalid metrics port should fail")
	}
}
