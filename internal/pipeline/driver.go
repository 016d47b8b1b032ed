// Package pipeline sequences a prediction run: load weights, resolve the
// dataset selection, iterate samples in lockstep with their indices, predict,
// persist, and report progress.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/seglab/segpredict/internal/artifact"
	"github.com/seglab/segpredict/internal/checkpoint"
	"github.com/seglab/segpredict/internal/dataset"
	"github.com/seglab/segpredict/internal/inference"
	"github.com/seglab/segpredict/internal/metrics"
	"github.com/seglab/segpredict/internal/network"
	"github.com/seglab/segpredict/internal/report"
)

// Options configures a Driver beyond its required collaborators.
type Options struct {
	Log       *slog.Logger
	Publisher *report.Publisher // optional; nil disables progress publishing
	Tracer    trace.Tracer      // optional; nil disables tracing
	Workers   int               // data-loading workers; <=1 loads synchronously
	RunID     string
}

// Driver owns one run of the pipeline.
type Driver struct {
	log    *slog.Logger
	net    network.Network
	engine *inference.Engine
	writer *artifact.Writer
	pub    *report.Publisher
	tracer trace.Tracer
	worker int
	runID  string
}

// New creates a driver around a network and an artifact writer. The network
// is placed into evaluation mode here, once, for the run's duration.
func New(net network.Network, writer *artifact.Writer, opts Options) *Driver {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("segpredict")
	}
	return &Driver{
		log:    log,
		net:    net,
		engine: inference.New(net),
		writer: writer,
		pub:    opts.Publisher,
		tracer: tracer,
		worker: opts.Workers,
		runID:  opts.RunID,
	}
}

// LoadWeights applies the checkpoint at path to the network using the
// two-tier strategy: the first attempt targets the network wrapped in a
// data-parallel shell, and only a missing-parameter result triggers a
// second attempt against the bare network. Both outcomes are inspected as
// structured reports, so the fallback is an explicit branch.
//
// Networks that do not expose loadable parameters (self-contained model
// files) skip the load entirely.
func (d *Driver) LoadWeights(path string) error {
	stateful, ok := d.net.(network.Stateful)
	if !ok {
		d.log.Info("network carries its own weights, skipping checkpoint load")
		return nil
	}

	rep, err := checkpoint.Load(network.Parallel(stateful), path)
	if err == nil {
		d.warnUnexpected(rep)
		d.log.Info("loading of model weights successful")
		return nil
	}
	if len(rep.Missing) == 0 {
		// Not a layout mismatch; retrying against the bare network
		// cannot change the outcome.
		return err
	}

	d.log.Debug("model weights could not be loaded into the data-parallel shell, trying the bare network",
		"missing", rep.Missing)

	rep, err = checkpoint.Load(stateful, path)
	if err != nil {
		return err
	}
	d.warnUnexpected(rep)
	d.log.Info("loading of model weights successful")
	return nil
}

func (d *Driver) warnUnexpected(r checkpoint.Report) {
	if len(r.Unexpected) > 0 {
		d.log.Warn("unexpected parameters were not loaded into the model",
			"parameters", r.Unexpected)
	}
}

// Run resolves the selection over ds and processes every selected sample.
// Startup errors return before any artifact is written; a failure on any
// sample aborts the whole run.
func (d *Driver) Run(ctx context.Context, ds dataset.Dataset, sel dataset.Selection) error {
	view, indices, err := dataset.Resolve(ds, sel)
	if err != nil {
		return err
	}
	if sel.Policy == dataset.ClassFiltered {
		d.log.Info("class filter resolved",
			"class", sel.ClassID, "images", len(indices))
	}

	n := view.Len()
	d.log.Info("predicting images", "total", n, "run_id", d.runID)

	prefetch := dataset.NewPrefetcher(view, d.worker)
	defer prefetch.Close()

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		sample, ok, err := prefetch.Next()
		if err != nil {
			return fmt.Errorf("load sample %d (index %d): %w", i, indices[i], err)
		}
		if !ok {
			return fmt.Errorf("sample stream ended after %d of %d samples", i, n)
		}

		if err := d.process(ctx, sample, indices[i]); err != nil {
			return err
		}

		metrics.SetProgress(i+1, n)
		d.log.Info("image processed", "current", i+1, "total", n)
		if err := d.pub.Publish(ctx, d.runID, i+1, n); err != nil {
			// Progress publishing is best effort; the run goes on.
			d.log.Warn("failed to publish progress", "error", err)
		}
	}
	return nil
}

func (d *Driver) process(ctx context.Context, sample dataset.Sample, index int) error {
	_, span := d.tracer.Start(ctx, "predict_sample",
		trace.WithAttributes(
			attribute.Int("sample.index", index),
			attribute.String("sample.path", sample.Path),
		))
	defer span.End()

	inferStart := time.Now()
	pred, err := d.engine.Predict(sample.Input)
	inferSeconds := time.Since(inferStart).Seconds()
	if err != nil {
		return fmt.Errorf("sample index %d (%s): %w", index, sample.Path, err)
	}

	writeStart := time.Now()
	err = d.writer.Write(artifact.Bundle{
		Probabilities: pred.Probabilities,
		Prediction:    pred.Classes,
		GroundTruth:   sample.Label,
		Path:          sample.Path,
	}, index)
	if err != nil {
		return err
	}

	metrics.RecordSample(inferSeconds, time.Since(writeStart).Seconds())
	return nil
}
