package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/seglab/segpredict/internal/artifact"
	"github.com/seglab/segpredict/internal/config"
	"github.com/seglab/segpredict/internal/dataset"
	"github.com/seglab/segpredict/internal/metrics"
	"github.com/seglab/segpredict/internal/network"
	"github.com/seglab/segpredict/internal/pipeline"
	"github.com/seglab/segpredict/internal/report"
)

const serviceName = "segpredict"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the prediction pipeline",
	Long:  `Loads the model weights, resolves the dataset selection, and predicts every selected sample into per-sample artifacts.`,
	RunE:  runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("dataset", "", "Dataset identifier")
	runCmd.Flags().String("dataset-root", "", "Dataset root directory")
	runCmd.Flags().String("model", "", "Model identifier")
	runCmd.Flags().String("model-path", "", "Path to a self-contained model file (onnx)")
	runCmd.Flags().String("checkpoint", "", "Path to the model weight checkpoint")
	runCmd.Flags().String("output", "", "Destination directory for result artifacts")
	runCmd.Flags().Int("class-index", -1, "Restrict the run to images containing this class")
	runCmd.Flags().String("class-index-file", "", "JSON mapping from class id to sample indices")
	runCmd.Flags().String("subset-file", "", "JSON list of sample indices to process")
	runCmd.Flags().Int("workers", 0, "Data-loading workers")
	runCmd.Flags().Int("metrics-port", 0, "Prometheus metrics port (0 disables)")
	runCmd.Flags().String("redis", "", "Redis address for progress publishing (empty disables)")
}

// flagOverrides maps changed flags onto config keys so flags win over the
// config file and environment.
func flagOverrides(cmd *cobra.Command) map[string]interface{} {
	overrides := map[string]interface{}{}
	bind := func(flag, key string, get func(string) (interface{}, error)) {
		if cmd.Flags().Changed(flag) {
			if v, err := get(flag); err == nil {
				overrides[key] = v
			}
		}
	}
	str := func(name string) (interface{}, error) { return cmd.Flags().GetString(name) }
	num := func(name string) (interface{}, error) { return cmd.Flags().GetInt(name) }

	bind("dataset", "dataset", str)
	bind("dataset-root", "dataset_root", str)
	bind("model", "model", str)
	bind("model-path", "model_path", str)
	bind("checkpoint", "checkpoint", str)
	bind("output", "output_dir", str)
	bind("class-index", "class_index", num)
	bind("class-index-file", "class_index_file", str)
	bind("subset-file", "subset_file", str)
	bind("workers", "workers", num)
	bind("metrics-port", "metrics_port", num)
	bind("redis", "redis", str)
	return overrides
}

func runPipeline(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configFile, flagOverrides(cmd))
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	runID := uuid.NewString()
	log.Info("starting segpredict",
		"run_id", runID,
		"dataset", cfg.Dataset,
		"model", cfg.Model,
		"output", cfg.OutputDir,
		"selection", cfg.SelectionKind())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var tracer trace.Tracer
	var tracerShutdown func(context.Context) error
	if cfg.OTELEnabled {
		tracerShutdown, err = initTracer(cfg.OTELEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracer", "error", err)
		} else {
			tracer = otel.Tracer(serviceName)
			log.Info("tracing enabled", "endpoint", cfg.OTELEndpoint)
		}
	}

	var metricsServer *http.Server
	if cfg.MetricsPort > 0 {
		metricsServer = startMetricsServer(cfg.MetricsPort, log)
	}

	var publisher *report.Publisher
	if cfg.Redis != "" {
		publisher, err = report.New(cfg.Redis)
		if err != nil {
			log.Warn("failed to connect to redis, continuing without progress publishing", "error", err)
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}

	log.Info("loading network and dataset")

	net, err := network.Build(cfg.Model, network.Config{
		Classes:   cfg.Classes,
		Channels:  cfg.Channels,
		Height:    cfg.Height,
		Width:     cfg.Width,
		Hidden:    cfg.Hidden,
		ModelPath: cfg.ModelPath,
		Device:    cfg.Device,
	})
	if err != nil {
		return fmt.Errorf("build network: %w", err)
	}
	defer net.Close()

	ds, err := dataset.Build(cfg.Dataset, dataset.Config{
		Root:   cfg.DatasetRoot,
		Height: cfg.Height,
		Width:  cfg.Width,
	})
	if err != nil {
		return fmt.Errorf("build dataset: %w", err)
	}

	writer, err := artifact.NewWriter(cfg.OutputDir)
	if err != nil {
		return err
	}

	driver := pipeline.New(net, writer, pipeline.Options{
		Log:       log,
		Publisher: publisher,
		Tracer:    tracer,
		Workers:   cfg.Workers,
		RunID:     runID,
	})

	if err := driver.LoadWeights(cfg.Checkpoint); err != nil {
		return fmt.Errorf("load model weights: %w", err)
	}

	metrics.SetHealthy()
	runErr := driver.Run(ctx, ds, selection(cfg))
	if runErr != nil {
		metrics.SetUnhealthy()
		log.Error("run failed", "run_id", runID, "error", runErr)
	} else {
		log.Info("run complete", "run_id", runID)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if tracerShutdown != nil {
		_ = tracerShutdown(shutdownCtx)
	}
	return runErr
}

func selection(cfg *config.Config) dataset.Selection {
	switch cfg.SelectionKind() {
	case "class":
		return dataset.Selection{
			Policy:    dataset.ClassFiltered,
			ClassID:   cfg.ClassIndex,
			IndexFile: cfg.ClassIndexFile,
		}
	case "subset":
		return dataset.Selection{
			Policy:    dataset.FixedSubset,
			IndexFile: cfg.SubsetFile,
		}
	default:
		return dataset.Selection{Policy: dataset.Identity}
	}
}

func startMetricsServer(port int, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		log.Info("metrics server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn("metrics server error", "error", err)
		}
	}()
	return server
}

func initTracer(endpoint string) (func(context.Context) error, error) {
	if endpoint != "" {
		// OTLP export needs more setup; the stdout exporter keeps traces
		// inspectable without a collector.
		fmt.Fprintf(os.Stderr, "note: using stdout trace exporter (OTLP endpoint: %s)\n", endpoint)
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
