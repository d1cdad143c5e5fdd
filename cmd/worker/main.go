package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facewatch/internal/config"
	"github.com/your-org/facewatch/internal/match"
	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/observability"
	"github.com/your-org/facewatch/internal/queue"
	"github.com/your-org/facewatch/internal/recognize"
	"github.com/your-org/facewatch/internal/registry"
	"github.com/your-org/facewatch/internal/storage"
	"github.com/your-org/facewatch/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting facewatch worker",
		"workers", cfg.Vision.WorkerCount,
		"cpu_cores", runtime.NumCPU(),
	)

	// The worker exists to run the models; no fallback mode here.
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	store, err := openStore(cfg.Database)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Frames to process are fetched from the archive.
	if !cfg.MinIO.Enabled() {
		slog.Error("worker requires minio: set minio.endpoint")
		os.Exit(1)
	}
	archive, err := storage.NewArchive(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := producer.EnsureStreams(ctx); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	matcher := match.New(float32(cfg.Recognition.Threshold))
	reg := registry.New(store, matcher, cfg.Recognition.Index)
	if err := reg.Refresh(ctx); err != nil {
		slog.Warn("initial registry load", "error", err)
	}
	go reg.Run(ctx, cfg.Recognition.RefreshInterval)

	provider, err := vision.NewONNXProvider(cfg.Vision)
	if err != nil {
		slog.Error("init vision models", "error", err)
		os.Exit(1)
	}
	defer provider.Close()

	// Detection reports go back out through NATS for the API to broadcast.
	svc := recognize.New(store, reg, provider, nil, producer)

	slog.Info("vision models ready", "profile", cfg.Vision.DetectorProfile)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	err = consumer.ConsumeJobs(ctx, "vision-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var job models.RecognitionJob
		if err := json.Unmarshal(msg.Data(), &job); err != nil {
			slog.Error("unmarshal recognition job", "error", err)
			return nil // don't redeliver junk
		}

		frame, err := archive.Get(ctx, job.FrameKey)
		if err != nil {
			return fmt.Errorf("fetch frame %s: %w", job.FrameKey, err)
		}

		_, err = svc.Recognize(ctx, recognize.Request{
			JobID:      job.JobID,
			ImageData:  frame,
			Source:     job.Source,
			CapturedAt: job.CapturedAt,
		})
		if err != nil {
			return fmt.Errorf("recognize job %s: %w", job.JobID, err)
		}
		return nil
	}, cfg.Vision.WorkerCount)
	if err != nil {
		slog.Error("start job consumer", "error", err)
		os.Exit(1)
	}

	// Metrics endpoint
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("worker metrics listening", "addr", ":8082")
		if err := http.ListenAndServe(":8082", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	// Periodically report queue depth
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depth, err := producer.QueueDepth(ctx)
				if err == nil {
					observability.QueueDepth.Set(float64(depth))
				}
			}
		}
	}()

	// Wait for shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("worker stopped")
}

func openStore(cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return storage.NewPostgresStore(cfg.Postgres)
	default:
		return storage.NewSQLiteStore(cfg.SQLite.Path)
	}
}

// getONNXLibPath returns the ONNX Runtime shared library path
// based on the operating system.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
