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
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facewatch/internal/api"
	"github.com/your-org/facewatch/internal/api/ws"
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

	slog.Info("starting facewatch API", "port", cfg.Server.Port, "driver", cfg.Database.Driver)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(cfg.Database)
	if err != nil {
		slog.Error("open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if n, err := store.CountPersons(ctx); err == nil {
		slog.Info("store opened", "registered_persons", n)
	}

	// Photo archive (optional)
	var archive *storage.Archive
	if cfg.MinIO.Enabled() {
		archive, err = storage.NewArchive(cfg.MinIO)
		if err != nil {
			slog.Error("connect to minio", "error", err)
			os.Exit(1)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		go sweepFrames(ctx, archive, cfg.MinIO.FrameRetention)
	}

	// Async pipeline (optional)
	var producer *queue.Producer
	var consumer *queue.Consumer
	if cfg.NATS.URL != "" {
		producer, err = queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			slog.Error("connect to nats", "error", err)
			os.Exit(1)
		}
		defer producer.Close()

		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}

		consumer, err = queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			slog.Error("create report consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()
	}

	// WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Worker reports flow back through NATS onto the WebSocket feed.
	if consumer != nil {
		err = consumer.ConsumeReports(ctx, "api-reports", func(ctx context.Context, msg jetstream.Msg) error {
			var rep models.DetectionReport
			if err := json.Unmarshal(msg.Data(), &rep); err != nil {
				slog.Error("unmarshal detection report", "error", err)
				return nil // don't redeliver junk
			}
			return hub.Report(ctx, rep)
		})
		if err != nil {
			slog.Warn("start report consumer", "error", err)
		}
	}

	// In-memory match registry
	matcher := match.New(float32(cfg.Recognition.Threshold))
	reg := registry.New(store, matcher, cfg.Recognition.Index)
	if err := reg.Refresh(ctx); err != nil {
		slog.Warn("initial registry load", "error", err)
	}
	go reg.Run(ctx, cfg.Recognition.RefreshInterval)

	// Vision models are optional: without them the image endpoints
	// return 503 while raw-encoding enrollment and matching still work.
	var provider vision.Provider
	ort.SetSharedLibraryPath(getONNXLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Warn("onnx runtime init failed, image endpoints unavailable", "error", err)
	} else {
		p, err := vision.NewONNXProvider(cfg.Vision)
		if err != nil {
			slog.Warn("vision init failed, image endpoints unavailable", "error", err)
		} else {
			provider = p
			defer p.Close()
			defer ort.DestroyEnvironment()
			slog.Info("vision models ready", "profile", cfg.Vision.DetectorProfile)
		}
	}

	svc := recognize.New(store, reg, provider, archive, hub)

	router := api.NewRouter(api.RouterConfig{
		APIKey:      cfg.Server.APIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		Store:       store,
		Archive:     archive,
		Producer:    producer,
		Hub:         hub,
		Service:     svc,
		FrameWidth:  cfg.Vision.FrameWidth,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}

// openStore picks the storage backend from config. SQLite is the
// default single-file deployment; Postgres suits multi-process setups.
func openStore(cfg config.DatabaseConfig) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return storage.NewPostgresStore(cfg.Postgres)
	default:
		return storage.NewSQLiteStore(cfg.SQLite.Path)
	}
}

// sweepFrames periodically deletes archived recognition frames older
// than the retention window.
func sweepFrames(ctx context.Context, archive *storage.Archive, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := archive.SweepFrames(ctx, retention)
			if err != nil {
				slog.Warn("sweep frames", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("swept archived frames", "count", n, "retention", retention.String())
			}
		}
	}
}

// getONNXLibPath returns the ONNX Runtime shared library path.
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
