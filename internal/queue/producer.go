package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facewatch/internal/models"
)

const (
	RecognizeStreamName  = "RECOGNIZE"
	RecognizeSubjectBase = "recognize"
	ReportsStreamName    = "DETECTIONS"
	ReportsSubjectBase   = "detections"
)

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	return &Producer{nc: nc, js: js}, nil
}

// EnsureStreams creates the JetStream streams if they don't exist.
// Retries up to 30 times (1s apart) to ride out NATS startup delay.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        RecognizeStreamName,
			Subjects:    []string{RecognizeSubjectBase + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      1 * time.Hour,
			MaxMsgs:     100000,
			MaxBytes:    256 * 1024 * 1024,
			Storage:     jetstream.FileStorage,
			Discard:     jetstream.DiscardOld,
			Duplicates:  30 * time.Second,
			Description: "Recognition jobs for vision workers",
		},
		{
			Name:        ReportsStreamName,
			Subjects:    []string{ReportsSubjectBase + ".>"},
			Retention:   jetstream.InterestPolicy,
			MaxAge:      24 * time.Hour,
			MaxMsgs:     1000000,
			Storage:     jetstream.FileStorage,
			Description: "Per-face detection reports from workers",
		},
	}

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		allOK := true
		for _, cfg := range streams {
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
			cancel()
			if err != nil {
				allOK = false
				if attempt == maxAttempts {
					return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
				}
				slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)
				break
			}
			slog.Info("ensured NATS stream", "name", cfg.Name)
		}
		if allOK {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}
	return nil
}

// PublishJob hands a recognition job to the worker pool.
func (p *Producer) PublishJob(ctx context.Context, job models.RecognitionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal recognition job: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", RecognizeSubjectBase, job.JobID)
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Report publishes one per-face detection report. Satisfies
// recognize.Reporter so workers fan results back to the API.
func (p *Producer) Report(ctx context.Context, rep models.DetectionReport) error {
	payload, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal detection report: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", ReportsSubjectBase, rep.JobID)
	if _, err := p.js.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("publish report: %w", err)
	}
	return nil
}

// QueueDepth returns the number of pending jobs in the RECOGNIZE stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, RecognizeStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
