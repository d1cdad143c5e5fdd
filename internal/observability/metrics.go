package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facewatch",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected in submitted frames",
	}, []string{"source"})

	FacesMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facewatch",
		Name:      "faces_matched_total",
		Help:      "Total number of faces resolved against the registry",
	}, []string{"outcome"})

	DetectionsLogged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facewatch",
		Name:      "detections_logged_total",
		Help:      "Total number of detection events persisted",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facewatch",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	MatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facewatch",
		Name:      "match_duration_seconds",
		Help:      "Duration of registry matching per probe",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	})

	RegistrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facewatch",
		Name:      "registry_size",
		Help:      "Number of persons with encodings loaded in memory",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facewatch",
		Name:      "queue_depth",
		Help:      "Number of pending recognition jobs in queue",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facewatch",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facewatch",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
