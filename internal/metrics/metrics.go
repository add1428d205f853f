package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// relay
	ImagesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_images_ingested_total",
		Help: "Total number of images stored in the slot",
	})

	ImageBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_image_bytes",
		Help:    "Size of ingested images in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KiB .. 16MiB
	})

	PredictionsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_predictions_ingested_total",
		Help: "Total number of predictions stored",
	})

	SweepDeletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sweep_deletions_total",
		Help: "Images removed by the liveness sweep",
	})

	SweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_sweep_failures_total",
		Help: "Liveness sweeps that failed to delete a stale image",
	})

	ImageSlotOccupied = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_image_slot_occupied",
		Help: "1 while an image is stored, 0 otherwise",
	})
)
