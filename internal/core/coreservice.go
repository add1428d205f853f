package core

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jo-hoe/imagerelay/internal/backend/database"
	"github.com/jo-hoe/imagerelay/internal/backend/imageformat"
	"github.com/jo-hoe/imagerelay/internal/metrics"
)

// Liveness states of the image slot.
const (
	StateIdle   = "IDLE"
	StateActive = "ACTIVE"
)

// CoreService owns the image slot, the prediction slot and the liveness clock.
// One RWMutex serialises every access to the three of them.
type CoreService struct {
	config          *ServiceConfig
	databaseService database.DatabaseService
	now             func() time.Time

	mu           sync.RWMutex
	lastIngestAt time.Time // zero while IDLE
	prediction   *PredictionRecord
}

// LivenessStatus is a snapshot of the liveness clock and the configured sweep timing.
type LivenessStatus struct {
	State         string
	LastIngestAt  time.Time
	Timeout       time.Duration
	SweepInterval time.Duration
	HasPrediction bool
}

func NewCoreService(config *ServiceConfig) (*CoreService, error) {
	databaseService, err := getDatabaseService(config)
	if err != nil {
		return nil, err
	}
	return NewCoreServiceWithDatabase(config, databaseService, time.Now)
}

// NewCoreServiceWithDatabase builds the relay on an existing store. A nil clock uses time.Now.
func NewCoreServiceWithDatabase(config *ServiceConfig, databaseService database.DatabaseService, clock func() time.Time) (*CoreService, error) {
	if clock == nil {
		clock = time.Now
	}
	service := &CoreService{
		config:          config,
		databaseService: databaseService,
		now:             clock,
	}

	// A persistent store may still hold the frame of a previous run. Start its clock at
	// the stored time so the sweep reclaims it once it is stale.
	leftover, err := databaseService.GetImage()
	if err != nil {
		return nil, fmt.Errorf("failed to inspect image slot: %w", err)
	}
	if leftover != nil {
		service.lastIngestAt = leftover.StoredAt
		metrics.ImageSlotOccupied.Set(1)
		slog.Info("found image from previous run", "image_id", leftover.ID, "stored_at", leftover.StoredAt)
	} else {
		metrics.ImageSlotOccupied.Set(0)
	}

	return service, nil
}

// IngestImage replaces the stored image with data and restarts the liveness clock.
func (service *CoreService) IngestImage(data []byte) (*database.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	service.mu.Lock()
	defer service.mu.Unlock()

	now := service.now()
	image, err := database.NewImage(data, imageformat.Detect(data), now)
	if err != nil {
		return nil, err
	}
	if err := service.databaseService.ReplaceImage(image); err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}
	service.lastIngestAt = now

	metrics.ImagesIngested.Inc()
	metrics.ImageBytes.Observe(float64(len(data)))
	metrics.ImageSlotOccupied.Set(1)
	slog.Info("image stored", "image_id", image.ID, "bytes", len(data), "content_type", image.ContentType)

	return image.Clone(), nil
}

// FetchImage returns a copy of the stored image or ErrNoImage.
func (service *CoreService) FetchImage() (*database.Image, error) {
	service.mu.RLock()
	defer service.mu.RUnlock()

	image, err := service.databaseService.GetImage()
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if image == nil {
		return nil, ErrNoImage
	}
	return image.Clone(), nil
}

// IngestPrediction overwrites the stored prediction. The timestamp is always assigned here.
func (service *CoreService) IngestPrediction(label string, confidence Confidence) (*PredictionRecord, error) {
	if allowed := service.config.Predictions.Labels; len(allowed) > 0 && !slices.Contains(allowed, label) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}

	service.mu.Lock()
	defer service.mu.Unlock()

	now := service.now()
	service.prediction = &PredictionRecord{
		Label:      label,
		Confidence: append(Confidence(nil), confidence...),
		Timestamp:  now.Local().Format(TimestampLayout),
		receivedAt: now,
	}

	metrics.PredictionsIngested.Inc()
	slog.Info("prediction stored", "label", label, "confidence", confidence.String())

	return service.prediction.clone(), nil
}

// FetchPrediction returns a copy of the latest prediction or ErrNoPrediction.
func (service *CoreService) FetchPrediction() (*PredictionRecord, error) {
	service.mu.RLock()
	defer service.mu.RUnlock()

	if service.prediction == nil {
		return nil, ErrNoPrediction
	}
	return service.prediction.clone(), nil
}

// Sweep deletes the stored image once the device has been silent for longer than the
// liveness timeout. It reports whether an image was deleted. A failed delete keeps the
// clock running so the next sweep tries again.
func (service *CoreService) Sweep() bool {
	service.mu.Lock()
	defer service.mu.Unlock()

	if service.lastIngestAt.IsZero() {
		return false
	}
	idle := service.now().Sub(service.lastIngestAt)
	if idle <= service.config.Liveness.Timeout {
		return false
	}

	if err := service.databaseService.DeleteImage(); err != nil {
		metrics.SweepFailures.Inc()
		slog.Error("sweep: failed to delete stale image", "idle", idle, "error", err)
		return false
	}
	service.lastIngestAt = time.Time{}

	metrics.SweepDeletions.Inc()
	metrics.ImageSlotOccupied.Set(0)
	slog.Info("sweep: deleted image after inactivity", "idle", idle.Round(time.Millisecond), "timeout", service.config.Liveness.Timeout)
	return true
}

// Liveness reports ACTIVE while an ingested image is tracked by the clock, IDLE otherwise.
func (service *CoreService) Liveness() LivenessStatus {
	service.mu.RLock()
	defer service.mu.RUnlock()

	state := StateIdle
	if !service.lastIngestAt.IsZero() {
		state = StateActive
	}
	return LivenessStatus{
		State:         state,
		LastIngestAt:  service.lastIngestAt,
		Timeout:       service.config.Liveness.Timeout,
		SweepInterval: service.config.Liveness.SweepInterval,
		HasPrediction: service.prediction != nil,
	}
}

// IsStorageAvailable reports whether the configured store can be reached.
func (service *CoreService) IsStorageAvailable() bool {
	return service.databaseService.DoesDatabaseExist()
}

func (service *CoreService) Close() error {
	return service.databaseService.Close()
}

func getDatabaseService(config *ServiceConfig) (database.DatabaseService, error) {
	databaseService, err := database.NewDatabase(config.Database.Type, config.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	slog.Info("database initialized successfully", "type", config.Database.Type)
	return databaseService, nil
}
