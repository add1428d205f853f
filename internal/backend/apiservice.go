package backend

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jo-hoe/imagerelay/internal/core"
	"github.com/jo-hoe/imagerelay/internal/metrics"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	statusSuccess      = "success"
	statusNoImage      = "no_image"
	statusNoPrediction = "no_prediction"

	uploadAcknowledgement = "image received"
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

type statusResponse struct {
	Status string `json:"status"`
}

type predictionRequest struct {
	Label      string          `json:"label" validate:"required"`
	Confidence core.Confidence `json:"confidence" validate:"required"`
}

type ingestPredictionResponse struct {
	Status   string                 `json:"status"`
	Received *core.PredictionRecord `json:"received"`
}

type livenessResponse struct {
	State         string  `json:"state"`
	LastIngest    *string `json:"last_ingest"`
	Timeout       string  `json:"timeout"`
	SweepInterval string  `json:"sweep_interval"`
	HasPrediction bool    `json:"has_prediction"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

func (service *APIService) SetRoutes(e *echo.Echo) {
	e.Use(MetricsMiddleware())

	// Set probe routes
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, "Image relay is running")
	})
	e.GET("/probe", service.probeHandler)

	var uploadMiddleware []echo.MiddlewareFunc
	if service.config.UploadLimit != "" {
		uploadMiddleware = append(uploadMiddleware, middleware.BodyLimit(service.config.UploadLimit))
	}
	e.POST("/upload", service.uploadImageHandler, uploadMiddleware...)
	e.GET("/get_image", service.getImageHandler)

	e.POST("/prediksi", service.ingestPredictionHandler)
	e.GET("/latest", service.latestPredictionHandler)

	e.GET("/status", service.statusHandler)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (service *APIService) probeHandler(ctx echo.Context) error {
	if !service.coreService.IsStorageAvailable() {
		slog.Warn("probeHandler: image storage unreachable", "status", http.StatusServiceUnavailable)
		return ctx.String(http.StatusServiceUnavailable, "storage unavailable")
	}
	return ctx.String(http.StatusOK, "ok")
}

func (service *APIService) uploadImageHandler(ctx echo.Context) error {
	image, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			// body limit exceeded while streaming
			return httpErr
		}
		slog.Error("uploadImageHandler: failed to read request body",
			"status", http.StatusBadRequest, "error", err)
		return ctx.String(http.StatusBadRequest, "Failed to read request body")
	}

	if _, err := service.coreService.IngestImage(image); err != nil {
		if errors.Is(err, core.ErrEmptyImage) {
			slog.Warn("uploadImageHandler: empty upload", "status", http.StatusBadRequest)
			return ctx.String(http.StatusBadRequest, "Request body must contain the image")
		}
		slog.Error("uploadImageHandler: failed to store image",
			"status", http.StatusInternalServerError, "error", err, "bytes", len(image))
		return ctx.String(http.StatusInternalServerError, "Failed to store image")
	}

	return ctx.String(http.StatusOK, uploadAcknowledgement)
}

func (service *APIService) getImageHandler(ctx echo.Context) error {
	image, err := service.coreService.FetchImage()
	if errors.Is(err, core.ErrNoImage) {
		return ctx.JSON(http.StatusNotFound, statusResponse{Status: statusNoImage})
	}
	if err != nil {
		slog.Error("getImageHandler: failed to read image",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to read image")
	}

	service.setNoCache(ctx)
	etag := strconv.Quote(image.ID)
	header := ctx.Response().Header()
	header.Set("ETag", etag)
	header.Set("Last-Modified", image.StoredAt.UTC().Format(http.TimeFormat))

	if ctx.Request().Header.Get("If-None-Match") == etag {
		return ctx.NoContent(http.StatusNotModified)
	}
	return ctx.Blob(http.StatusOK, image.ContentType, image.Data)
}

func (service *APIService) ingestPredictionHandler(ctx echo.Context) error {
	var request predictionRequest
	// Embedded clients do not always send a JSON content type, so the body is decoded directly.
	if err := json.NewDecoder(ctx.Request().Body).Decode(&request); err != nil {
		slog.Warn("ingestPredictionHandler: malformed body",
			"status", http.StatusBadRequest, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "received malformed JSON body")
	}
	if err := ctx.Validate(&request); err != nil {
		slog.Warn("ingestPredictionHandler: invalid prediction",
			"status", http.StatusBadRequest, "error", err)
		return err
	}

	record, err := service.coreService.IngestPrediction(request.Label, request.Confidence)
	if errors.Is(err, core.ErrUnknownLabel) {
		slog.Warn("ingestPredictionHandler: unknown label",
			"status", http.StatusBadRequest, "label", request.Label)
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		slog.Error("ingestPredictionHandler: failed to store prediction",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to store prediction")
	}

	return ctx.JSON(http.StatusOK, ingestPredictionResponse{Status: statusSuccess, Received: record})
}

func (service *APIService) latestPredictionHandler(ctx echo.Context) error {
	record, err := service.coreService.FetchPrediction()
	if errors.Is(err, core.ErrNoPrediction) {
		return ctx.JSON(http.StatusNotFound, statusResponse{Status: statusNoPrediction})
	}
	if err != nil {
		slog.Error("latestPredictionHandler: failed to read prediction",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to read prediction")
	}

	service.setNoCache(ctx)
	return ctx.JSON(http.StatusOK, record)
}

func (service *APIService) statusHandler(ctx echo.Context) error {
	liveness := service.coreService.Liveness()

	response := livenessResponse{
		State:         liveness.State,
		Timeout:       liveness.Timeout.String(),
		SweepInterval: liveness.SweepInterval.String(),
		HasPrediction: liveness.HasPrediction,
	}
	if !liveness.LastIngestAt.IsZero() {
		lastIngest := liveness.LastIngestAt.Local().Format(core.TimestampLayout)
		response.LastIngest = &lastIngest
	}

	service.setNoCache(ctx)
	return ctx.JSON(http.StatusOK, response)
}

func (service *APIService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}

// MetricsMiddleware records request count and latency per route template.
func MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = http.StatusInternalServerError
				var httpErr *echo.HTTPError
				if errors.As(err, &httpErr) {
					status = httpErr.Code
				}
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			metrics.HTTPRequests.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
