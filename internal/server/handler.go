package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/theranostics/internal/fhirclient"
	"github.com/ehr/theranostics/internal/ingest"
	"github.com/ehr/theranostics/internal/platform/auth"
	"github.com/ehr/theranostics/internal/platform/db"
	"github.com/ehr/theranostics/internal/platform/middleware"
	"github.com/ehr/theranostics/pkg/pagination"
)

// Ingester is implemented by *ingest.Service.
type Ingester interface {
	IngestDirectory(ctx context.Context, req ingest.ImagingRequest) (ingest.Result, error)
	FetchPatients(ctx context.Context, req ingest.PatientsRequest) (ingest.Result, error)
}

type Handler struct {
	svc    Ingester
	db     db.Pinger
	logger zerolog.Logger

	fhirBaseURL string
	pageSize    int
	version     string
}

func NewHandler(svc Ingester, logger zerolog.Logger) *Handler {
	return &Handler{
		svc:      svc,
		logger:   logger,
		pageSize: pagination.DefaultPageSize,
		version:  "dev",
	}
}

// SetDatabase enables the database section of the health report.
func (h *Handler) SetDatabase(p db.Pinger) {
	h.db = p
}

// SetFHIRDefaults fills base_url and page_size when a request omits them.
func (h *Handler) SetFHIRDefaults(baseURL string, pageSize int) {
	h.fhirBaseURL = baseURL
	if pageSize > 0 {
		h.pageSize = pageSize
	}
}

func (h *Handler) SetVersion(v string) {
	if v != "" {
		h.version = v
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo, api *echo.Group) {
	e.GET("/health", h.Health)

	ingestGroup := api.Group("/ingest")
	ingestGroup.POST("/imaging", h.IngestImaging)
	ingestGroup.POST("/patients", h.FetchPatients)
}

// ingestResponse carries the run result. Error is set when the artifact
// was written but a sink failed.
type ingestResponse struct {
	ingest.Result
	Error string `json:"error,omitempty"`
}

func (h *Handler) IngestImaging(c echo.Context) error {
	var req ingest.ImagingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res, err := h.svc.IngestDirectory(c.Request().Context(), req)
	return h.respond(c, res, err)
}

func (h *Handler) FetchPatients(c echo.Context) error {
	var req ingest.PatientsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.BaseURL == "" {
		req.BaseURL = h.fhirBaseURL
	}
	if req.PageSize <= 0 {
		req.PageSize = pagination.PageSizeFromContext(c, h.pageSize)
	} else {
		req.PageSize = pagination.ClampPageSize(req.PageSize)
	}

	res, err := h.svc.FetchPatients(c.Request().Context(), req)
	return h.respond(c, res, err)
}

func (h *Handler) respond(c echo.Context, res ingest.Result, err error) error {
	if err == nil {
		h.logger.Info().
			Str("request_id", middleware.GetRequestID(c)).
			Str("subject", subject(c)).
			Str("run_id", res.RunID).
			Str("kind", res.Kind).
			Int("count", res.Count).
			Msg("ingest run finished")
		return c.JSON(http.StatusOK, ingestResponse{Result: res})
	}

	var sinkErr *ingest.SinkError
	if errors.As(err, &sinkErr) {
		h.logger.Error().Err(err).
			Str("request_id", middleware.GetRequestID(c)).
			Str("subject", subject(c)).
			Str("run_id", res.RunID).
			Msg("artifact written but sinks failed")
		return c.JSON(http.StatusBadGateway, ingestResponse{Result: res, Error: sinkErr.Error()})
	}
	return toHTTPError(err)
}

func toHTTPError(err error) error {
	var remote *fhirclient.RemoteError
	switch {
	case errors.Is(err, ingest.ErrMissingInput):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ingest.ErrWarehouseDisabled):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, fhirclient.ErrPageLimit), errors.As(err, &remote):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error()).SetInternal(err)
}

type healthResponse struct {
	Status   string    `json:"status"`
	Version  string    `json:"version"`
	Database db.Health `json:"database"`
}

func (h *Handler) Health(c echo.Context) error {
	dbHealth := db.Check(c.Request().Context(), h.db)
	resp := healthResponse{Status: "ok", Version: h.version, Database: dbHealth}
	if !dbHealth.Healthy() {
		resp.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

func subject(c echo.Context) string {
	if s := auth.SubjectFromContext(c.Request().Context()); s != "" {
		return s
	}
	return "anonymous"
}
