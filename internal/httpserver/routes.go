package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ShoYamanishi/vurecorder/internal/catalog"
	"github.com/ShoYamanishi/vurecorder/internal/diskmanager"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/meter"
	"github.com/ShoYamanishi/vurecorder/internal/taskmanager"
	"github.com/ShoYamanishi/vurecorder/internal/waveform"
	"github.com/ShoYamanishi/vurecorder/internal/wavwriter"
)

// Plot size limits for the waveform endpoint.
const (
	defaultPlotWidth  = 120
	defaultPlotHeight = 24
	maxPlotWidth      = 4096
	maxPlotHeight     = 2048

	defaultListLimit = 50
	maxListLimit     = 500
)

// LevelStatus is the meter part of StatusResponse.
type LevelStatus struct {
	Latest       meter.Level `json:"latest"`
	UpdatedAt    time.Time   `json:"updated_at"`
	Peak         meter.Level `json:"peak"`
	ClippedCount int         `json:"clipped_count"`
}

// StatusResponse is returned by GET /api/v1/status.
type StatusResponse struct {
	Uptime    string                `json:"uptime"`
	Session   *taskmanager.Snapshot `json:"session,omitempty"`
	Level     *LevelStatus          `json:"level,omitempty"`
	Recording *wavwriter.Stats      `json:"recording,omitempty"`
	LastFile  string                `json:"last_file,omitempty"`
	Disk      *diskmanager.Usage    `json:"disk,omitempty"`
	DiskError string                `json:"disk_error,omitempty"`
}

// RecordingsResponse is returned by GET /api/v1/recordings.
type RecordingsResponse struct {
	Total      int64               `json:"total"`
	Limit      int                 `json:"limit"`
	Offset     int                 `json:"offset"`
	Recordings []catalog.Recording `json:"recordings"`
}

func (s *Server) initRoutes() {
	s.Echo.GET("/health", s.handleHealth)
	if s.deps.MetricsHandler != nil {
		s.Echo.GET("/metrics", echo.WrapHandler(s.deps.MetricsHandler))
	}

	v1 := s.Echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/waveform", s.handleWaveform)
	v1.GET("/waveform/live", s.handleLiveWaveform)
	v1.GET("/recordings", s.handleRecordings)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := StatusResponse{Uptime: time.Since(s.started).Round(time.Second).String()}

	if s.deps.Sessions != nil {
		snap := s.deps.Sessions.Snapshot()
		resp.Session = &snap
	}
	if s.deps.Levels != nil {
		latest, updated := s.deps.Levels.Latest()
		peak, clipped := s.deps.Levels.Peak()
		resp.Level = &LevelStatus{Latest: latest, UpdatedAt: updated, Peak: peak, ClippedCount: clipped}
	}
	if s.deps.Recordings != nil {
		st := s.deps.Recordings.Stats()
		resp.Recording = &st
		resp.LastFile = s.deps.Recordings.LastFile()
	}
	if s.deps.DiskUsage != nil {
		if u, err := s.deps.DiskUsage(); err != nil {
			resp.DiskError = err.Error()
		} else {
			resp.Disk = &u
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// handleWaveform plots the last finished recording.
func (s *Server) handleWaveform(c echo.Context) error {
	if s.deps.Plotter == nil || s.deps.Recordings == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "waveform plots are not available")
	}
	path := s.deps.Recordings.LastFile()
	if path == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no finished recording yet")
	}

	width, height, err := plotSize(c)
	if err != nil {
		return err
	}

	plot, err := s.deps.Plotter.Plot(path, width, height)
	if err != nil {
		if errors.IsCategory(err, errors.CategoryFileIO) {
			return echo.NewHTTPError(http.StatusNotFound, "recording is no longer available").SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to plot recording").SetInternal(err)
	}
	return c.JSON(http.StatusOK, plot)
}

// handleLiveWaveform plots the capture history.
func (s *Server) handleLiveWaveform(c echo.Context) error {
	if s.deps.History == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "live waveform is not available")
	}
	width, height, err := plotSize(c)
	if err != nil {
		return err
	}

	samples := s.deps.History.Samples()
	if len(samples) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no audio captured yet")
	}
	plot, err := waveform.FromSamples(samples, width, height)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to plot live audio").SetInternal(err)
	}
	return c.JSON(http.StatusOK, plot)
}

// handleRecordings pages through the catalog, newest first.
func (s *Server) handleRecordings(c echo.Context) error {
	if s.deps.Catalog == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "recording catalog is disabled")
	}
	limit, err := intParam(c, "limit", defaultListLimit, maxListLimit)
	if err != nil {
		return err
	}
	offset := 0
	if raw := c.QueryParam("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must be a non-negative integer")
		}
	}

	ctx := c.Request().Context()
	total, err := s.deps.Catalog.Count(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to count recordings").SetInternal(err)
	}
	recs, err := s.deps.Catalog.List(ctx, limit, offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list recordings").SetInternal(err)
	}
	if recs == nil {
		recs = []catalog.Recording{}
	}
	return c.JSON(http.StatusOK, RecordingsResponse{Total: total, Limit: limit, Offset: offset, Recordings: recs})
}

func plotSize(c echo.Context) (width, height int, err error) {
	width, err = intParam(c, "width", defaultPlotWidth, maxPlotWidth)
	if err != nil {
		return 0, 0, err
	}
	height, err = intParam(c, "height", defaultPlotHeight, maxPlotHeight)
	if err != nil {
		return 0, 0, err
	}
	return width, height, nil
}

func intParam(c echo.Context, name string, def, limit int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 || v > limit {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer in [1, "+strconv.Itoa(limit)+"]")
	}
	return v, nil
}
