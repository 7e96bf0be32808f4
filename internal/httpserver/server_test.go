package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShoYamanishi/vurecorder/internal/catalog"
	"github.com/ShoYamanishi/vurecorder/internal/diskmanager"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
	"github.com/ShoYamanishi/vurecorder/internal/meter"
	"github.com/ShoYamanishi/vurecorder/internal/observability/metrics"
	"github.com/ShoYamanishi/vurecorder/internal/taskmanager"
	"github.com/ShoYamanishi/vurecorder/internal/waveform"
	"github.com/ShoYamanishi/vurecorder/internal/wavwriter"
)

type fakeSessions struct{ snap taskmanager.Snapshot }

func (f fakeSessions) Snapshot() taskmanager.Snapshot { return f.snap }

type fakeRecordings struct {
	last  string
	stats wavwriter.Stats
}

func (f fakeRecordings) LastFile() string       { return f.last }
func (f fakeRecordings) Stats() wavwriter.Stats { return f.stats }

type fakePlotter struct {
	err   error
	calls []string
}

func (f *fakePlotter) Plot(path string, width, height int) (*waveform.Plot, error) {
	f.calls = append(f.calls, path)
	if f.err != nil {
		return nil, f.err
	}
	return &waveform.Plot{Peak: 1000, Length: 10, Width: width, Height: height, Points: make([]int, 2*width)}, nil
}

type fakeHistory struct{ samples []int16 }

func (f fakeHistory) Samples() []int16 { return f.samples }

type fakeCatalog struct {
	recs   []catalog.Recording
	err    error
	limit  int
	offset int
}

func (f *fakeCatalog) List(_ context.Context, limit, offset int) ([]catalog.Recording, error) {
	f.limit, f.offset = limit, offset
	if f.err != nil {
		return nil, f.err
	}
	end := min(offset+limit, len(f.recs))
	if offset >= end {
		return nil, nil
	}
	return f.recs[offset:end], nil
}

func (f *fakeCatalog) Count(context.Context) (int64, error) {
	return int64(len(f.recs)), f.err
}

func serve(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := New(Deps{}, logger.NewDiscard())

	rec := serve(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	t.Parallel()

	m := &meter.Meter{}
	m.Update([]byte{0xff, 0x7f, 0x00, 0x80}) // one full-scale sample each way

	s := New(Deps{
		Sessions:   fakeSessions{snap: taskmanager.Snapshot{Running: true, QueueState: "opened", Pending: 3, Fed: 10}},
		Levels:     m,
		Recordings: fakeRecordings{last: "/tmp/a.wav", stats: wavwriter.Stats{File: "/tmp/b.wav", Frames: 480}},
	}, logger.NewDiscard())

	rec := serve(t, s, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)
	assert.True(t, resp.Session.Running)
	assert.Equal(t, 3, resp.Session.Pending)
	assert.Equal(t, uint64(10), resp.Session.Fed)
	require.NotNil(t, resp.Level)
	assert.True(t, resp.Level.Latest.Clipping)
	assert.Equal(t, 1, resp.Level.ClippedCount)
	require.NotNil(t, resp.Recording)
	assert.Equal(t, int64(480), resp.Recording.Frames)
	assert.Equal(t, "/tmp/a.wav", resp.LastFile)
}

func TestStatusWithoutSources(t *testing.T) {
	t.Parallel()
	s := New(Deps{}, logger.NewDiscard())

	rec := serve(t, s, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "uptime")
	assert.NotContains(t, raw, "session")
	assert.NotContains(t, raw, "level")
}

func TestWaveform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		recordings Recordings
		plotter    *fakePlotter
		target     string
		wantCode   int
	}{
		{"no plotter", fakeRecordings{last: "/tmp/a.wav"}, nil, "/api/v1/waveform", http.StatusNotImplemented},
		{"no recording yet", fakeRecordings{}, &fakePlotter{}, "/api/v1/waveform", http.StatusNotFound},
		{"defaults", fakeRecordings{last: "/tmp/a.wav"}, &fakePlotter{}, "/api/v1/waveform", http.StatusOK},
		{"custom size", fakeRecordings{last: "/tmp/a.wav"}, &fakePlotter{}, "/api/v1/waveform?width=8&height=4", http.StatusOK},
		{"bad width", fakeRecordings{last: "/tmp/a.wav"}, &fakePlotter{}, "/api/v1/waveform?width=abc", http.StatusBadRequest},
		{"width too large", fakeRecordings{last: "/tmp/a.wav"}, &fakePlotter{}, "/api/v1/waveform?width=100000", http.StatusBadRequest},
		{
			"file gone",
			fakeRecordings{last: "/tmp/a.wav"},
			&fakePlotter{err: errors.FileError(errors.NewStd("missing"), "/tmp/a.wav", 0)},
			"/api/v1/waveform",
			http.StatusNotFound,
		},
		{
			"decode failure",
			fakeRecordings{last: "/tmp/a.wav"},
			&fakePlotter{err: errors.Newf("bad header").Category(errors.CategoryAudio).Build()},
			"/api/v1/waveform",
			http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			deps := Deps{Recordings: tt.recordings}
			if tt.plotter != nil {
				deps.Plotter = tt.plotter
			}
			s := New(deps, logger.NewDiscard())

			rec := serve(t, s, tt.target)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if rec.Code == http.StatusOK {
				var plot waveform.Plot
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plot))
				assert.Len(t, plot.Points, 2*plot.Width)
				assert.Equal(t, []string{"/tmp/a.wav"}, tt.plotter.calls)
			}
		})
	}
}

func TestStatusDisk(t *testing.T) {
	t.Parallel()

	s := New(Deps{DiskUsage: func() (diskmanager.Usage, error) {
		return diskmanager.Usage{Path: "/data", TotalBytes: 1000, FreeBytes: 250, UsedPercent: 75}, nil
	}}, logger.NewDiscard())

	var resp StatusResponse
	rec := serve(t, s, "/api/v1/status")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Disk)
	assert.Equal(t, uint64(250), resp.Disk.FreeBytes)
	assert.Empty(t, resp.DiskError)

	failing := New(Deps{DiskUsage: func() (diskmanager.Usage, error) {
		return diskmanager.Usage{}, errors.NewStd("statfs failed")
	}}, logger.NewDiscard())
	resp = StatusResponse{}
	rec = serve(t, failing, "/api/v1/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Disk)
	assert.Equal(t, "statfs failed", resp.DiskError)
}

func TestLiveWaveform(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		history  History
		target   string
		wantCode int
	}{
		{"disabled", nil, "/api/v1/waveform/live", http.StatusNotImplemented},
		{"empty", fakeHistory{}, "/api/v1/waveform/live", http.StatusNotFound},
		{"bad height", fakeHistory{samples: []int16{1}}, "/api/v1/waveform/live?height=0", http.StatusBadRequest},
		{"plotted", fakeHistory{samples: []int16{100, -100, 32767, 0}}, "/api/v1/waveform/live?width=2&height=10", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := New(Deps{History: tt.history}, logger.NewDiscard())

			rec := serve(t, s, tt.target)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if rec.Code == http.StatusOK {
				var plot waveform.Plot
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &plot))
				assert.Equal(t, 32767, plot.Peak)
				assert.Equal(t, 4, plot.Length)
				assert.Len(t, plot.Points, 4)
			}
		})
	}
}

func TestRecordings(t *testing.T) {
	t.Parallel()

	recs := []catalog.Recording{{ID: 3, Path: "/r/c.wav"}, {ID: 2, Path: "/r/b.wav"}, {ID: 1, Path: "/r/a.wav"}}

	t.Run("disabled", func(t *testing.T) {
		t.Parallel()
		rec := serve(t, New(Deps{}, logger.NewDiscard()), "/api/v1/recordings")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cat := &fakeCatalog{recs: recs}
		rec := serve(t, New(Deps{Catalog: cat}, logger.NewDiscard()), "/api/v1/recordings")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RecordingsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, int64(3), resp.Total)
		assert.Equal(t, 50, resp.Limit)
		assert.Len(t, resp.Recordings, 3)
		assert.Equal(t, "/r/c.wav", resp.Recordings[0].Path)
	})

	t.Run("paged", func(t *testing.T) {
		t.Parallel()
		cat := &fakeCatalog{recs: recs}
		rec := serve(t, New(Deps{Catalog: cat}, logger.NewDiscard()), "/api/v1/recordings?limit=1&offset=1")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp RecordingsResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Recordings, 1)
		assert.Equal(t, "/r/b.wav", resp.Recordings[0].Path)
		assert.Equal(t, 1, cat.limit)
		assert.Equal(t, 1, cat.offset)
	})

	t.Run("past the end", func(t *testing.T) {
		t.Parallel()
		rec := serve(t, New(Deps{Catalog: &fakeCatalog{recs: recs}}, logger.NewDiscard()), "/api/v1/recordings?offset=10")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"recordings":[]`)
	})

	t.Run("bad params", func(t *testing.T) {
		t.Parallel()
		s := New(Deps{Catalog: &fakeCatalog{recs: recs}}, logger.NewDiscard())
		assert.Equal(t, http.StatusBadRequest, serve(t, s, "/api/v1/recordings?offset=-1").Code)
		assert.Equal(t, http.StatusBadRequest, serve(t, s, "/api/v1/recordings?limit=1000").Code)
	})

	t.Run("database error", func(t *testing.T) {
		t.Parallel()
		cat := &fakeCatalog{err: errors.Newf("locked").Category(errors.CategoryDatabase).Build()}
		rec := serve(t, New(Deps{Catalog: cat}, logger.NewDiscard()), "/api/v1/recordings")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestMetricsEndpointAndMiddleware(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	httpMetrics, err := metrics.NewHTTPMetrics(reg)
	require.NoError(t, err)

	s := New(Deps{
		HTTPMetrics:    httpMetrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}, logger.NewDiscard())

	serve(t, s, "/health")
	serve(t, s, "/health")
	serve(t, s, "/api/v1/waveform?width=1")
	serve(t, s, "/nowhere")

	rec := serve(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",path="/health",status_code="200"} 2`)
	assert.Contains(t, body, `http_requests_total{method="GET",path="/api/v1/waveform",status_code="501"} 1`)
	assert.Contains(t, body, `status_code="404"`)
}

func TestStartAndShutdown(t *testing.T) {
	t.Parallel()
	s := New(Deps{}, logger.NewDiscard())

	require.NoError(t, s.Start("127.0.0.1:0"))
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	_, err = http.Get("http://" + s.Addr() + "/health")
	assert.Error(t, err)
}

func TestStartListenError(t *testing.T) {
	t.Parallel()
	s := New(Deps{}, logger.NewDiscard())

	err := s.Start("256.0.0.1:bad")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHTTP))
	assert.NoError(t, s.Shutdown(context.Background()))
}
