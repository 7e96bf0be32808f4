package record

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShoYamanishi/vurecorder/internal/capture"
	"github.com/ShoYamanishi/vurecorder/internal/catalog"
	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
)

type fakeSource struct {
	delegate  capture.Delegate
	buffers   [][]byte
	openErr   error
	endOnOpen bool
	closed    bool
}

func (f *fakeSource) Open(int, int) error {
	if f.openErr != nil {
		return f.openErr
	}
	for _, b := range f.buffers {
		f.delegate.InputDataArrived(b)
	}
	if f.endOnOpen {
		f.delegate.AudioInputClosed()
	}
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSource) Terminate() {}

func useFakeSource(t *testing.T, f *fakeSource) {
	t.Helper()
	orig := newSource
	newSource = func(d capture.Delegate, _ conf.AudioSettings) (source, error) {
		f.delegate = d
		return f, nil
	}
	t.Cleanup(func() { newSource = orig })
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	s, err := conf.Defaults()
	require.NoError(t, err)
	s.Recording.Path = t.TempDir()
	s.Recording.BaseName = "test"
	s.Audio.SampleRate = 8000
	s.Audio.Channels = 1
	s.Audio.BufferFrames = 4
	s.Recording.MinFreeMB = 1
	return s
}

func pcm(samples ...int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func readSamples(t *testing.T, path string) []int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	return buf.Data
}

func TestRunRecordsUntilInputCloses(t *testing.T) {
	src := &fakeSource{
		buffers:   [][]byte{pcm(1, 2, 3, 4), pcm(-1, -2, -3, -4)},
		endOnOpen: true,
	}
	useFakeSource(t, src)
	settings := testSettings(t)

	path, err := run(context.Background(), settings, 0)
	require.NoError(t, err)
	assert.True(t, src.closed)
	assert.Equal(t, settings.Recording.Path, filepath.Dir(path))
	assert.Equal(t, []int{1, 2, 3, 4, -1, -2, -3, -4}, readSamples(t, path))
}

func TestRunStopsAfterDuration(t *testing.T) {
	src := &fakeSource{buffers: [][]byte{pcm(7, 7)}}
	useFakeSource(t, src)
	settings := testSettings(t)
	settings.Telemetry.Enabled = true
	settings.Telemetry.Listen = "127.0.0.1:0"

	start := time.Now()
	path, err := run(context.Background(), settings, 20*time.Millisecond)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, []int{7, 7}, readSamples(t, path))
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	useFakeSource(t, src)
	settings := testSettings(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path, err := run(ctx, settings, 0)
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	assert.True(t, wav.NewDecoder(f).IsValidFile())
}

func TestRunOpenFailureLeavesNoFile(t *testing.T) {
	openErr := errors.NewStd("no such device")
	useFakeSource(t, &fakeSource{openErr: openErr})
	settings := testSettings(t)

	_, err := run(context.Background(), settings, 0)
	require.ErrorIs(t, err, openErr)

	entries, err := os.ReadDir(settings.Recording.Path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunReportsStartFailureBeforeInput(t *testing.T) {
	src := &fakeSource{}
	useFakeSource(t, src)
	settings := testSettings(t)
	blocker := filepath.Join(settings.Recording.Path, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	settings.Recording.Path = blocker

	_, err := run(context.Background(), settings, time.Minute)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFileIO))
	assert.True(t, src.closed)
}

func TestRunTelemetryListenFailure(t *testing.T) {
	useFakeSource(t, &fakeSource{})
	settings := testSettings(t)
	settings.Telemetry.Enabled = true
	settings.Telemetry.Listen = "256.0.0.1:bad"

	_, err := run(context.Background(), settings, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryHTTP))
}

func TestRunRefusesWhenDiskIsFull(t *testing.T) {
	useFakeSource(t, &fakeSource{})
	settings := testSettings(t)
	settings.Recording.MinFreeMB = 1 << 40

	_, err := run(context.Background(), settings, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDiskUsage))

	entries, err := os.ReadDir(settings.Recording.Path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRunCatalogsAndAppliesRetention(t *testing.T) {
	src := &fakeSource{buffers: [][]byte{pcm(5, -5)}, endOnOpen: true}
	useFakeSource(t, src)
	settings := testSettings(t)
	settings.Catalog = conf.CatalogSettings{
		Enabled: true,
		Type:    "sqlite",
		Path:    filepath.Join(t.TempDir(), "catalog.db"),
	}
	settings.Recording.Retention = conf.RetentionSettings{MaxAge: time.Hour, MinKeep: 1}
	settings.Notify = conf.NotifySettings{Enabled: true, URLs: []string{"logger://"}, OnFinish: true, Timeout: time.Second}

	old := filepath.Join(settings.Recording.Path, "test-20200101-000000-deadbeef.wav")
	require.NoError(t, os.WriteFile(old, []byte("RIFF"), 0o644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	path, err := run(context.Background(), settings, 0)
	require.NoError(t, err)

	assert.NoFileExists(t, old)
	assert.FileExists(t, path)

	cat, err := catalog.Open(&settings.Catalog)
	require.NoError(t, err)
	defer cat.Close()
	recs, err := cat.List(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, path, recs[0].Path)
	assert.Equal(t, int64(2), recs[0].Frames)
	assert.Equal(t, 8000, recs[0].SampleRate)
}

func TestRunRejectsBadNotificationURL(t *testing.T) {
	useFakeSource(t, &fakeSource{})
	settings := testSettings(t)
	settings.Notify = conf.NotifySettings{Enabled: true, URLs: []string{"nope://x"}, Timeout: time.Second}

	_, err := run(context.Background(), settings, 0)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestRunContinuesWithoutBroker(t *testing.T) {
	src := &fakeSource{buffers: [][]byte{pcm(3)}, endOnOpen: true}
	useFakeSource(t, src)
	settings := testSettings(t)
	settings.MQTT.Enabled = true
	settings.MQTT.Broker = "tcp://127.0.0.1:1"

	path, err := run(context.Background(), settings, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, readSamples(t, path))
}
