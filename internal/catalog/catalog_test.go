package catalog

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	s := &conf.CatalogSettings{Enabled: true, Type: "sqlite", Path: filepath.Join(t.TempDir(), "db", "catalog.db")}
	c, err := Open(s, WithLogger(logger.NewDiscard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func rec(path string, started time.Time) *Recording {
	return &Recording{
		Path:       path,
		BaseName:   "take",
		SampleRate: 48000,
		Channels:   1,
		Frames:     48000,
		Seconds:    1,
		PeakDBFS:   -3.5,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
	}
}

func TestAddGetList(t *testing.T) {
	t.Parallel()

	c := openTest(t)
	ctx := context.Background()
	assert.Equal(t, "sqlite", c.Backend())

	base := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	first := rec("/r/take-1.wav", base)
	second := rec("/r/take-2.wav", base.Add(time.Minute))
	require.NoError(t, c.Add(ctx, first))
	require.NoError(t, c.Add(ctx, second))
	assert.NotZero(t, first.ID)

	got, err := c.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "/r/take-1.wav", got.Path)
	assert.InDelta(t, -3.5, got.PeakDBFS, 1e-9)
	assert.Equal(t, int64(48000), got.Frames)

	all, err := c.List(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "/r/take-2.wav", all[0].Path)

	page, err := c.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "/r/take-1.wav", page[0].Path)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	c := openTest(t)
	_, err := c.Get(context.Background(), 42)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}

func TestAddRejectsDuplicatesAndEmptyPath(t *testing.T) {
	t.Parallel()

	c := openTest(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, c.Add(ctx, rec("/r/a.wav", now)))
	err := c.Add(ctx, rec("/r/a.wav", now))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))

	err = c.Add(ctx, &Recording{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestDeleteByPath(t *testing.T) {
	t.Parallel()

	c := openTest(t)
	ctx := context.Background()
	require.NoError(t, c.Add(ctx, rec("/r/a.wav", time.Now())))

	n, err := c.DeleteByPath(ctx, "/r/a.wav")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = c.DeleteByPath(ctx, "/r/a.wav")
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReopenKeepsRows(t *testing.T) {
	t.Parallel()

	s := &conf.CatalogSettings{Enabled: true, Type: "sqlite", Path: filepath.Join(t.TempDir(), "catalog.db")}
	c, err := Open(s, WithLogger(logger.NewDiscard()))
	require.NoError(t, err)
	require.NoError(t, c.Add(context.Background(), rec("/r/a.wav", time.Now())))
	require.NoError(t, c.Close())

	c, err = Open(s, WithLogger(logger.NewDiscard()))
	require.NoError(t, err)
	defer c.Close()
	n, err := c.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpenErrors(t *testing.T) {
	t.Parallel()

	_, err := Open(&conf.CatalogSettings{Type: "oracle"}, WithLogger(logger.NewDiscard()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	mysqlSettings := &conf.CatalogSettings{
		Type:  "mysql",
		MySQL: conf.MySQLSettings{Host: "127.0.0.1", Port: 1, Username: "u", Password: "p", Database: "d"},
	}
	_, err = Open(mysqlSettings, WithLogger(logger.NewDiscard()))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
}

func TestMySQLDSN(t *testing.T) {
	t.Parallel()

	dsn := mysqlDSN(&conf.MySQLSettings{Host: "db", Port: 3306, Username: "rec", Password: "pw", Database: "takes"})
	assert.Equal(t, "rec:pw@tcp(db:3306)/takes?charset=utf8mb4&parseTime=True&loc=Local", dsn)
}

func TestGormLoggerLevels(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	gl := newGormLogger(logger.NewSlogLogger(buf, logger.LogLevelDebug, time.UTC), time.Millisecond)

	ctx := context.Background()
	sql := func() (string, int64) { return "SELECT 1", 1 }

	gl.Trace(ctx, time.Now(), sql, nil)
	assert.Empty(t, buf.String(), "fast query logged at warn level")

	gl.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	assert.Contains(t, buf.String(), "slow query detected")

	buf.Reset()
	gl.Trace(ctx, time.Now(), sql, errors.NewStd("boom"))
	assert.Contains(t, buf.String(), "database query failed")

	buf.Reset()
	gl.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), sql, errors.NewStd("boom"))
	gl.Info(ctx, "hidden %d", 1)
	assert.Empty(t, buf.String())

	gl.Warn(ctx, "shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
}
