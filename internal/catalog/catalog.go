// Package catalog indexes finished recordings in a SQL database through
// GORM. SQLite is the default backend; MySQL is available for a shared
// catalog.
package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

const componentName = "catalog"

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.NewStd("recording not found")

// GetLogger returns the catalog module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}

// Catalog is a recordings table.
type Catalog struct {
	db      *gorm.DB
	backend string
	log     logger.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	log  logger.Logger
	slow time.Duration
}

// WithLogger sets the logger used for the catalog and GORM.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithSlowThreshold sets when a query is logged as slow. 0 disables it.
func WithSlowThreshold(d time.Duration) Option {
	return func(o *options) { o.slow = d }
}

// Open connects to the configured backend and migrates the schema.
func Open(s *conf.CatalogSettings, opts ...Option) (*Catalog, error) {
	o := options{log: GetLogger(), slow: defaultSlowThreshold}
	for _, opt := range opts {
		opt(&o)
	}

	backend := strings.ToLower(s.Type)
	var dialector gorm.Dialector
	switch backend {
	case "", "sqlite":
		backend = "sqlite"
		if dir := filepath.Dir(s.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.FileError(fmt.Errorf("failed to create catalog directory: %w", err), dir, 0)
			}
		}
		dialector = sqlite.Open(s.Path)
	case "mysql":
		dialector = mysql.Open(mysqlDSN(&s.MySQL))
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unsupported catalog type %q", s.Type))
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(o.log.Module("gorm"), o.slow)})
	if err != nil {
		return nil, dbError(err, "open").Context("backend", backend).Build()
	}

	c := &Catalog{db: db, backend: backend, log: o.log}
	if err := db.AutoMigrate(&Recording{}); err != nil {
		_ = c.Close()
		return nil, dbError(err, "migrate").Context("backend", backend).Build()
	}

	o.log.Info("catalog opened", logger.String("backend", backend))
	return c, nil
}

func mysqlDSN(m *conf.MySQLSettings) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		m.Username, m.Password, m.Host, m.Port, m.Database)
}

func dbError(err error, op string) *errors.ErrorBuilder {
	return errors.New(fmt.Errorf("catalog %s failed: %w", op, err)).
		Component(componentName).
		Category(errors.CategoryDatabase).
		Context("operation", op)
}

// Backend returns "sqlite" or "mysql".
func (c *Catalog) Backend() string {
	return c.backend
}

// Add inserts r and fills its ID. Adding a path twice fails.
func (c *Catalog) Add(ctx context.Context, r *Recording) error {
	if r.Path == "" {
		return errors.ValidationError("recording path must not be empty")
	}
	if err := c.db.WithContext(ctx).Create(r).Error; err != nil {
		return dbError(err, "add").Context("file_path", r.Path).Build()
	}
	return nil
}

// Get returns the recording with id, or an error wrapping ErrNotFound.
func (c *Catalog) Get(ctx context.Context, id uint) (*Recording, error) {
	var r Recording
	err := c.db.WithContext(ctx).First(&r, id).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, errors.New(ErrNotFound).
			Component(componentName).
			Category(errors.CategoryDatabase).
			Context("id", id).
			Build()
	case err != nil:
		return nil, dbError(err, "get").Context("id", id).Build()
	}
	return &r, nil
}

// List returns recordings newest first. A limit of 0 or less means no limit.
func (c *Catalog) List(ctx context.Context, limit, offset int) ([]Recording, error) {
	q := c.db.WithContext(ctx).Order("started_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var out []Recording
	if err := q.Find(&out).Error; err != nil {
		return nil, dbError(err, "list").Build()
	}
	return out, nil
}

// Count returns the number of recordings.
func (c *Catalog) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.WithContext(ctx).Model(&Recording{}).Count(&n).Error; err != nil {
		return 0, dbError(err, "count").Build()
	}
	return n, nil
}

// DeleteByPath removes the row for path and reports how many rows went.
func (c *Catalog) DeleteByPath(ctx context.Context, path string) (int64, error) {
	res := c.db.WithContext(ctx).Where("path = ?", path).Delete(&Recording{})
	if res.Error != nil {
		return 0, dbError(res.Error, "delete").Context("file_path", path).Build()
	}
	return res.RowsAffected, nil
}

// Close releases the connection pool.
func (c *Catalog) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return dbError(err, "close").Build()
	}
	if err := sqlDB.Close(); err != nil {
		return dbError(err, "close").Build()
	}
	return nil
}
