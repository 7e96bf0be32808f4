package diskmanager

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

// DefaultMaxDeletions caps one cleanup run when the policy sets no limit.
const DefaultMaxDeletions = 1000

// Policy selects recordings for removal. A zero MaxAge or MaxUsagePercent
// disables that pass.
type Policy struct {
	MaxAge          time.Duration
	MaxUsagePercent float64
	// MinKeep newest recordings are never removed.
	MinKeep      int
	MaxDeletions int
}

// Enabled reports whether any pass is active.
func (p Policy) Enabled() bool {
	return p.MaxAge > 0 || p.MaxUsagePercent > 0
}

// Result lists what a cleanup run removed.
type Result struct {
	Deleted    []string `json:"deleted"`
	FreedBytes int64    `json:"freed_bytes"`
}

// Cleaner applies a Policy to a recording directory.
type Cleaner struct {
	policy   Policy
	usage    UsageFunc
	now      func() time.Time
	onDelete func(path string)
	log      logger.Logger
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithUsageFunc replaces GetUsage.
func WithUsageFunc(fn UsageFunc) Option {
	return func(c *Cleaner) { c.usage = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cleaner) { c.now = now }
}

// WithDeleteHook is called with the path of every removed recording,
// including ones that had already disappeared.
func WithDeleteHook(fn func(path string)) Option {
	return func(c *Cleaner) { c.onDelete = fn }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Cleaner) { c.log = l }
}

// NewCleaner returns a Cleaner for p.
func NewCleaner(p Policy, opts ...Option) *Cleaner {
	if p.MinKeep < 0 {
		p.MinKeep = 0
	}
	if p.MaxDeletions <= 0 {
		p.MaxDeletions = DefaultMaxDeletions
	}
	c := &Cleaner{
		policy: p,
		usage:  GetUsage,
		now:    time.Now,
		log:    GetLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckFreeSpace checks minFree against the cleaner's usage source.
func (c *Cleaner) CheckFreeSpace(path string, minFree uint64) error {
	return checkFreeSpace(c.usage, path, minFree)
}

// Run removes recordings of dir matching prefix. The age pass runs first and
// deletes files older than MaxAge. The usage pass then deletes the oldest
// remaining files while usage is above MaxUsagePercent. A cancelled context
// stops the run early without error.
func (c *Cleaner) Run(ctx context.Context, dir, prefix string) (Result, error) {
	var res Result
	if !c.policy.Enabled() {
		return res, nil
	}

	files, err := ListRecordings(dir, prefix)
	if err != nil {
		return res, err
	}
	candidates := files[:max(len(files)-c.policy.MinKeep, 0)]
	next := 0

	if c.policy.MaxAge > 0 {
		cutoff := c.now().Add(-c.policy.MaxAge)
		for next < len(candidates) && candidates[next].ModTime.Before(cutoff) {
			if c.stopped(ctx, &res) {
				return res, nil
			}
			if err := c.remove(candidates[next], &res); err != nil {
				return res, err
			}
			next++
		}
	}

	if c.policy.MaxUsagePercent > 0 {
		for next < len(candidates) {
			if c.stopped(ctx, &res) {
				return res, nil
			}
			u, err := c.usage(dir)
			if err != nil {
				return res, err
			}
			if u.UsedPercent <= c.policy.MaxUsagePercent {
				break
			}
			if err := c.remove(candidates[next], &res); err != nil {
				return res, err
			}
			next++
		}
	}

	if len(res.Deleted) > 0 {
		c.log.Info("retention cleanup finished",
			logger.String("dir", dir),
			logger.Int("files_deleted", len(res.Deleted)),
			logger.Int64("freed_bytes", res.FreedBytes))
	}
	return res, nil
}

func (c *Cleaner) stopped(ctx context.Context, res *Result) bool {
	if ctx.Err() != nil {
		c.log.Info("cleanup interrupted", logger.Int("files_deleted", len(res.Deleted)))
		return true
	}
	if len(res.Deleted) >= c.policy.MaxDeletions {
		c.log.Debug("reached maximum number of deletions", logger.Int("max", c.policy.MaxDeletions))
		return true
	}
	return false
}

func (c *Cleaner) remove(f FileInfo, res *Result) error {
	if err := os.Remove(f.Path); err != nil {
		if !os.IsNotExist(err) {
			return errors.New(fmt.Errorf("failed to remove recording: %w", err)).
				Component(componentName).
				Category(errors.CategoryDiskCleanup).
				Context("operation", "remove").
				Context("file_path", f.Path).
				Build()
		}
		c.log.Debug("recording already removed", logger.String("file", f.Path))
	} else {
		res.FreedBytes += f.Size
	}

	res.Deleted = append(res.Deleted, f.Path)
	c.log.Debug("recording deleted", logger.String("file", f.Path))
	if c.onDelete != nil {
		c.onDelete(f.Path)
	}

	runtime.Gosched()
	return nil
}
