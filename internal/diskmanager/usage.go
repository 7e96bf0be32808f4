// Package diskmanager keeps the recording volume within its budget: free
// space checks before a session and retention cleanup of old recordings.
package diskmanager

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
	"github.com/ShoYamanishi/vurecorder/internal/logger"
)

const componentName = "diskmanager"

// GetLogger returns the diskmanager module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module(componentName)
}

// Usage describes the filesystem holding a path.
type Usage struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// UsageFunc reports the usage of the filesystem holding path.
type UsageFunc func(path string) (Usage, error)

// GetUsage returns the usage of the filesystem holding path. A path that does
// not exist yet is resolved to its closest existing parent.
func GetUsage(path string) (Usage, error) {
	target := existingParent(path)
	stat, err := disk.Usage(target)
	if err != nil {
		return Usage{}, errors.New(fmt.Errorf("failed to get disk usage: %w", err)).
			Component(componentName).
			Category(errors.CategoryDiskUsage).
			Context("path", path).
			Build()
	}
	return Usage{
		Path:        target,
		TotalBytes:  stat.Total,
		FreeBytes:   stat.Free,
		UsedBytes:   stat.Used,
		UsedPercent: stat.UsedPercent,
	}, nil
}

// CheckFreeSpace fails when the filesystem holding path has less than
// minFree bytes available.
func CheckFreeSpace(path string, minFree uint64) error {
	return checkFreeSpace(GetUsage, path, minFree)
}

func checkFreeSpace(usage UsageFunc, path string, minFree uint64) error {
	if minFree == 0 {
		return nil
	}
	u, err := usage(path)
	if err != nil {
		return err
	}
	if u.FreeBytes < minFree {
		return errors.Newf("insufficient free space: %d bytes available, %d required", u.FreeBytes, minFree).
			Component(componentName).
			Category(errors.CategoryDiskUsage).
			Priority(errors.PriorityHigh).
			Context("path", u.Path).
			Context("free_bytes", u.FreeBytes).
			Context("required_bytes", minFree).
			Build()
	}
	return nil
}

func existingParent(path string) string {
	p := filepath.Clean(path)
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	for {
		if _, err := os.Stat(p); err == nil {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
