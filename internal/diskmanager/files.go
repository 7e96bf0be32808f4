package diskmanager

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ShoYamanishi/vurecorder/internal/errors"
)

// FileInfo describes one recording on disk.
type FileInfo struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// ListRecordings returns the WAV files directly under dir whose names start
// with "<prefix>-", oldest first. An empty prefix matches every WAV file. A
// missing directory yields no files.
func ListRecordings(dir, prefix string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(fmt.Errorf("failed to read recording directory: %w", err)).
			Component(componentName).
			Category(errors.CategoryFileIO).
			Context("operation", "list_recordings").
			Context("dir", dir).
			Build()
	}

	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || !isRecording(e.Name(), prefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Path < files[j].Path
		}
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

func isRecording(name, prefix string) bool {
	if !strings.EqualFold(filepath.Ext(name), ".wav") {
		return false
	}
	return prefix == "" || strings.HasPrefix(name, prefix+"-")
}
