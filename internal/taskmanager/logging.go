package taskmanager

import "github.com/ShoYamanishi/vurecorder/internal/logger"

// GetLogger returns the taskmanager logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("taskmanager")
}
