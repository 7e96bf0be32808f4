package capture

import "github.com/ShoYamanishi/vurecorder/internal/logger"

// GetLogger returns the capture logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("audio").Module("capture")
}
