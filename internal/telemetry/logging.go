package telemetry

import "github.com/ShoYamanishi/vurecorder/internal/logger"

// GetLogger returns the telemetry logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
