package slowtask

import "github.com/ShoYamanishi/vurecorder/internal/logger"

// GetLogger returns the slowtask logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("slowtask")
}
