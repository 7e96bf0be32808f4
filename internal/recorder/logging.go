package recorder

import "github.com/ShoYamanishi/vurecorder/internal/logger"

// GetLogger returns the recorder module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("recorder")
}
