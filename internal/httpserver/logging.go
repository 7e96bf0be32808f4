package httpserver

import "github.com/ShoYamanishi/vurecorder/internal/logger"

// GetLogger returns the http server logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("http")
}
