package labeler

import "github.com/tphakala/carnet-go/internal/logger"

// GetLogger returns the labeler module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("labeler")
}
