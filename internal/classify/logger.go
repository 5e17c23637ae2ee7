package classify

import "github.com/tphakala/carnet-go/internal/logger"

// GetLogger returns the classify module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("classify")
}
