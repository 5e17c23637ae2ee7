package artifact

import "github.com/tphakala/carnet-go/internal/logger"

// GetLogger returns the artifact module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("artifact")
}
