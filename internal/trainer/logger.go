package trainer

import "github.com/tphakala/carnet-go/internal/logger"

// GetLogger returns the trainer logger. It is fetched from the global
// logger each time so it follows the configured central logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("trainer")
}
