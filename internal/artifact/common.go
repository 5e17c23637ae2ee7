package artifact

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultSFTPPort   = 22
	defaultFTPPort    = 21
	defaultMaxRetries = 3
	defaultBackoff    = time.Second
	tempPrefix        = "carnet-upload-"
)

// Substrings that mark an error as worth retrying.
var transientErrorPatterns = []string{
	"connection reset",
	"connection refused",
	"connection closed",
	"timeout",
	"temporary",
	"broken pipe",
	"no route to host",
	"EOF",
	"ssh: handshake failed",
	"resource temporarily unavailable",
}

// IsTransientError reports whether err is likely temporary.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	if os.IsTimeout(err) {
		return true
	}
	msg := err.Error()
	for _, pattern := range transientErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// withRetry runs op up to maxRetries times with linear backoff while the
// error looks transient.
func withRetry(ctx context.Context, maxRetries int, backoff time.Duration, op func() error) error {
	var lastErr error
	for attempt := range maxRetries {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op()
		if err == nil {
			return nil
		}
		if !IsTransientError(err) {
			return err
		}
		lastErr = err
		GetLogger().Debug("retrying upload step",
			logger.Error(err),
			logger.Int("attempt", attempt+1),
			logger.Int("max_retries", maxRetries))

		select {
		case <-time.After(backoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("operation failed after %d attempts: %w", maxRetries, lastErr)
}

// remoteName validates the file name placed under a target directory.
func remoteName(name string) (string, error) {
	clean := path.Clean(filepath.ToSlash(name))
	if name == "" || clean == "." || strings.Contains(clean, "/") || strings.HasPrefix(clean, "..") {
		return "", errors.Newf("invalid remote name %q", name).
			Component("artifact").
			Category(errors.CategoryValidation).
			Build()
	}
	return clean, nil
}

func tempName(final string) string {
	return fmt.Sprintf("%s%d-%s", tempPrefix, time.Now().UnixNano(), final)
}

func targetError(err error, target, operation string) *errors.ErrorBuilder {
	return errors.New(err).
		Component("artifact").
		Category(errors.CategoryNetwork).
		Context("target", target).
		Context("operation", operation)
}
