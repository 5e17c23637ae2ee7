// Package telemetry reports enhanced errors to Sentry with privacy scrubbing.
// Reporting is opt-in.
package telemetry

import (
	"regexp"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/carnet-go/internal/conf"
	"github.com/tphakala/carnet-go/internal/errors"
	"github.com/tphakala/carnet-go/internal/logger"
)

const defaultEnvironment = "production"

var (
	mu          sync.Mutex
	initialized bool
)

// Init initializes Sentry when enabled in settings and registers the
// errors reporter.
func Init(settings *conf.Settings) error {
	return InitWithTransport(settings, nil)
}

// InitWithTransport is Init with a custom transport. A nil transport uses
// the SDK default.
func InitWithTransport(settings *conf.Settings, transport sentry.Transport) error {
	mu.Lock()
	defer mu.Unlock()

	log := GetLogger()
	if !settings.Sentry.Enabled {
		log.Debug("sentry telemetry is disabled")
		return nil
	}
	if settings.Sentry.DSN == "" {
		return errors.Newf("sentry is enabled but no DSN is configured").
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	environment := settings.Sentry.Environment
	if environment == "" {
		environment = defaultEnvironment
	}
	release := "carnet-go"
	if settings.Version != "" {
		release += "@" + settings.Version
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.Sentry.DSN,
		Debug:            settings.Sentry.Debug,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      environment,
		ServerName:       "",
		Release:          release,
		Transport:        transport,
		BeforeSend:       beforeSend,
	})
	if err != nil {
		return errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Build()
	}

	errors.SetPrivacyScrubber(ScrubMessage)
	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	initialized = true

	log.Info("sentry telemetry initialized",
		logger.String("environment", environment),
		logger.String("release", release))
	return nil
}

// Flush waits for queued events. It returns true when nothing was pending
// or everything was sent in time.
func Flush(timeout time.Duration) bool {
	mu.Lock()
	active := initialized
	mu.Unlock()
	if !active {
		return true
	}
	return sentry.Flush(timeout)
}

// Shutdown flushes and unregisters the errors reporter.
func Shutdown(timeout time.Duration) {
	Flush(timeout)
	mu.Lock()
	defer mu.Unlock()
	errors.SetTelemetryReporter(nil)
	initialized = false
}

var (
	urlQuery    = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	urlUserinfo = regexp.MustCompile(`([a-z][a-z0-9+.-]*://)[^@/\s]+@`)
)

// ScrubMessage removes URL query strings, URL credentials and token-like
// values from s.
func ScrubMessage(s string) string {
	s = urlQuery.ReplaceAllString(s, "$1?[REDACTED]")
	s = urlUserinfo.ReplaceAllString(s, "${1}[REDACTED]@")
	return logger.RedactSensitiveData(s)
}

func beforeSend(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	return applyPrivacyFilters(event)
}

// applyPrivacyFilters drops host and user data and scrubs messages.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}
	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = ScrubMessage(event.Exception[i].Value)
	}
	for _, b := range event.Breadcrumbs {
		b.Message = ScrubMessage(b.Message)
	}
	return event
}
